package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultChefRating       = 5.0
	DefaultDeliveryRadiusKm = 5.0
)

type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p GeoPoint) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

type AvailabilityWindow struct {
	ID        string       `json:"id"`
	ChefID    string       `json:"chef_id"`
	DayOfWeek time.Weekday `json:"day_of_week"`
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time"`
	IsActive  bool         `json:"is_active"`
}

// ChefProfile is read-only to the core. Location is nil until the chef sets
// coordinates; Rating is nil when no reviews exist yet.
type ChefProfile struct {
	ID                  string               `json:"id"`
	BusinessName        string               `json:"business_name"`
	Location            *GeoPoint            `json:"location,omitempty"`
	Rating              *float64             `json:"rating,omitempty"`
	DeliveryRadiusKm    float64              `json:"delivery_radius_km"`
	IsActive            bool                 `json:"is_active"`
	AvailabilityWindows []AvailabilityWindow `json:"availability_windows"`
	CreatedAt           time.Time            `json:"created_at"`
}

// DisplayRating is the rating shown to customers.
func (c ChefProfile) DisplayRating() float64 {
	if c.Rating == nil {
		return DefaultChefRating
	}
	return *c.Rating
}

// RankRating treats a missing rating as 0 so unrated chefs never outrank
// rated ones.
func (c ChefProfile) RankRating() float64 {
	if c.Rating == nil {
		return 0
	}
	return *c.Rating
}

func (c ChefProfile) RankCreatedAt() time.Time {
	return c.CreatedAt
}

func (c ChefProfile) AvailableOn(day time.Weekday) bool {
	for _, w := range c.AvailabilityWindows {
		if w.IsActive && w.DayOfWeek == day {
			return true
		}
	}
	return false
}

type Meal struct {
	ID                     string          `json:"id"`
	ChefID                 string          `json:"chef_id"`
	Name                   string          `json:"name"`
	Price                  decimal.Decimal `json:"price"`
	IsAvailable            bool            `json:"is_available"`
	ReadyNow               bool            `json:"ready_now"`
	ReadyUntil             *time.Time      `json:"ready_until,omitempty"`
	Servings               int             `json:"servings"`
	PreparationTimeMinutes int             `json:"preparation_time_minutes"`
	CreatedAt              time.Time       `json:"created_at"`
}

func (m Meal) InstantEligible(now time.Time) bool {
	return m.IsAvailable && m.ReadyNow && m.ReadyUntil != nil && m.ReadyUntil.After(now)
}

// MealOffer pairs a meal with the chef that cooks it.
type MealOffer struct {
	Meal Meal        `json:"meal"`
	Chef ChefProfile `json:"chef"`
}

func (o MealOffer) RankRating() float64 {
	return o.Chef.RankRating()
}

func (o MealOffer) RankCreatedAt() time.Time {
	return o.Meal.CreatedAt
}

// CartLine holds a snapshot of the meal taken when it was added.
type CartLine struct {
	MealID   string          `json:"meal_id"`
	ChefID   string          `json:"chef_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
