package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/homecooks/mealmarket/internal/geo"
	"github.com/homecooks/mealmarket/internal/models"
	"github.com/homecooks/mealmarket/internal/ranking"
)

// DefaultMaxRadiusKm is the platform-wide reach. A chef's own
// DeliveryRadiusKm is display-only and never narrows results.
const DefaultMaxRadiusKm = 50.0

var ErrInvalidDate = errors.New("invalid date")

type Filter struct {
	maxRadiusKm float64
	now         func() time.Time
}

func New(maxRadiusKm float64) *Filter {
	if maxRadiusKm <= 0 {
		maxRadiusKm = DefaultMaxRadiusKm
	}
	return &Filter{maxRadiusKm: maxRadiusKm, now: time.Now}
}

// WithClock replaces the time source, for tests and replays.
func (f *Filter) WithClock(now func() time.Time) *Filter {
	f.now = now
	return f
}

func (f *Filter) MaxRadiusKm() float64 {
	return f.maxRadiusKm
}

// Instant returns meals that can be ordered right now. maxRadiusKm <= 0 uses
// the filter's configured radius. When userLocation is nil every eligible
// meal is returned with an unknown distance.
func (f *Filter) Instant(meals []models.Meal, chefs []models.ChefProfile, userLocation *models.GeoPoint, maxRadiusKm float64) ([]ranking.Candidate[models.MealOffer], error) {
	if userLocation != nil && !userLocation.Valid() {
		return nil, fmt.Errorf("user location: %w", geo.ErrInvalidCoordinate)
	}
	if maxRadiusKm <= 0 {
		maxRadiusKm = f.maxRadiusKm
	}

	byID := make(map[string]models.ChefProfile, len(chefs))
	for _, c := range chefs {
		byID[c.ID] = c
	}

	now := f.now()
	out := make([]ranking.Candidate[models.MealOffer], 0)
	for _, m := range meals {
		if !m.InstantEligible(now) {
			continue
		}
		chef, ok := byID[m.ChefID]
		if !ok {
			continue
		}
		d := distance(userLocation, chef.Location)
		if !geo.IsUnknown(d) && d > maxRadiusKm {
			continue
		}
		out = append(out, ranking.Candidate[models.MealOffer]{
			Entity:     models.MealOffer{Meal: m, Chef: chef},
			DistanceKm: d,
		})
	}
	return out, nil
}

// Scheduled returns active chefs with an active availability window on the
// weekday of date. Dates before today, in date's own location, are rejected.
func (f *Filter) Scheduled(chefs []models.ChefProfile, date time.Time, userLocation *models.GeoPoint) ([]ranking.Candidate[models.ChefProfile], error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidDate)
	}
	if beforeToday(date, f.now()) {
		return nil, fmt.Errorf("%w: %s is in the past", ErrInvalidDate, date.Format(time.DateOnly))
	}
	if userLocation != nil && !userLocation.Valid() {
		return nil, fmt.Errorf("user location: %w", geo.ErrInvalidCoordinate)
	}

	day := date.Weekday()
	out := make([]ranking.Candidate[models.ChefProfile], 0)
	for _, c := range chefs {
		if !c.IsActive || !c.AvailableOn(day) {
			continue
		}
		d := distance(userLocation, c.Location)
		if !geo.IsUnknown(d) && d > f.maxRadiusKm {
			continue
		}
		out = append(out, ranking.Candidate[models.ChefProfile]{Entity: c, DistanceKm: d})
	}
	return out, nil
}

// distance degrades to geo.Unknown when either side is missing or holds
// out-of-range coordinates.
func distance(user, chef *models.GeoPoint) float64 {
	if user == nil || chef == nil {
		return geo.Unknown
	}
	d, err := geo.DistanceKm(*user, *chef)
	if err != nil {
		return geo.Unknown
	}
	return d
}

func beforeToday(date, now time.Time) bool {
	now = now.In(date.Location())
	y1, m1, d1 := date.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 {
		return y1 < y2
	}
	if m1 != m2 {
		return m1 < m2
	}
	return d1 < d2
}
