package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/homecooks/mealmarket/internal/availability"
	"github.com/homecooks/mealmarket/internal/geo"
	"github.com/homecooks/mealmarket/internal/location"
	"github.com/homecooks/mealmarket/internal/models"
	"github.com/homecooks/mealmarket/internal/ranking"
)

type Catalog interface {
	ListChefs(ctx context.Context) ([]models.ChefProfile, error)
	ListMeals(ctx context.Context) ([]models.Meal, error)
	GetMeal(ctx context.Context, id string) (*models.Meal, error)
}

type DiscoveryObserver interface {
	ObserveDiscovery(mode string, elapsed time.Duration)
}

// Query describes one discovery request. Location, when set, wins over the
// customer's stored location.
type Query struct {
	CustomerID string
	Location   *models.GeoPoint
	Strategy   ranking.Strategy
	RadiusKm   float64
}

// Result is one ranked entity. DistanceKm and EstimatedDeliveryMinutes are
// nil when the distance is unknown.
type Result[T any] struct {
	Entity                   T        `json:"entity"`
	DistanceKm               *float64 `json:"distance_km"`
	EstimatedDeliveryMinutes *int     `json:"estimated_delivery_minutes"`
}

type DiscoveryService struct {
	catalog   Catalog
	locations location.Provider
	filter    *availability.Filter
	observer  DiscoveryObserver
}

func NewDiscoveryService(catalog Catalog, locations location.Provider, filter *availability.Filter, observer DiscoveryObserver) *DiscoveryService {
	return &DiscoveryService{
		catalog:   catalog,
		locations: locations,
		filter:    filter,
		observer:  observer,
	}
}

// Instant lists meals ready to order now, ranked by q.Strategy. A query
// radius may narrow the platform radius but never widen it.
func (s *DiscoveryService) Instant(ctx context.Context, q Query) ([]Result[models.MealOffer], error) {
	defer s.observe("instant", time.Now())

	radius := s.filter.MaxRadiusKm()
	if q.RadiusKm > 0 && q.RadiusKm < radius {
		radius = q.RadiusKm
	}
	meals, err := s.catalog.ListMeals(ctx)
	if err != nil {
		return nil, fmt.Errorf("load meals: %w", err)
	}
	chefs, err := s.catalog.ListChefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chefs: %w", err)
	}

	candidates, err := s.filter.Instant(meals, chefs, s.resolveLocation(ctx, q), radius)
	if err != nil {
		return nil, err
	}
	return toResults(ranking.Sort(candidates, q.Strategy)), nil
}

// Scheduled lists chefs that cook on date's weekday.
func (s *DiscoveryService) Scheduled(ctx context.Context, q Query, date time.Time) ([]Result[models.ChefProfile], error) {
	defer s.observe("scheduled", time.Now())

	chefs, err := s.catalog.ListChefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chefs: %w", err)
	}
	candidates, err := s.filter.Scheduled(chefs, date, s.resolveLocation(ctx, q))
	if err != nil {
		return nil, err
	}
	return toResults(ranking.Sort(candidates, q.Strategy)), nil
}

// resolveLocation never fails: a provider error leaves the location unknown.
func (s *DiscoveryService) resolveLocation(ctx context.Context, q Query) *models.GeoPoint {
	if q.Location != nil {
		return q.Location
	}
	if s.locations == nil || q.CustomerID == "" {
		return nil
	}
	pt, err := s.locations.Get(ctx, q.CustomerID)
	if err != nil {
		log.Printf("discovery: location for %s unavailable: %v", q.CustomerID, err)
		return nil
	}
	return pt
}

func (s *DiscoveryService) observe(mode string, start time.Time) {
	if s.observer != nil {
		s.observer.ObserveDiscovery(mode, time.Since(start))
	}
}

func toResults[T ranking.Rankable](candidates []ranking.Candidate[T]) []Result[T] {
	out := make([]Result[T], 0, len(candidates))
	for _, c := range candidates {
		r := Result[T]{Entity: c.Entity}
		if !geo.IsUnknown(c.DistanceKm) {
			d := c.DistanceKm
			eta := geo.EstimatedDeliveryMinutes(d)
			r.DistanceKm = &d
			r.EstimatedDeliveryMinutes = &eta
		}
		out = append(out, r)
	}
	return out
}
