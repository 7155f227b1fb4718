package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/homecooks/mealmarket/internal/models"
)

// CatalogRepository reads chefs and meals. The catalog is owned elsewhere;
// this side never writes it.
type CatalogRepository struct {
	store RecordStore
}

func NewCatalogRepository(store RecordStore) *CatalogRepository {
	return &CatalogRepository{store: store}
}

// ListChefs returns every chef with its availability windows attached.
func (r *CatalogRepository) ListChefs(ctx context.Context) ([]models.ChefProfile, error) {
	rows, err := r.store.Query(ctx, TableChefs, Filter{OrderBy: "created_at"})
	if err != nil {
		return nil, fmt.Errorf("list chefs: %w", err)
	}
	windowRows, err := r.store.Query(ctx, TableAvailabilityWindows, Filter{})
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}

	windows := make(map[string][]models.AvailabilityWindow)
	for _, row := range windowRows {
		w, err := windowFromRecord(row)
		if err != nil {
			return nil, err
		}
		windows[w.ChefID] = append(windows[w.ChefID], w)
	}

	chefs := make([]models.ChefProfile, 0, len(rows))
	for _, row := range rows {
		c, err := chefFromRecord(row)
		if err != nil {
			return nil, err
		}
		c.AvailabilityWindows = windows[c.ID]
		chefs = append(chefs, c)
	}
	return chefs, nil
}

// ListMeals returns meals flagged available. Instant eligibility is decided
// later against the clock.
func (r *CatalogRepository) ListMeals(ctx context.Context) ([]models.Meal, error) {
	rows, err := r.store.Query(ctx, TableMeals, Filter{
		Eq:      map[string]any{"is_available": true},
		OrderBy: "created_at",
	})
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	meals := make([]models.Meal, 0, len(rows))
	for _, row := range rows {
		m, err := mealFromRecord(row)
		if err != nil {
			return nil, err
		}
		meals = append(meals, m)
	}
	return meals, nil
}

// GetMeal returns nil when no meal has the id.
func (r *CatalogRepository) GetMeal(ctx context.Context, id string) (*models.Meal, error) {
	rows, err := r.store.Query(ctx, TableMeals, Filter{Eq: map[string]any{"id": id}, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("get meal: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	m, err := mealFromRecord(rows[0])
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func chefFromRecord(rec Record) (models.ChefProfile, error) {
	c := models.ChefProfile{
		ID:               asString(rec["id"]),
		BusinessName:     asString(rec["business_name"]),
		Rating:           asFloatPtr(rec["rating"]),
		DeliveryRadiusKm: models.DefaultDeliveryRadiusKm,
		IsActive:         asBool(rec["is_active"]),
	}
	if radius := asFloatPtr(rec["delivery_radius_km"]); radius != nil && *radius > 0 {
		c.DeliveryRadiusKm = *radius
	}
	lat, lon := asFloatPtr(rec["latitude"]), asFloatPtr(rec["longitude"])
	if lat != nil && lon != nil {
		c.Location = &models.GeoPoint{Latitude: *lat, Longitude: *lon}
	}
	created, err := asTime(rec["created_at"])
	if err != nil {
		return c, fmt.Errorf("chef %s: %w", c.ID, err)
	}
	c.CreatedAt = created
	return c, nil
}

func windowFromRecord(rec Record) (models.AvailabilityWindow, error) {
	day := asInt(rec["day_of_week"])
	if day < 0 || day > 6 {
		return models.AvailabilityWindow{}, fmt.Errorf("availability window %s: day_of_week %d out of range", asString(rec["id"]), day)
	}
	return models.AvailabilityWindow{
		ID:        asString(rec["id"]),
		ChefID:    asString(rec["chef_id"]),
		DayOfWeek: time.Weekday(day),
		StartTime: asString(rec["start_time"]),
		EndTime:   asString(rec["end_time"]),
		IsActive:  asBool(rec["is_active"]),
	}, nil
}

func mealFromRecord(rec Record) (models.Meal, error) {
	m := models.Meal{
		ID:                     asString(rec["id"]),
		ChefID:                 asString(rec["chef_id"]),
		Name:                   asString(rec["name"]),
		IsAvailable:            asBool(rec["is_available"]),
		ReadyNow:               asBool(rec["ready_now"]),
		Servings:               asInt(rec["servings"]),
		PreparationTimeMinutes: asInt(rec["preparation_time_minutes"]),
	}
	price, err := asDecimal(rec["price"])
	if err != nil {
		return m, fmt.Errorf("meal %s price: %w", m.ID, err)
	}
	m.Price = price
	if m.ReadyUntil, err = asTimePtr(rec["ready_until"]); err != nil {
		return m, fmt.Errorf("meal %s: %w", m.ID, err)
	}
	if m.CreatedAt, err = asTime(rec["created_at"]); err != nil {
		return m, fmt.Errorf("meal %s: %w", m.ID, err)
	}
	return m, nil
}

// MealRecord is the row shape of a meal; used for seeding and tests.
func MealRecord(m models.Meal) Record {
	rec := Record{
		"id":                       m.ID,
		"chef_id":                  m.ChefID,
		"name":                     m.Name,
		"price":                    m.Price,
		"is_available":             m.IsAvailable,
		"ready_now":                m.ReadyNow,
		"ready_until":              nil,
		"servings":                 m.Servings,
		"preparation_time_minutes": m.PreparationTimeMinutes,
		"created_at":               m.CreatedAt.UTC(),
	}
	if m.ReadyUntil != nil {
		rec["ready_until"] = m.ReadyUntil.UTC()
	}
	return rec
}

// ChefRecord is the row shape of a chef, without its windows.
func ChefRecord(c models.ChefProfile) Record {
	rec := Record{
		"id":                 c.ID,
		"business_name":      c.BusinessName,
		"latitude":           nil,
		"longitude":          nil,
		"rating":             nil,
		"delivery_radius_km": c.DeliveryRadiusKm,
		"is_active":          c.IsActive,
		"created_at":         c.CreatedAt.UTC(),
	}
	if c.Location != nil {
		rec["latitude"] = c.Location.Latitude
		rec["longitude"] = c.Location.Longitude
	}
	if c.Rating != nil {
		rec["rating"] = *c.Rating
	}
	return rec
}

func WindowRecord(w models.AvailabilityWindow) Record {
	rec := Record{
		"chef_id":     w.ChefID,
		"day_of_week": int(w.DayOfWeek),
		"start_time":  w.StartTime,
		"end_time":    w.EndTime,
		"is_active":   w.IsActive,
	}
	if w.ID != "" {
		rec["id"] = w.ID
	}
	return rec
}
