package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/homecooks/mealmarket/internal/models"
)

// Source is the catalog the cache reads through to.
type Source interface {
	ListChefs(ctx context.Context) ([]models.ChefProfile, error)
	ListMeals(ctx context.Context) ([]models.Meal, error)
	GetMeal(ctx context.Context, id string) (*models.Meal, error)
}

// CatalogCache keeps the chef and meal listings for ttl. Single meal reads
// always go to the source so carts snapshot current prices.
type CatalogCache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	chefs    []models.ChefProfile
	meals    []models.Meal
	loadedAt time.Time
}

func NewCatalogCache(source Source, ttl time.Duration) *CatalogCache {
	return &CatalogCache{source: source, ttl: ttl, now: time.Now}
}

func (c *CatalogCache) Refresh(ctx context.Context) error {
	chefs, err := c.source.ListChefs(ctx)
	if err != nil {
		return fmt.Errorf("refresh chefs: %w", err)
	}
	meals, err := c.source.ListMeals(ctx)
	if err != nil {
		return fmt.Errorf("refresh meals: %w", err)
	}
	c.mu.Lock()
	c.chefs = chefs
	c.meals = meals
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}

func (c *CatalogCache) snapshot(ctx context.Context) ([]models.ChefProfile, []models.Meal, error) {
	c.mu.RLock()
	fresh := !c.loadedAt.IsZero() && c.now().Sub(c.loadedAt) < c.ttl
	chefs, meals := c.chefs, c.meals
	c.mu.RUnlock()
	if fresh {
		return chefs, meals, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chefs, c.meals, nil
}

// ListChefs returns a copy of the cached slice; the profiles inside are
// shared and must not be mutated.
func (c *CatalogCache) ListChefs(ctx context.Context) ([]models.ChefProfile, error) {
	chefs, _, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return append([]models.ChefProfile(nil), chefs...), nil
}

func (c *CatalogCache) ListMeals(ctx context.Context) ([]models.Meal, error) {
	_, meals, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return append([]models.Meal(nil), meals...), nil
}

func (c *CatalogCache) GetMeal(ctx context.Context, id string) (*models.Meal, error) {
	return c.source.GetMeal(ctx, id)
}

func (c *CatalogCache) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				log.Printf("catalog cache: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
