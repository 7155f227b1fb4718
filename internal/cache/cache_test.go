package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homecooks/mealmarket/internal/models"
)

type countingSource struct {
	chefLoads, mealLoads, mealReads int
	meals                           []models.Meal
	err                             error
}

func (s *countingSource) ListChefs(context.Context) ([]models.ChefProfile, error) {
	s.chefLoads++
	return []models.ChefProfile{{ID: "chef-1"}}, s.err
}

func (s *countingSource) ListMeals(context.Context) ([]models.Meal, error) {
	s.mealLoads++
	return s.meals, s.err
}

func (s *countingSource) GetMeal(_ context.Context, id string) (*models.Meal, error) {
	s.mealReads++
	return &models.Meal{ID: id}, nil
}

func TestCatalogCacheServesWithinTTL(t *testing.T) {
	src := &countingSource{meals: []models.Meal{{ID: "soup"}}}
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c := NewCatalogCache(src, time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	meals, err := c.ListMeals(ctx)
	require.NoError(t, err)
	assert.Len(t, meals, 1)
	_, err = c.ListChefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.chefLoads)
	assert.Equal(t, 1, src.mealLoads)

	src.meals = append(src.meals, models.Meal{ID: "pie"})
	now = now.Add(30 * time.Second)
	meals, err = c.ListMeals(ctx)
	require.NoError(t, err)
	assert.Len(t, meals, 1, "still cached")

	now = now.Add(time.Minute)
	meals, err = c.ListMeals(ctx)
	require.NoError(t, err)
	assert.Len(t, meals, 2)
	assert.Equal(t, 2, src.mealLoads)
}

func TestCatalogCacheGetMealReadsThrough(t *testing.T) {
	src := &countingSource{}
	c := NewCatalogCache(src, time.Hour)
	for i := 0; i < 3; i++ {
		m, err := c.GetMeal(context.Background(), "soup")
		require.NoError(t, err)
		assert.Equal(t, "soup", m.ID)
	}
	assert.Equal(t, 3, src.mealReads)
}

func TestCatalogCacheRefreshError(t *testing.T) {
	boom := errors.New("store down")
	c := NewCatalogCache(&countingSource{err: boom}, time.Minute)
	_, err := c.ListMeals(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCatalogCacheReturnsCopies(t *testing.T) {
	c := NewCatalogCache(&countingSource{meals: []models.Meal{{ID: "soup"}}}, time.Hour)
	first, err := c.ListMeals(context.Background())
	require.NoError(t, err)
	first[0].ID = "changed"
	second, err := c.ListMeals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "soup", second[0].ID)
}
