package location_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homecooks/mealmarket/internal/geo"
	"github.com/homecooks/mealmarket/internal/location"
	"github.com/homecooks/mealmarket/internal/models"
)

func newProvider(t *testing.T, ttl time.Duration) (*location.RedisProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return location.NewRedisProvider(rdb, ttl), mr
}

func TestSetAndGet(t *testing.T) {
	p, mr := newProvider(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "cust-1", models.GeoPoint{Latitude: 41.0, Longitude: 29.0}))
	pt, err := p.Get(ctx, "cust-1")
	require.NoError(t, err)
	require.NotNil(t, pt)
	assert.Equal(t, 41.0, pt.Latitude)
	assert.Equal(t, 29.0, pt.Longitude)

	assert.Equal(t, "41", mr.HGet("customer:cust-1", "latitude"))
	assert.Equal(t, time.Hour, mr.TTL("customer:cust-1"))
}

func TestGetUnknown(t *testing.T) {
	p, mr := newProvider(t, 0)
	ctx := context.Background()

	pt, err := p.Get(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, pt)

	pt, err = p.Get(ctx, "")
	assert.NoError(t, err)
	assert.Nil(t, pt)

	mr.HSet("customer:half", "latitude", "41")
	pt, err = p.Get(ctx, "half")
	assert.NoError(t, err)
	assert.Nil(t, pt)

	mr.HSet("customer:junk", "latitude", "north", "longitude", "29")
	pt, err = p.Get(ctx, "junk")
	assert.NoError(t, err)
	assert.Nil(t, pt)
}

func TestSetRejectsInvalid(t *testing.T) {
	p, _ := newProvider(t, 0)
	err := p.Set(context.Background(), "cust-1", models.GeoPoint{Latitude: 91, Longitude: 0})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
	assert.Error(t, p.Set(context.Background(), "", models.GeoPoint{}))
}

func TestGetSurfacesRedisErrors(t *testing.T) {
	p, mr := newProvider(t, 0)
	mr.Close()
	_, err := p.Get(context.Background(), "cust-1")
	assert.Error(t, err)
}
