package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/homecooks/mealmarket/internal/geo"
	"github.com/homecooks/mealmarket/internal/models"
)

// Provider resolves a customer's last known location. A nil point with a nil
// error means the location is not known.
type Provider interface {
	Get(ctx context.Context, customerID string) (*models.GeoPoint, error)
}

type RedisProvider struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisProvider stores locations under customer:<id>. Entries expire after
// ttl; zero keeps them forever.
func NewRedisProvider(rdb *redis.Client, ttl time.Duration) *RedisProvider {
	return &RedisProvider{rdb: rdb, ttl: ttl}
}

func key(customerID string) string {
	return "customer:" + customerID
}

func (p *RedisProvider) Get(ctx context.Context, customerID string) (*models.GeoPoint, error) {
	if customerID == "" {
		return nil, nil
	}
	vals, err := p.rdb.HMGet(ctx, key(customerID), "latitude", "longitude").Result()
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	lat, okLat := parseCoord(vals[0])
	lon, okLon := parseCoord(vals[1])
	if !okLat || !okLon {
		return nil, nil
	}
	pt := &models.GeoPoint{Latitude: lat, Longitude: lon}
	if !pt.Valid() {
		return nil, nil
	}
	return pt, nil
}

func (p *RedisProvider) Set(ctx context.Context, customerID string, pt models.GeoPoint) error {
	if customerID == "" {
		return errors.New("set location: customer id is required")
	}
	if !pt.Valid() {
		return geo.ErrInvalidCoordinate
	}
	k := key(customerID)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, k,
		"latitude", strconv.FormatFloat(pt.Latitude, 'f', -1, 64),
		"longitude", strconv.FormatFloat(pt.Longitude, 'f', -1, 64),
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	)
	if p.ttl > 0 {
		pipe.Expire(ctx, k, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set location: %w", err)
	}
	return nil
}

func parseCoord(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
