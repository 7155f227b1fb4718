// Package geo holds the distance and delivery-time math shared by discovery
// and ordering. Distances use the haversine formula on a spherical Earth.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/homecooks/mealmarket/internal/models"
)

const (
	EarthRadiusKm = 6371.0

	// BasePreparationMinutes covers packing and hand-off before travel starts.
	BasePreparationMinutes = 15
	AverageSpeedKmph       = 30.0
	MaxEstimateMinutes     = 24 * 60
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Unknown is the sentinel distance for candidates whose distance cannot be
// computed. It sorts after every real distance.
var Unknown = math.Inf(1)

func IsUnknown(d float64) bool {
	return math.IsInf(d, 1) || math.IsNaN(d)
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b models.GeoPoint) (float64, error) {
	if !a.Valid() {
		return 0, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, a.Latitude, a.Longitude)
	}
	if !b.Valid() {
		return 0, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, b.Latitude, b.Longitude)
	}
	if a == b {
		return 0, nil
	}

	dLat := degToRad(b.Latitude - a.Latitude)
	dLon := degToRad(b.Longitude - a.Longitude)
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Latitude))*math.Cos(degToRad(b.Latitude))*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h)), nil
}

// EstimatedDeliveryMinutes is non-decreasing in distance and never below
// BasePreparationMinutes. Negative or NaN input counts as zero distance,
// anything past a day of travel is capped.
func EstimatedDeliveryMinutes(distanceKm float64) int {
	if math.IsNaN(distanceKm) || distanceKm < 0 {
		distanceKm = 0
	}
	travel := math.Ceil(distanceKm / AverageSpeedKmph * 60)
	total := float64(BasePreparationMinutes) + travel
	if total > MaxEstimateMinutes {
		return MaxEstimateMinutes
	}
	return int(total)
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}
