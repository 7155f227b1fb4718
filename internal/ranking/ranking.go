package ranking

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/homecooks/mealmarket/internal/geo"
)

type Strategy string

const (
	Nearest      Strategy = "nearest"
	HighestRated Strategy = "highest_rated"
	Newest       Strategy = "newest"
)

var ErrUnknownStrategy = errors.New("unknown ranking strategy")

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return Nearest, nil
	case Nearest, HighestRated, Newest:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStrategy, s)
}

type Rankable interface {
	RankRating() float64
	RankCreatedAt() time.Time
}

// Candidate is an entity with its distance from the user. DistanceKm holds
// geo.Unknown when the distance could not be computed.
type Candidate[T Rankable] struct {
	Entity     T
	DistanceKm float64
}

// Sort returns a stably sorted copy of candidates. An empty or unknown
// strategy sorts as Nearest.
func Sort[T Rankable](candidates []Candidate[T], strategy Strategy) []Candidate[T] {
	out := slices.Clone(candidates)
	if out == nil {
		out = []Candidate[T]{}
	}
	switch strategy {
	case HighestRated:
		slices.SortStableFunc(out, func(a, b Candidate[T]) int {
			ra, rb := a.Entity.RankRating(), b.Entity.RankRating()
			switch {
			case ra > rb:
				return -1
			case ra < rb:
				return 1
			}
			return 0
		})
	case Newest:
		slices.SortStableFunc(out, func(a, b Candidate[T]) int {
			return b.Entity.RankCreatedAt().Compare(a.Entity.RankCreatedAt())
		})
	default:
		slices.SortStableFunc(out, func(a, b Candidate[T]) int {
			return compareDistance(a.DistanceKm, b.DistanceKm)
		})
	}
	return out
}

func Rank[T Rankable](candidates []Candidate[T], strategy Strategy) []T {
	sorted := Sort(candidates, strategy)
	out := make([]T, len(sorted))
	for i, c := range sorted {
		out[i] = c.Entity
	}
	return out
}

// compareDistance orders ascending with unknown distances last.
func compareDistance(a, b float64) int {
	ua, ub := geo.IsUnknown(a), geo.IsUnknown(b)
	switch {
	case ua && ub:
		return 0
	case ua:
		return 1
	case ub:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
