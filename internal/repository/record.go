package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	TableChefs               = "chefs"
	TableAvailabilityWindows = "availability_windows"
	TableMeals               = "meals"
	TableOrders              = "orders"
	TableOrderLineItems      = "order_line_items"
	TableOrderEvents         = "order_events"
)

var (
	ErrNoRows            = errors.New("no rows matched")
	ErrTxUnsupported     = errors.New("store does not support transactions")
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Record is one row keyed by column name.
type Record map[string]any

// Filter selects rows by column equality. A nil value matches NULL.
type Filter struct {
	Eq      map[string]any
	OrderBy string
	Desc    bool
	Limit   int
}

// RecordStore is the generic table store the marketplace runs on.
type RecordStore interface {
	Query(ctx context.Context, table string, f Filter) ([]Record, error)
	// Insert stores rec and returns the stored row. The store assigns "id"
	// when rec has none.
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	// Update applies patch to the row with the given id that also matches
	// guard. ErrNoRows is returned when no row matched.
	Update(ctx context.Context, table, id string, patch Record, guard Filter) error
}

type Transactional interface {
	WithTx(ctx context.Context, fn func(RecordStore) error) error
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	case []byte:
		b, _ := strconv.ParseBool(string(t))
		return b
	}
	return false
}

func asFloatPtr(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case decimal.Decimal:
		f = t.InexactFloat64()
	case primitive.Decimal128:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil
		}
		f = d.InexactFloat64()
	case string, []byte:
		parsed, err := strconv.ParseFloat(asString(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func asFloat(v any) float64 {
	if f := asFloatPtr(v); f != nil {
		return *f
	}
	return 0
}

func asInt(v any) int {
	return int(asFloat(v))
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return t, nil
	case primitive.Decimal128:
		return decimal.NewFromString(t.String())
	case float64:
		return decimal.NewFromFloat(t), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case string, []byte:
		return decimal.NewFromString(asString(t))
	}
	return decimal.Zero, fmt.Errorf("cannot read %T as decimal", v)
}

func asTimePtr(v any) (*time.Time, error) {
	var t time.Time
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t = x
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		t = *x
	case primitive.DateTime:
		t = x.Time()
	case string, []byte:
		s := asString(x)
		if s == "" {
			return nil, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", s, err)
		}
		t = parsed
	default:
		return nil, fmt.Errorf("cannot read %T as time", v)
	}
	t = t.UTC()
	return &t, nil
}

func asTime(v any) (time.Time, error) {
	t, err := asTimePtr(v)
	if err != nil || t == nil {
		return time.Time{}, err
	}
	return *t, nil
}
