package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthenticated          = errors.New("customer must be logged in to order")
	ErrEmptyCart                = errors.New("cart is empty")
	ErrMixedChefs               = errors.New("cart holds meals from more than one chef")
	ErrChefRequired             = errors.New("order has no chef")
	ErrInvalidDeliveryType      = errors.New("invalid delivery type")
	ErrOrderCreateFailed        = errors.New("order create failed")
	ErrLineItemsPartiallyFailed = errors.New("order line items partially failed")
	ErrTimeout                  = errors.New("order store call timed out")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrOrderNotFound            = errors.New("order not found")
	ErrStoreFailure             = errors.New("order store failure")
)

var codes = map[error]string{
	ErrUnauthenticated:          "unauthenticated",
	ErrEmptyCart:                "empty_cart",
	ErrMixedChefs:               "mixed_chefs",
	ErrChefRequired:             "chef_required",
	ErrInvalidDeliveryType:      "invalid_delivery_type",
	ErrOrderCreateFailed:        "order_create_failed",
	ErrLineItemsPartiallyFailed: "line_items_partially_failed",
	ErrTimeout:                  "timeout",
	ErrInvalidTransition:        "invalid_transition",
	ErrOrderNotFound:            "order_not_found",
	ErrStoreFailure:             "store_failure",
}

// OrderError is the single failure outcome of an orchestrator call. Kind is
// one of the package sentinels. OrderID and Written are set when an order row
// exists without all of its line items.
type OrderError struct {
	Kind    error
	OrderID string
	Written int
	Timeout bool
	Err     error
}

func (e *OrderError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	switch {
	case e.Kind == ErrLineItemsPartiallyFailed:
		sb.WriteString(fmt.Sprintf(" (order %s, %d line items written)", e.OrderID, e.Written))
	case e.OrderID != "":
		sb.WriteString(fmt.Sprintf(" (order %s)", e.OrderID))
	}
	if e.Timeout && e.Kind != ErrTimeout {
		sb.WriteString(": timed out")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Is matches the kind, and ErrTimeout for any timed out call.
func (e *OrderError) Is(target error) bool {
	return target == e.Kind || (e.Timeout && target == ErrTimeout)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

func (e *OrderError) Code() string {
	if c, ok := codes[e.Kind]; ok {
		return c
	}
	return "internal"
}

// Code returns the failure code of err, or "internal" for foreign errors.
func Code(err error) string {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Code()
	}
	return "internal"
}

func newError(kind error) *OrderError {
	return &OrderError{Kind: kind}
}
