package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/homecooks/mealmarket/internal/availability"
	"github.com/homecooks/mealmarket/internal/cart"
	"github.com/homecooks/mealmarket/internal/geo"
	"github.com/homecooks/mealmarket/internal/orders"
	"github.com/homecooks/mealmarket/internal/ranking"
	"github.com/homecooks/mealmarket/internal/service"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	OrderID          string `json:"order_id,omitempty"`
	LineItemsWritten *int   `json:"line_items_written,omitempty"`
}

var badRequests = []struct {
	err  error
	code string
}{
	{errBadRequest, "bad_request"},
	{cart.ErrNoSession, "no_session"},
	{cart.ErrInvalidQuantity, "invalid_quantity"},
	{cart.ErrInvalidMeal, "invalid_meal"},
	{geo.ErrInvalidCoordinate, "invalid_coordinate"},
	{availability.ErrInvalidDate, "invalid_date"},
	{ranking.ErrUnknownStrategy, "unknown_strategy"},
}

// httpStatus maps an error to its status code and wire code.
func httpStatus(err error) (int, string) {
	for _, b := range badRequests {
		if errors.Is(err, b.err) {
			return http.StatusBadRequest, b.code
		}
	}
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrMealNotFound):
		return http.StatusNotFound, "meal_not_found"
	case errors.Is(err, service.ErrMealUnavailable):
		return http.StatusConflict, "meal_unavailable"
	}

	var oe *orders.OrderError
	if !errors.As(err, &oe) {
		return http.StatusInternalServerError, "internal"
	}
	switch {
	case errors.Is(err, orders.ErrUnauthenticated):
		return http.StatusUnauthorized, oe.Code()
	case errors.Is(err, orders.ErrEmptyCart),
		errors.Is(err, orders.ErrMixedChefs),
		errors.Is(err, orders.ErrChefRequired),
		errors.Is(err, orders.ErrInvalidDeliveryType):
		return http.StatusBadRequest, oe.Code()
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, oe.Code()
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, oe.Code()
	case errors.Is(err, orders.ErrTimeout):
		return http.StatusGatewayTimeout, oe.Code()
	case errors.Is(err, orders.ErrOrderCreateFailed),
		errors.Is(err, orders.ErrLineItemsPartiallyFailed),
		errors.Is(err, orders.ErrStoreFailure):
		return http.StatusBadGateway, oe.Code()
	}
	return http.StatusInternalServerError, oe.Code()
}

func writeError(w http.ResponseWriter, err error) {
	status, code := httpStatus(err)
	resp := errorResponse{Error: code, Message: err.Error()}
	var oe *orders.OrderError
	if errors.As(err, &oe) && oe.OrderID != "" {
		resp.OrderID = oe.OrderID
		if errors.Is(err, orders.ErrLineItemsPartiallyFailed) {
			written := oe.Written
			resp.LineItemsWritten = &written
		}
	}
	if status >= http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeJSON(w, status, resp)
}
