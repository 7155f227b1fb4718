package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/homecooks/mealmarket/internal/cart"
	"github.com/homecooks/mealmarket/internal/models"
	"github.com/homecooks/mealmarket/internal/orders"
)

var (
	ErrMealNotFound    = errors.New("meal not found")
	ErrMealUnavailable = errors.New("meal is not available")
	ErrForbidden       = errors.New("not allowed")
)

type OrderMetrics interface {
	OrderPlaced()
	OrderFailed(code string)
	StatusChanged(to models.OrderStatus)
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role models.Role
}

type CartView struct {
	Lines []models.CartLine `json:"lines"`
	Total decimal.Decimal   `json:"total"`
}

type CheckoutService struct {
	catalog  Catalog
	sessions *cart.SessionStore
	orders   *orders.Orchestrator
	metrics  OrderMetrics
}

func NewCheckoutService(catalog Catalog, sessions *cart.SessionStore, orch *orders.Orchestrator, metrics OrderMetrics) *CheckoutService {
	return &CheckoutService{
		catalog:  catalog,
		sessions: sessions,
		orders:   orch,
		metrics:  metrics,
	}
}

// AddToCart snapshots the meal as it is in the catalog right now.
func (s *CheckoutService) AddToCart(ctx context.Context, session, mealID string, quantity int) (CartView, error) {
	if session == "" {
		return CartView{}, cart.ErrNoSession
	}
	if quantity <= 0 {
		return CartView{}, fmt.Errorf("%w: %d", cart.ErrInvalidQuantity, quantity)
	}
	meal, err := s.catalog.GetMeal(ctx, mealID)
	if err != nil {
		return CartView{}, fmt.Errorf("load meal: %w", err)
	}
	if meal == nil {
		return CartView{}, ErrMealNotFound
	}
	if !meal.IsAvailable {
		return CartView{}, ErrMealUnavailable
	}
	return s.update(session, func(c *cart.Cart) error {
		return c.AddLine(*meal, quantity)
	})
}

func (s *CheckoutService) AdjustQuantity(session, mealID string, delta int) (CartView, error) {
	return s.update(session, func(c *cart.Cart) error {
		return c.AdjustQuantity(mealID, delta)
	})
}

func (s *CheckoutService) RemoveLine(session, mealID string) (CartView, error) {
	return s.update(session, func(c *cart.Cart) error {
		c.RemoveLine(mealID)
		return nil
	})
}

func (s *CheckoutService) ClearCart(session string) error {
	if session == "" {
		return cart.ErrNoSession
	}
	s.sessions.Drop(session)
	return nil
}

// ViewCart never creates a session.
func (s *CheckoutService) ViewCart(session string) CartView {
	lines := s.sessions.Snapshot(session)
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return CartView{Lines: lines, Total: total}
}

// Checkout places the session's cart as an order while holding the session,
// so no cart change can interleave with the write.
func (s *CheckoutService) Checkout(ctx context.Context, session, customerID, chefID string, deliveryType models.DeliveryType) (*orders.Placement, error) {
	if session == "" {
		return nil, cart.ErrNoSession
	}
	var placed *orders.Placement
	err := s.sessions.With(session, func(c *cart.Cart) error {
		p, err := s.orders.PlaceOrder(ctx, c, chefID, customerID, deliveryType)
		placed = p
		return err
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.OrderFailed(orders.Code(err))
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OrderPlaced()
	}
	return placed, nil
}

// GetOrder returns the order to its customer or its chef.
func (s *CheckoutService) GetOrder(ctx context.Context, orderID string, actor Actor) (*orders.Placement, error) {
	details, err := s.orders.OrderDetails(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !involved(details.Order, actor) {
		return nil, ErrForbidden
	}
	return details, nil
}

// UpdateStatus lets the order's chef drive the order forward and lets the
// customer cancel their own pending order. It returns the order as it stands
// after the change.
func (s *CheckoutService) UpdateStatus(ctx context.Context, orderID string, next models.OrderStatus, actor Actor) (*models.Order, error) {
	details, err := s.orders.OrderDetails(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !involved(details.Order, actor) {
		return nil, ErrForbidden
	}
	if actor.Role == models.RoleCustomer && next != models.OrderStatusCancelled {
		return nil, ErrForbidden
	}
	if err := s.orders.UpdateStatus(ctx, orderID, next, actor.Role); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.StatusChanged(next)
	}
	updated := details.Order
	updated.UpdateState(next)
	return &updated, nil
}

func (s *CheckoutService) update(session string, fn func(*cart.Cart) error) (CartView, error) {
	var view CartView
	err := s.sessions.With(session, func(c *cart.Cart) error {
		if err := fn(c); err != nil {
			return err
		}
		view = viewOf(c)
		return nil
	})
	return view, err
}

func viewOf(c *cart.Cart) CartView {
	return CartView{Lines: c.Lines(), Total: c.Total()}
}

func involved(o models.Order, actor Actor) bool {
	switch actor.Role {
	case models.RoleChef:
		return actor.ID != "" && actor.ID == o.ChefID
	case models.RoleCustomer:
		return actor.ID != "" && actor.ID == o.CustomerID
	}
	return false
}
