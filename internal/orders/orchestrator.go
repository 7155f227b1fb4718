package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/homecooks/mealmarket/internal/cart"
	"github.com/homecooks/mealmarket/internal/models"
	"github.com/homecooks/mealmarket/internal/repository"
)

const DefaultCallTimeout = 5 * time.Second

type Repository interface {
	repository.OrderStore
	SupportsTx() bool
	WithinTx(ctx context.Context, fn func(repository.OrderStore) error) error
}

// TransitionRecorder is told about every applied status change.
type TransitionRecorder interface {
	RecordTransition(orderID string, from, to models.OrderStatus, actor models.Role)
}

type Orchestrator struct {
	repo        Repository
	callTimeout time.Duration
	atomic      bool
	recorder    TransitionRecorder
	now         func() time.Time
}

type Option func(*Orchestrator)

func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithAtomic turns the single-transaction write path on or off. It only takes
// effect when the repository supports transactions.
func WithAtomic(atomic bool) Option {
	return func(o *Orchestrator) { o.atomic = atomic }
}

func WithTransitionRecorder(r TransitionRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func New(repo Repository, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:        repo,
		callTimeout: DefaultCallTimeout,
		atomic:      true,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Atomic reports whether orders are written in one transaction.
func (o *Orchestrator) Atomic() bool {
	return o.atomic && o.repo.SupportsTx()
}

type Placement struct {
	Order     models.Order           `json:"order"`
	LineItems []models.OrderLineItem `json:"line_items"`
}

// PlaceOrder writes the cart as one order with its line items and clears the
// cart on success. chefID may be empty, in which case the cart's chef is
// used. On failure the cart is left untouched.
func (o *Orchestrator) PlaceOrder(ctx context.Context, c *cart.Cart, chefID, customerID string, deliveryType models.DeliveryType) (*Placement, error) {
	if customerID == "" {
		return nil, newError(ErrUnauthenticated)
	}
	if c == nil || c.IsEmpty() {
		return nil, newError(ErrEmptyCart)
	}
	if !deliveryType.Valid() {
		return nil, newError(ErrInvalidDeliveryType)
	}
	lines := c.Lines()
	chefID, err := resolveChef(chefID, lines)
	if err != nil {
		return nil, err
	}

	order := models.Order{
		CustomerID:   customerID,
		ChefID:       chefID,
		TotalAmount:  c.Total(),
		DeliveryType: deliveryType,
		Status:       models.OrderStatusPending,
	}

	var placed *Placement
	if o.Atomic() {
		placed, err = o.placeAtomic(ctx, order, lines)
	} else {
		placed, err = o.placeTwoPhase(ctx, order, lines)
	}
	if err != nil {
		return nil, err
	}
	c.Clear()
	return placed, nil
}

func (o *Orchestrator) placeAtomic(ctx context.Context, order models.Order, lines []models.CartLine) (*Placement, error) {
	var placed *Placement
	err := o.repo.WithinTx(ctx, func(tx repository.OrderStore) error {
		var created models.Order
		err := o.call(ctx, func(ctx context.Context) error {
			var err error
			created, err = tx.InsertOrder(ctx, order)
			return err
		})
		if err != nil {
			return err
		}
		items := make([]models.OrderLineItem, 0, len(lines))
		for _, line := range lines {
			var item models.OrderLineItem
			err := o.call(ctx, func(ctx context.Context) error {
				var err error
				item, err = tx.InsertLineItem(ctx, lineItem(created.ID, line))
				return err
			})
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		err = o.call(ctx, func(ctx context.Context) error {
			return tx.InsertEvent(ctx, o.event(models.OrderEventPlaced, created, created.Status))
		})
		if err != nil {
			return err
		}
		placed = &Placement{Order: created, LineItems: items}
		return nil
	})
	if err != nil {
		return nil, createFailed(err)
	}
	return placed, nil
}

func (o *Orchestrator) placeTwoPhase(ctx context.Context, order models.Order, lines []models.CartLine) (*Placement, error) {
	var created models.Order
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		created, err = o.repo.InsertOrder(ctx, order)
		return err
	})
	if err != nil {
		return nil, createFailed(err)
	}

	// The order row exists now; finish the sequence even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	items := make([]models.OrderLineItem, 0, len(lines))
	for _, line := range lines {
		var item models.OrderLineItem
		err := o.call(ctx, func(ctx context.Context) error {
			var err error
			item, err = o.repo.InsertLineItem(ctx, lineItem(created.ID, line))
			return err
		})
		if err != nil {
			log.Printf("place order %s: line item %s failed after %d of %d written: %v",
				created.ID, line.MealID, len(items), len(lines), err)
			return nil, &OrderError{
				Kind:    ErrLineItemsPartiallyFailed,
				OrderID: created.ID,
				Written: len(items),
				Timeout: isTimeout(err),
				Err:     err,
			}
		}
		items = append(items, item)
	}

	err = o.call(ctx, func(ctx context.Context) error {
		return o.repo.InsertEvent(ctx, o.event(models.OrderEventPlaced, created, created.Status))
	})
	if err != nil {
		log.Printf("place order %s: queue order event: %v", created.ID, err)
	}
	return &Placement{Order: created, LineItems: items}, nil
}

// UpdateStatus applies one state machine step. The write only lands if the
// order is still in the status that was checked.
func (o *Orchestrator) UpdateStatus(ctx context.Context, orderID string, next models.OrderStatus, actor models.Role) error {
	if orderID == "" {
		return newError(ErrOrderNotFound)
	}
	if !next.Valid() {
		return &OrderError{Kind: ErrInvalidTransition, OrderID: orderID}
	}

	var current *models.Order
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		current, err = o.repo.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return storeFailed(err)
	}
	if current == nil {
		return newError(ErrOrderNotFound)
	}
	from := current.Status
	if !from.CanTransitionTo(next) {
		return &OrderError{Kind: ErrInvalidTransition, OrderID: orderID}
	}
	ev := o.event(models.OrderEventStatusChanged, *current, next)

	if o.Atomic() {
		err = o.repo.WithinTx(ctx, func(tx repository.OrderStore) error {
			err := o.call(ctx, func(ctx context.Context) error {
				return tx.UpdateOrderStatus(ctx, orderID, from, next)
			})
			if err != nil {
				return err
			}
			return o.call(ctx, func(ctx context.Context) error { return tx.InsertEvent(ctx, ev) })
		})
	} else {
		err = o.call(ctx, func(ctx context.Context) error {
			return o.repo.UpdateOrderStatus(ctx, orderID, from, next)
		})
		if err == nil {
			evErr := o.call(context.WithoutCancel(ctx), func(ctx context.Context) error {
				return o.repo.InsertEvent(ctx, ev)
			})
			if evErr != nil {
				log.Printf("update order %s status: queue order event: %v", orderID, evErr)
			}
		}
	}
	if errors.Is(err, repository.ErrNoRows) {
		return &OrderError{Kind: ErrInvalidTransition, OrderID: orderID, Err: errors.New("status changed concurrently")}
	}
	if err != nil {
		return storeFailed(err)
	}

	if o.recorder != nil {
		o.recorder.RecordTransition(orderID, from, next, actor)
	}
	return nil
}

// OrderDetails returns an order with its line items.
func (o *Orchestrator) OrderDetails(ctx context.Context, orderID string) (*Placement, error) {
	var order *models.Order
	var items []models.OrderLineItem
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		if order, err = o.repo.GetOrder(ctx, orderID); err != nil || order == nil {
			return err
		}
		items, err = o.repo.ListLineItems(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, storeFailed(err)
	}
	if order == nil {
		return nil, newError(ErrOrderNotFound)
	}
	return &Placement{Order: *order, LineItems: items}, nil
}

func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && !isTimeout(err) && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func (o *Orchestrator) event(typ models.OrderEventType, order models.Order, status models.OrderStatus) models.OrderEvent {
	return models.OrderEvent{
		Type:       typ,
		OrderID:    order.ID,
		ChefID:     order.ChefID,
		CustomerID: order.CustomerID,
		Status:     status,
		Total:      order.TotalAmount,
		At:         o.now(),
	}
}

func resolveChef(chefID string, lines []models.CartLine) (string, error) {
	for _, line := range lines {
		if line.ChefID == "" {
			continue
		}
		if chefID == "" {
			chefID = line.ChefID
			continue
		}
		if line.ChefID != chefID {
			return "", newError(ErrMixedChefs)
		}
	}
	if chefID == "" {
		return "", newError(ErrChefRequired)
	}
	return chefID, nil
}

func lineItem(orderID string, line models.CartLine) models.OrderLineItem {
	return models.OrderLineItem{
		OrderID:           orderID,
		MealID:            line.MealID,
		MealName:          line.Name,
		Quantity:          line.Quantity,
		UnitPriceSnapshot: line.Price,
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func createFailed(err error) *OrderError {
	if isTimeout(err) {
		return &OrderError{Kind: ErrTimeout, Timeout: true, Err: err}
	}
	return &OrderError{Kind: ErrOrderCreateFailed, Err: err}
}

func storeFailed(err error) *OrderError {
	if isTimeout(err) {
		return &OrderError{Kind: ErrTimeout, Timeout: true, Err: err}
	}
	return &OrderError{Kind: ErrStoreFailure, Err: err}
}
