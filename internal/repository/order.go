package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/homecooks/mealmarket/internal/models"
)

// OrderStore is the set of order writes and reads the checkout flow needs.
type OrderStore interface {
	InsertOrder(ctx context.Context, o models.Order) (models.Order, error)
	InsertLineItem(ctx context.Context, li models.OrderLineItem) (models.OrderLineItem, error)
	InsertEvent(ctx context.Context, ev models.OrderEvent) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error
}

type OrderRepository struct {
	store RecordStore
	now   func() time.Time
}

func NewOrderRepository(store RecordStore) *OrderRepository {
	return &OrderRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// SupportsTx reports whether WithinTx runs in a real transaction.
func (r *OrderRepository) SupportsTx() bool {
	_, ok := r.store.(Transactional)
	return ok
}

// WithinTx runs fn with a repository bound to one transaction.
// ErrTxUnsupported is returned when the store has none.
func (r *OrderRepository) WithinTx(ctx context.Context, fn func(OrderStore) error) error {
	tx, ok := r.store.(Transactional)
	if !ok {
		return ErrTxUnsupported
	}
	return tx.WithTx(ctx, func(store RecordStore) error {
		return fn(&OrderRepository{store: store, now: r.now})
	})
}

// InsertOrder stores o and returns it with the store-assigned id.
func (r *OrderRepository) InsertOrder(ctx context.Context, o models.Order) (models.Order, error) {
	t := r.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = t
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	rec := Record{
		"customer_id":   o.CustomerID,
		"chef_id":       o.ChefID,
		"total_amount":  o.TotalAmount,
		"delivery_type": string(o.DeliveryType),
		"status":        string(o.Status),
		"created_at":    o.CreatedAt,
		"updated_at":    o.UpdatedAt,
	}
	if o.ID != "" {
		rec["id"] = o.ID
	}
	row, err := r.store.Insert(ctx, TableOrders, rec)
	if err != nil {
		return models.Order{}, fmt.Errorf("insert order: %w", err)
	}
	stored, err := orderFromRecord(row)
	if err != nil {
		return models.Order{}, fmt.Errorf("insert order: %w", err)
	}
	if stored.ID == "" {
		return models.Order{}, fmt.Errorf("insert order: store returned no id")
	}
	return stored, nil
}

func (r *OrderRepository) InsertLineItem(ctx context.Context, li models.OrderLineItem) (models.OrderLineItem, error) {
	rec := Record{
		"order_id":            li.OrderID,
		"meal_id":             li.MealID,
		"meal_name":           li.MealName,
		"quantity":            li.Quantity,
		"unit_price_snapshot": li.UnitPriceSnapshot,
	}
	if li.ID != "" {
		rec["id"] = li.ID
	}
	row, err := r.store.Insert(ctx, TableOrderLineItems, rec)
	if err != nil {
		return models.OrderLineItem{}, fmt.Errorf("insert line item: %w", err)
	}
	return lineItemFromRecord(row)
}

// InsertEvent queues ev in the outbox table.
func (r *OrderRepository) InsertEvent(ctx context.Context, ev models.OrderEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	t := r.now()
	rec := Record{
		"event_type":    string(ev.Type),
		"order_id":      ev.OrderID,
		"message_key":   ev.ChefID,
		"payload":       string(payload),
		"status":        string(TaskStatusCreated),
		"attempt_count": 0,
		"created_at":    t,
		"updated_at":    t,
	}
	if _, err := r.store.Insert(ctx, TableOrderEvents, rec); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// GetOrder returns nil when no order has the id.
func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	rows, err := r.store.Query(ctx, TableOrders, Filter{Eq: map[string]any{"id": id}, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	o, err := orderFromRecord(rows[0])
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) ListLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error) {
	rows, err := r.store.Query(ctx, TableOrderLineItems, Filter{Eq: map[string]any{"order_id": orderID}})
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	items := make([]models.OrderLineItem, 0, len(rows))
	for _, row := range rows {
		li, err := lineItemFromRecord(row)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, nil
}

// UpdateOrderStatus moves the order from one status to another. ErrNoRows is
// returned when the order is missing or no longer in the from status.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error {
	err := r.store.Update(ctx, TableOrders, id,
		Record{"status": string(to), "updated_at": r.now()},
		Filter{Eq: map[string]any{"status": string(from)}},
	)
	if errors.Is(err, ErrNoRows) {
		return ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

func orderFromRecord(rec Record) (models.Order, error) {
	o := models.Order{
		ID:           asString(rec["id"]),
		CustomerID:   asString(rec["customer_id"]),
		ChefID:       asString(rec["chef_id"]),
		DeliveryType: models.DeliveryType(asString(rec["delivery_type"])),
		Status:       models.OrderStatus(asString(rec["status"])),
	}
	var err error
	if o.TotalAmount, err = asDecimal(rec["total_amount"]); err != nil {
		return o, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	if o.CreatedAt, err = asTime(rec["created_at"]); err != nil {
		return o, fmt.Errorf("order %s: %w", o.ID, err)
	}
	if o.UpdatedAt, err = asTime(rec["updated_at"]); err != nil {
		return o, fmt.Errorf("order %s: %w", o.ID, err)
	}
	return o, nil
}

func lineItemFromRecord(rec Record) (models.OrderLineItem, error) {
	li := models.OrderLineItem{
		ID:       asString(rec["id"]),
		OrderID:  asString(rec["order_id"]),
		MealID:   asString(rec["meal_id"]),
		MealName: asString(rec["meal_name"]),
		Quantity: asInt(rec["quantity"]),
	}
	price, err := asDecimal(rec["unit_price_snapshot"])
	if err != nil {
		return li, fmt.Errorf("line item %s price: %w", li.ID, err)
	}
	li.UnitPriceSnapshot = price
	return li, nil
}
