package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady},
	OrderStatusReady:     {OrderStatusDelivered},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusReady,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type DeliveryType string

const (
	DeliveryInstant   DeliveryType = "instant"
	DeliveryScheduled DeliveryType = "scheduled"
)

func (d DeliveryType) Valid() bool {
	return d == DeliveryInstant || d == DeliveryScheduled
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleChef     Role = "chef"
)

type Order struct {
	ID           string          `json:"id"`
	CustomerID   string          `json:"customer_id"`
	ChefID       string          `json:"chef_id"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	DeliveryType DeliveryType    `json:"delivery_type"`
	Status       OrderStatus     `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (o *Order) UpdateState(newState OrderStatus) {
	o.Status = newState
	o.UpdatedAt = time.Now().UTC()
}

type OrderLineItem struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	MealID            string          `json:"meal_id"`
	MealName          string          `json:"meal_name"`
	Quantity          int             `json:"quantity"`
	UnitPriceSnapshot decimal.Decimal `json:"unit_price_snapshot"`
}

func (li OrderLineItem) Subtotal() decimal.Decimal {
	return li.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type OrderEventType string

const (
	OrderEventPlaced        OrderEventType = "order_placed"
	OrderEventStatusChanged OrderEventType = "order_status_changed"
)

type OrderEvent struct {
	Type       OrderEventType  `json:"type"`
	OrderID    string          `json:"order_id"`
	ChefID     string          `json:"chef_id"`
	CustomerID string          `json:"customer_id"`
	Status     OrderStatus     `json:"status"`
	Total      decimal.Decimal `json:"total"`
	At         time.Time       `json:"at"`
}
