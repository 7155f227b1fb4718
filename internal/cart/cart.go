package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/homecooks/mealmarket/internal/models"
)

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidMeal     = errors.New("invalid meal")
)

// MaxLineQuantity caps the units of one meal in a cart.
const MaxLineQuantity = 999

// Cart is a single session's line items keyed by meal id, kept in insertion
// order. The zero value is an empty cart. A Cart is not safe for concurrent
// use; SessionStore serializes access per session.
type Cart struct {
	order []string
	lines map[string]models.CartLine
}

func New() *Cart {
	return &Cart{lines: make(map[string]models.CartLine)}
}

// AddLine adds quantity units of meal. A new line snapshots the meal's name
// and price; an existing line keeps its original snapshot.
func (c *Cart) AddLine(meal models.Meal, quantity int) error {
	if quantity <= 0 || quantity > MaxLineQuantity {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if meal.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMeal)
	}
	if meal.Price.IsNegative() {
		return fmt.Errorf("%w: negative price for %s", ErrInvalidMeal, meal.ID)
	}
	if c.lines == nil {
		c.lines = make(map[string]models.CartLine)
	}

	if line, ok := c.lines[meal.ID]; ok {
		if quantity > MaxLineQuantity-line.Quantity {
			return fmt.Errorf("%w: %d more of %s exceeds %d", ErrInvalidQuantity, quantity, meal.ID, MaxLineQuantity)
		}
		line.Quantity += quantity
		c.lines[meal.ID] = line
		return nil
	}
	c.lines[meal.ID] = models.CartLine{
		MealID:   meal.ID,
		ChefID:   meal.ChefID,
		Name:     meal.Name,
		Price:    meal.Price,
		Quantity: quantity,
	}
	c.order = append(c.order, meal.ID)
	return nil
}

// AdjustQuantity adds delta to a line; the line goes away once it reaches
// zero. Unknown meal ids are ignored. Going past MaxLineQuantity leaves the
// line unchanged and returns ErrInvalidQuantity.
func (c *Cart) AdjustQuantity(mealID string, delta int) error {
	line, ok := c.lines[mealID]
	if !ok {
		return nil
	}
	if delta > MaxLineQuantity-line.Quantity {
		return fmt.Errorf("%w: %d more of %s exceeds %d", ErrInvalidQuantity, delta, mealID, MaxLineQuantity)
	}
	line.Quantity += delta
	if line.Quantity <= 0 {
		c.RemoveLine(mealID)
		return nil
	}
	c.lines[mealID] = line
	return nil
}

func (c *Cart) RemoveLine(mealID string) {
	if _, ok := c.lines[mealID]; !ok {
		return
	}
	delete(c.lines, mealID)
	for i, id := range c.order {
		if id == mealID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

func (c *Cart) Clear() {
	c.order = nil
	c.lines = make(map[string]models.CartLine)
}

func (c *Cart) Line(mealID string) (models.CartLine, bool) {
	line, ok := c.lines[mealID]
	return line, ok
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []models.CartLine {
	out := make([]models.CartLine, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.lines[id])
	}
	return out
}

func (c *Cart) Len() int {
	return len(c.order)
}

func (c *Cart) IsEmpty() bool {
	return len(c.order) == 0
}

func (c *Cart) Clone() *Cart {
	clone := New()
	for _, id := range c.order {
		clone.order = append(clone.order, id)
		clone.lines[id] = c.lines[id]
	}
	return clone
}
