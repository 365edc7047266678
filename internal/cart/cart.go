// Package cart holds the checkout cart as an immutable value. Every
// mutation returns a new Cart and leaves the receiver untouched.
package cart

import (
	"github.com/shopspring/decimal"

	"pekseg/backend/internal/domain"
)

type Line struct {
	Item     domain.Item
	Quantity int
}

func (l Line) Total() int64 {
	return int64(l.Quantity) * l.Item.UnitPrice
}

type Cart struct {
	lines []Line
}

func New() Cart {
	return Cart{}
}

// AddLine increments an existing line by one or appends the item at
// quantity one.
func (c Cart) AddLine(item domain.Item, locationStock int) (Cart, error) {
	if item.ID == "" {
		return c, domain.NewValidationError("item id is required")
	}
	idx := c.index(item.ID)
	current := 0
	if idx >= 0 {
		current = c.lines[idx].Quantity
	}
	if current+1 > locationStock {
		return c, &domain.InsufficientStockError{ItemID: item.ID, Requested: current + 1, Available: locationStock}
	}

	next := c.clone()
	if idx >= 0 {
		next.lines[idx].Quantity++
		return next, nil
	}
	next.lines = append(next.lines, Line{Item: item, Quantity: 1})
	return next, nil
}

// SetQuantity replaces a line quantity; zero or less removes the line.
func (c Cart) SetQuantity(itemID string, quantity int, locationStock int) (Cart, error) {
	if quantity <= 0 {
		return c.RemoveLine(itemID), nil
	}
	if quantity > locationStock {
		return c, &domain.InsufficientStockError{ItemID: itemID, Requested: quantity, Available: locationStock}
	}
	idx := c.index(itemID)
	if idx < 0 {
		return c, domain.NewValidationError("item %s is not in the cart", itemID)
	}

	next := c.clone()
	next.lines[idx].Quantity = quantity
	return next, nil
}

func (c Cart) RemoveLine(itemID string) Cart {
	next := Cart{lines: make([]Line, 0, len(c.lines))}
	for _, line := range c.lines {
		if line.Item.ID != itemID {
			next.lines = append(next.lines, line)
		}
	}
	return next
}

func (c Cart) Clear() Cart {
	return Cart{}
}

// Lines returns a copy in insertion order.
func (c Cart) Lines() []Line {
	return c.clone().lines
}

func (c Cart) Len() int {
	return len(c.lines)
}

func (c Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c Cart) Quantity(itemID string) int {
	if idx := c.index(itemID); idx >= 0 {
		return c.lines[idx].Quantity
	}
	return 0
}

func (c Cart) Total() int64 {
	var total int64
	for _, line := range c.lines {
		total += line.Total()
	}
	return total
}

// ChangeDue may be negative when the tendered amount does not cover the total.
func (c Cart) ChangeDue(tendered int64) int64 {
	return tendered - c.Total()
}

// TaxIncluded is the VAT contained in the gross line totals. It is
// informational only and never changes the amount charged.
func (c Cart) TaxIncluded() int64 {
	sum := decimal.Zero
	for _, line := range c.lines {
		sum = sum.Add(TaxPortion(line.Total(), line.Item.TaxPercent))
	}
	return sum.Round(0).IntPart()
}

// TaxPortion extracts the tax share of a gross amount at the given percentage.
func TaxPortion(gross int64, percent float64) decimal.Decimal {
	if gross == 0 || percent <= 0 {
		return decimal.Zero
	}
	rate := decimal.NewFromFloat(percent)
	amount := decimal.NewFromInt(gross)
	return amount.Mul(rate).Div(rate.Add(decimal.NewFromInt(100)))
}

func (c Cart) index(itemID string) int {
	for i, line := range c.lines {
		if line.Item.ID == itemID {
			return i
		}
	}
	return -1
}

func (c Cart) clone() Cart {
	if c.lines == nil {
		return Cart{}
	}
	lines := make([]Line, len(c.lines))
	copy(lines, c.lines)
	return Cart{lines: lines}
}
