package store

import (
	"github.com/shopspring/decimal"
)

type Item struct {
	ID         string
	Price      decimal.Decimal
	Attributes map[string]any
}

// Line is a cart entry. LineTotal is always Price × Quantity.
type Line struct {
	ID         string          `json:"id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	LineTotal  decimal.Decimal `json:"lineTotal"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

func newLine(id string, price decimal.Decimal, quantity int, attributes map[string]any) Line {
	l := Line{ID: id, Price: price, Quantity: quantity, Attributes: attributes}
	l.recompute()
	return l
}

func (l *Line) recompute() {
	l.LineTotal = l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Snapshot struct {
	Lines     []Line          `json:"lines"`
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	// Total equals Subtotal until discounts or taxes exist.
	Total decimal.Decimal `json:"total"`
}

func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}
