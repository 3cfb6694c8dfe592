package request

import "github.com/shopspring/decimal"

type AddLine struct {
	ID         string          `validate:"required,max=64" json:"id"`
	Price      decimal.Decimal `validate:"gt=0"            json:"price"`
	Quantity   int             `validate:"gte=0"           json:"quantity"`
	Attributes map[string]any  `                           json:"attributes,omitempty"`
}
