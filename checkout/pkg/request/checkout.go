package request

import "github.com/Alturino/storefront/checkout/pkg/session"

type SelectMethod struct {
	Method  string          `validate:"required" json:"method"`
	Contact session.Contact `validate:"required" json:"contact"`
}
