package validate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type priced struct {
	Price decimal.Decimal `validate:"gt=0"`
}

func TestDecimalValidation(t *testing.T) {
	tests := []struct {
		name    string
		price   decimal.Decimal
		wantErr bool
	}{
		{name: "given positive price should pass", price: decimal.NewFromInt(100)},
		{name: "given fractional price should pass", price: decimal.RequireFromString("0.01")},
		{name: "given zero price should fail", price: decimal.Zero, wantErr: true},
		{name: "given negative price should fail", price: decimal.NewFromInt(-5), wantErr: true},
	}
	v := New()
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := v.Struct(priced{Price: test.price})
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
