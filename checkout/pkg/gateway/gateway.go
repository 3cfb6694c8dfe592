// Package gateway talks to the external payment gateway of one payment
// method. Prepare creates a payment and is never retried; Verify is
// idempotent and safe to retry.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Gateway interface {
	Prepare(c context.Context, req PrepareRequest) (PrepareResult, error)
	Verify(c context.Context, referenceCode string) (VerifyResult, error)
}

type PrepareRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Note     string          `json:"note"`
}

type PrepareResult struct {
	ReferenceCode string              `json:"referenceCode"`
	QRImage       string              `json:"qrImage"`
	AmountDue     decimal.NullDecimal `json:"amountDue"`
	ExchangeRate  decimal.NullDecimal `json:"exchangeRate"`
}

type VerifyResult struct {
	Paid      bool       `json:"paid"`
	SettledAt *time.Time `json:"settledAt,omitempty"`
}

// UnmarshalJSON accepts settledAt as an RFC 3339 string or epoch
// milliseconds. Any other value leaves SettledAt nil so a paid response is
// never lost to its timestamp.
func (r *VerifyResult) UnmarshalJSON(data []byte) error {
	raw := struct {
		Paid      bool            `json:"paid"`
		SettledAt json.RawMessage `json:"settledAt"`
	}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Paid = raw.Paid
	r.SettledAt = parseSettledAt(raw.SettledAt)
	return nil
}

func parseSettledAt(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return nil
		}
		return &t
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err == nil {
		t := time.UnixMilli(millis).UTC()
		return &t
	}
	return nil
}

// Error is a non-2xx gateway response. Message is the gateway's own message
// and may be empty.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway responded with status=%d", e.Code)
	}
	return fmt.Sprintf("gateway responded with status=%d message=%s", e.Code, e.Message)
}

func (e *Error) StatusCode() int {
	return e.Code
}
