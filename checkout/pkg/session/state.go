package session

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Alturino/storefront/cart/pkg/store"
)

type Contact struct {
	Name  string `json:"name"            validate:"required,max=120"`
	Email string `json:"email"           validate:"required,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Note  string `json:"note,omitempty"  validate:"max=255"`
}

// buyerNote is what the gateway shows next to the payment.
func (c Contact) buyerNote() string {
	if c.Note != "" {
		return c.Note
	}
	return c.Name
}

type VerifyOutcome struct {
	At    time.Time `json:"at"`
	Paid  bool      `json:"paid"`
	Error string    `json:"error,omitempty"`
}

// State is a value; transitions return a new one.
type State struct {
	Status  Status  `json:"status"`
	Method  string  `json:"method,omitempty"`
	Contact Contact `json:"contact"`

	// Attempt identifies the current payment attempt. Responses and timer
	// callbacks carrying another attempt are stale.
	Attempt uint64 `json:"attempt"`
	// VerifySeq identifies the latest verify request of the attempt.
	VerifySeq uint64 `json:"-"`

	Cart     store.Snapshot  `json:"cart"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`

	ReferenceCode string          `json:"referenceCode,omitempty"`
	QRImage       string          `json:"qrImage,omitempty"`
	AmountDue     decimal.Decimal `json:"amountDue"`
	DueCurrency   string          `json:"dueCurrency,omitempty"`
	ExchangeRate  decimal.Decimal `json:"exchangeRate"`
	Deadline      time.Time       `json:"deadline"`
	Remaining     time.Duration   `json:"remaining"`

	LastVerify *VerifyOutcome `json:"lastVerify,omitempty"`
	Failure    string         `json:"failure,omitempty"`
	SettledAt  *time.Time     `json:"settledAt,omitempty"`
}

// withoutAttempt drops everything that belongs to a single payment attempt.
func (s State) withoutAttempt() State {
	return State{
		Status:    s.Status,
		Method:    s.Method,
		Contact:   s.Contact,
		Attempt:   s.Attempt,
		VerifySeq: s.VerifySeq,
	}
}

// Settlement is published once a payment is confirmed.
type Settlement struct {
	ReferenceCode string          `json:"referenceCode"`
	Method        string          `json:"method"`
	Contact       Contact         `json:"contact"`
	Lines         []store.Line    `json:"lines"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	AmountDue     decimal.Decimal `json:"amountDue"`
	DueCurrency   string          `json:"dueCurrency"`
	ExchangeRate  decimal.Decimal `json:"exchangeRate"`
	SettledAt     time.Time       `json:"settledAt"`
}
