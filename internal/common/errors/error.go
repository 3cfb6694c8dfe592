package errors

import (
	"errors"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidTransition  = errors.New("invalid payment session transition")
	ErrStaleResponse      = errors.New("response belongs to a superseded payment attempt")
	ErrUnknownMethod      = errors.New("unknown payment method")
	ErrMethodNotSelected  = errors.New("payment method not selected")
	ErrNoActivePayment    = errors.New("no payment awaiting settlement")
	ErrSessionClosed      = errors.New("payment session closed")
	ErrNotFound           = errors.New("key not found")
	ErrUnknownStorage     = errors.New("unknown storage driver")
	ErrNotificationAbsent = errors.New("notification is not visible")
)

func HandleError(err error, span trace.Span) {
	if err == nil {
		return
	}
	span.AddEvent(err.Error())
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}
