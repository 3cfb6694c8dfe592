package session

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Alturino/storefront/cart/pkg/store"
	"github.com/Alturino/storefront/checkout/pkg/gateway"
	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	"github.com/Alturino/storefront/internal/fetch"
	"github.com/Alturino/storefront/notification/pkg/queue"
)

const (
	MessageInstructionsReady = "Payment instructions are ready"
	MessageNotReceived       = "Payment not received yet"
	MessageSettled           = "Payment received, thank you for your order"
	MessageExpired           = "Payment window expired, please start the payment again"
)

type Event interface{ event() }

type SelectMethod struct {
	Method    string
	Contact   Contact
	CartEmpty bool
}

type StartAttempt struct {
	Cart     store.Snapshot
	Currency string
}

type PrepareSucceeded struct {
	Attempt     uint64
	Result      gateway.PrepareResult
	DueCurrency string
	Now         time.Time
	Countdown   time.Duration
}

type PrepareFailed struct {
	Attempt uint64
	// Message is the gateway's own message, empty when it gave none.
	Message string
}

type CountdownTick struct {
	Attempt uint64
	Now     time.Time
}

type VerifyRequested struct{}

type VerifyCompleted struct {
	Attempt uint64
	Seq     uint64
	Result  gateway.VerifyResult
	Manual  bool
	Now     time.Time
}

type VerifyFailed struct {
	Attempt uint64
	Seq     uint64
	Err     error
	Now     time.Time
}

type CancelRequested struct{}

func (SelectMethod) event()     {}
func (StartAttempt) event()     {}
func (PrepareSucceeded) event() {}
func (PrepareFailed) event()    {}
func (CountdownTick) event()    {}
func (VerifyRequested) event()  {}
func (VerifyCompleted) event()  {}
func (VerifyFailed) event()     {}
func (CancelRequested) event()  {}

type Effect interface{ effect() }

// Teardown effects are applied before the new state is committed.
type (
	StopCountdown struct{}
	StopPoll      struct{}
	AbortCall     struct{}
)

type (
	ArmCountdown struct{}
	ArmPoll      struct{}
	Notify       struct {
		Severity queue.Severity
		Message  string
	}
	ClearCart         struct{}
	PublishSettlement struct{ Settlement Settlement }
)

func (StopCountdown) effect()     {}
func (StopPoll) effect()          {}
func (AbortCall) effect()         {}
func (ArmCountdown) effect()      {}
func (ArmPoll) effect()           {}
func (Notify) effect()            {}
func (ClearCart) effect()         {}
func (PublishSettlement) effect() {}

func isTeardown(e Effect) bool {
	switch e.(type) {
	case StopCountdown, StopPoll, AbortCall:
		return true
	}
	return false
}

func teardown() []Effect {
	return []Effect{StopCountdown{}, StopPoll{}, AbortCall{}}
}

// Transition computes the next state and the effects the runtime must apply.
// It never mutates its input. A response or tick that no longer matches the
// current attempt yields ErrStaleResponse.
func Transition(state State, event Event) (State, []Effect, error) {
	switch ev := event.(type) {
	case SelectMethod:
		return selectMethod(state, ev)
	case StartAttempt:
		return startAttempt(state, ev)
	case PrepareSucceeded:
		return prepareSucceeded(state, ev)
	case PrepareFailed:
		return prepareFailed(state, ev)
	case CountdownTick:
		return countdownTick(state, ev)
	case VerifyRequested:
		return verifyRequested(state)
	case VerifyCompleted:
		return verifyCompleted(state, ev)
	case VerifyFailed:
		return verifyFailed(state, ev)
	case CancelRequested:
		return cancelRequested(state)
	}
	return state, nil, fmt.Errorf("%w: unknown event %T", commonErrors.ErrInvalidTransition, event)
}

func invalid(state State, action string) error {
	return fmt.Errorf("%w: cannot %s while %s", commonErrors.ErrInvalidTransition, action, state.Status)
}

func selectMethod(state State, ev SelectMethod) (State, []Effect, error) {
	if state.Status.Busy() {
		return state, nil, invalid(state, "select method")
	}
	if ev.CartEmpty {
		return state, nil, commonErrors.ErrEmptyCart
	}
	next := state.withoutAttempt()
	next.Status = StatusMethodSelected
	next.Method = ev.Method
	next.Contact = ev.Contact
	return next, nil, nil
}

func startAttempt(state State, ev StartAttempt) (State, []Effect, error) {
	if state.Status == StatusIdle || state.Method == "" {
		return state, nil, commonErrors.ErrMethodNotSelected
	}
	if ev.Cart.Empty() {
		return state, nil, commonErrors.ErrEmptyCart
	}
	next := state.withoutAttempt()
	next.Status = StatusProcessing
	next.Attempt = state.Attempt + 1
	next.Cart = ev.Cart
	next.Amount = ev.Cart.Total
	next.Currency = ev.Currency
	return next, teardown(), nil
}

func prepareSucceeded(state State, ev PrepareSucceeded) (State, []Effect, error) {
	if state.Status != StatusProcessing || ev.Attempt != state.Attempt {
		return state, nil, commonErrors.ErrStaleResponse
	}

	rate := decimal.NewFromInt(1)
	if ev.Result.ExchangeRate.Valid {
		rate = ev.Result.ExchangeRate.Decimal
	}
	amountDue := state.Amount.Mul(rate).Round(2)
	if ev.Result.AmountDue.Valid {
		amountDue = ev.Result.AmountDue.Decimal
	}
	dueCurrency := ev.DueCurrency
	if dueCurrency == "" {
		dueCurrency = state.Currency
	}

	next := state
	next.Status = StatusAwaitingSettlement
	next.ReferenceCode = ev.Result.ReferenceCode
	next.QRImage = ev.Result.QRImage
	next.AmountDue = amountDue
	next.DueCurrency = dueCurrency
	next.ExchangeRate = rate
	next.Deadline = ev.Now.Add(ev.Countdown)
	next.Remaining = ev.Countdown
	return next, []Effect{
		ArmCountdown{},
		ArmPoll{},
		Notify{Severity: queue.SeverityInfo, Message: MessageInstructionsReady},
	}, nil
}

func prepareFailed(state State, ev PrepareFailed) (State, []Effect, error) {
	if state.Status != StatusProcessing || ev.Attempt != state.Attempt {
		return state, nil, commonErrors.ErrStaleResponse
	}
	message := ev.Message
	if message == "" {
		message = fetch.FailureMessage
	}
	next := state.withoutAttempt()
	next.Status = StatusFailed
	next.Failure = message
	return next, []Effect{Notify{Severity: queue.SeverityError, Message: message}}, nil
}

func countdownTick(state State, ev CountdownTick) (State, []Effect, error) {
	if state.Status != StatusAwaitingSettlement || ev.Attempt != state.Attempt {
		return state, nil, commonErrors.ErrStaleResponse
	}
	remaining := state.Deadline.Sub(ev.Now)
	if remaining > 0 {
		next := state
		next.Remaining = remaining
		return next, []Effect{ArmCountdown{}}, nil
	}

	next := state.withoutAttempt()
	next.Status = StatusExpired
	next.LastVerify = state.LastVerify
	effects := append(teardown(), Notify{Severity: queue.SeverityWarning, Message: MessageExpired})
	return next, effects, nil
}

func verifyRequested(state State) (State, []Effect, error) {
	if state.Status != StatusAwaitingSettlement {
		return state, nil, commonErrors.ErrNoActivePayment
	}
	next := state
	next.VerifySeq = state.VerifySeq + 1
	return next, []Effect{StopPoll{}, AbortCall{}}, nil
}

func verifyCompleted(state State, ev VerifyCompleted) (State, []Effect, error) {
	if state.Status != StatusAwaitingSettlement || ev.Attempt != state.Attempt || ev.Seq != state.VerifySeq {
		return state, nil, commonErrors.ErrStaleResponse
	}

	outcome := &VerifyOutcome{At: ev.Now, Paid: ev.Result.Paid}
	if !ev.Result.Paid {
		next := state
		next.LastVerify = outcome
		effects := []Effect{ArmPoll{}}
		if ev.Manual {
			effects = append(effects, Notify{Severity: queue.SeverityInfo, Message: MessageNotReceived})
		}
		return next, effects, nil
	}

	settledAt := ev.Now
	if ev.Result.SettledAt != nil {
		settledAt = *ev.Result.SettledAt
	}
	next := state
	next.Status = StatusSettled
	next.LastVerify = outcome
	next.SettledAt = &settledAt
	next.Remaining = 0
	settlement := Settlement{
		ReferenceCode: state.ReferenceCode,
		Method:        state.Method,
		Contact:       state.Contact,
		Lines:         state.Cart.Lines,
		Amount:        state.Amount,
		Currency:      state.Currency,
		AmountDue:     state.AmountDue,
		DueCurrency:   state.DueCurrency,
		ExchangeRate:  state.ExchangeRate,
		SettledAt:     settledAt,
	}
	effects := append(teardown(),
		ClearCart{},
		Notify{Severity: queue.SeveritySuccess, Message: MessageSettled},
		PublishSettlement{Settlement: settlement},
	)
	return next, effects, nil
}

// verifyFailed keeps the attempt running; the fetcher has already told the
// buyer.
func verifyFailed(state State, ev VerifyFailed) (State, []Effect, error) {
	if state.Status != StatusAwaitingSettlement || ev.Attempt != state.Attempt || ev.Seq != state.VerifySeq {
		return state, nil, commonErrors.ErrStaleResponse
	}
	next := state
	next.LastVerify = &VerifyOutcome{At: ev.Now}
	if ev.Err != nil {
		next.LastVerify.Error = ev.Err.Error()
	}
	return next, []Effect{ArmPoll{}}, nil
}

func cancelRequested(state State) (State, []Effect, error) {
	if !state.Status.Cancellable() {
		return state, nil, invalid(state, "cancel")
	}
	next := state.withoutAttempt()
	next.Status = StatusCancelled
	// Bumping the attempt makes an in-flight prepare stale.
	next.Attempt = state.Attempt + 1
	return next, teardown(), nil
}
