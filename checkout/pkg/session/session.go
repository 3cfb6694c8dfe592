// Package session drives one buyer's payment from method selection to
// settlement. State changes go through Transition; Session owns the timers,
// the in-flight gateway call and the side effects.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Alturino/storefront/cart/pkg/store"
	"github.com/Alturino/storefront/checkout/internal/common/otel"
	"github.com/Alturino/storefront/checkout/pkg/gateway"
	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	"github.com/Alturino/storefront/internal/common/validate"
	"github.com/Alturino/storefront/internal/fetch"
	"github.com/Alturino/storefront/internal/log"
	"github.com/Alturino/storefront/internal/schedule"
	"github.com/Alturino/storefront/notification/pkg/queue"
)

const (
	DefaultCountdown            = 600 * time.Second
	DefaultTickInterval         = time.Second
	DefaultNotificationDuration = 3 * time.Second
	publishTimeout              = 5 * time.Second
)

type Cart interface {
	Snapshot() store.Snapshot
	Clear(c context.Context)
}

type Notifier interface {
	Enqueue(c context.Context, severity queue.Severity, message string, duration time.Duration) string
}

type Publisher interface {
	Publish(c context.Context, settlement Settlement) error
}

// Method is a payment method the buyer can pick. Currency is the currency
// the gateway charges in.
type Method struct {
	Name     string
	Currency string
	Gateway  gateway.Gateway
}

// GatewayError is returned by Start when the gateway refused or failed to
// prepare the payment. Message is what the buyer was shown.
type GatewayError struct {
	Method  string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment method=%s failed preparing payment: %s", e.Method, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

type Session struct {
	mu    sync.Mutex
	state State

	base      context.Context
	cart      Cart
	methods   map[string]Method
	ordered   []Method
	fetcher   *fetch.Fetcher
	notifier  Notifier
	publisher Publisher
	scheduler schedule.Scheduler
	validate  *validator.Validate

	currency       string
	countdown      time.Duration
	tickInterval   time.Duration
	pollInterval   time.Duration
	notifyDuration time.Duration

	countdownTimer schedule.Handle
	pollTimer      schedule.Handle
	cancelCall     context.CancelFunc
	closed         bool

	transitionsTotal *prometheus.CounterVec
}

type Option func(*Session)

func WithCurrency(currency string) Option {
	return func(s *Session) { s.currency = currency }
}

func WithCountdown(d time.Duration) Option {
	return func(s *Session) { s.countdown = d }
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Session) { s.tickInterval = d }
}

// WithPollInterval verifies automatically while awaiting settlement. Zero
// leaves verification to the buyer.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.pollInterval = d }
}

func WithNotificationDuration(d time.Duration) Option {
	return func(s *Session) { s.notifyDuration = d }
}

func WithPublisher(p Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Session) {
		s.transitionsTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "transitions_total",
			Help:      "Payment session status changes.",
		}, []string{"from", "to"})
	}
}

// New creates an idle session. c is used for work started by timers and
// should carry the application logger.
func New(
	c context.Context,
	cart Cart,
	scheduler schedule.Scheduler,
	notifier Notifier,
	fetcher *fetch.Fetcher,
	methods []Method,
	opts ...Option,
) *Session {
	s := &Session{
		state:          State{Status: StatusIdle},
		base:           c,
		cart:           cart,
		methods:        make(map[string]Method, len(methods)),
		fetcher:        fetcher,
		notifier:       notifier,
		publisher:      noopPublisher{},
		scheduler:      scheduler,
		validate:       validate.New(),
		currency:       "USD",
		countdown:      DefaultCountdown,
		tickInterval:   DefaultTickInterval,
		notifyDuration: DefaultNotificationDuration,
	}
	for _, m := range methods {
		s.methods[m.Name] = m
	}
	s.ordered = append(s.ordered, methods...)
	WithRegisterer(nil)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Methods returns the payment methods in configuration order.
func (s *Session) Methods() []Method {
	return append([]Method(nil), s.ordered...)
}

func (s *Session) SelectMethod(c context.Context, method string, contact Contact) (State, error) {
	c, span := otel.Tracer.Start(c, "Session SelectMethod")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Session SelectMethod").
		Str(log.KeyPaymentMethod, method).
		Logger()

	logger = logger.With().Str(log.KeyProcess, "validating contact").Logger()
	logger.Debug().Msg("validating contact")
	if _, ok := s.methods[method]; !ok {
		err := fmt.Errorf("failed selecting method=%s with error=%w", method, commonErrors.ErrUnknownMethod)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return s.State(), err
	}
	if err := s.validate.StructCtx(c, contact); err != nil {
		err = fmt.Errorf("failed validating contact with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return s.State(), err
	}
	logger.Debug().Msg("validated contact")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{}, commonErrors.ErrSessionClosed
	}
	next, effects, err := Transition(s.state, SelectMethod{
		Method:    method,
		Contact:   contact,
		CartEmpty: s.cart.Snapshot().Empty(),
	})
	if err != nil {
		state := s.state
		s.mu.Unlock()
		err = fmt.Errorf("failed selecting method with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return state, err
	}
	after := s.apply(c, next, effects)
	state := s.state
	s.mu.Unlock()
	runAfter(after)

	logger.Info().Msg("selected payment method")
	return state, nil
}

// Start begins a new payment attempt for the current cart, abandoning any
// attempt still running. It returns once the gateway has answered.
func (s *Session) Start(c context.Context) (State, error) {
	c, span := otel.Tracer.Start(c, "Session Start")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Session Start").
		Logger()

	logger = logger.With().Str(log.KeyProcess, "starting payment attempt").Logger()
	logger.Info().Msg("starting payment attempt")
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{}, commonErrors.ErrSessionClosed
	}
	next, effects, err := Transition(s.state, StartAttempt{Cart: s.cart.Snapshot(), Currency: s.currency})
	if err != nil {
		state := s.state
		s.mu.Unlock()
		err = fmt.Errorf("failed starting payment attempt with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return state, err
	}
	after := s.apply(c, next, effects)
	attempt := s.state.Attempt
	method := s.methods[s.state.Method]
	req := gateway.PrepareRequest{
		Amount:   s.state.Amount,
		Currency: s.state.Currency,
		Note:     s.state.Contact.buyerNote(),
	}
	callCtx, cancel := context.WithCancel(c)
	s.cancelCall = cancel
	s.mu.Unlock()
	runAfter(after)
	defer cancel()

	logger = logger.With().
		Str(log.KeyPaymentMethod, method.Name).
		Uint64(log.KeyGeneration, attempt).
		Str(log.KeyAmount, req.Amount.String()).
		Str(log.KeyCurrency, req.Currency).
		Logger()
	logger.Info().Msg("started payment attempt")

	logger = logger.With().Str(log.KeyProcess, "preparing payment").Logger()
	logger.Info().Msg("preparing payment")
	callCtx = logger.WithContext(callCtx)
	result, prepareErr := method.Gateway.Prepare(callCtx, req)

	var event Event
	if prepareErr != nil {
		event = PrepareFailed{Attempt: attempt, Message: gatewayMessage(prepareErr)}
	} else {
		event = PrepareSucceeded{
			Attempt:     attempt,
			Result:      result,
			DueCurrency: method.Currency,
			Now:         s.scheduler.Now(),
			Countdown:   s.countdown,
		}
	}

	s.mu.Lock()
	next, effects, err = Transition(s.state, event)
	if err != nil {
		state := s.state
		s.mu.Unlock()
		logger.Debug().Err(err).Msg("discarding prepare response of superseded attempt")
		return state, err
	}
	after = s.apply(c, next, effects)
	state := s.state
	s.mu.Unlock()
	runAfter(after)

	if prepareErr != nil {
		err = &GatewayError{Method: method.Name, Message: state.Failure, Err: prepareErr}
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return state, err
	}
	logger.Info().
		Str(log.KeyReferenceCode, state.ReferenceCode).
		Str(log.KeyAmountDue, state.AmountDue.String()).
		Str(log.KeyExchangeRate, state.ExchangeRate.String()).
		Msg("prepared payment")
	return state, nil
}

// Verify asks the gateway whether the current payment has settled. A newer
// Verify, an expiry or a cancel makes the pending one return
// ErrStaleResponse.
func (s *Session) Verify(c context.Context) (State, error) {
	return s.verify(c, true)
}

func (s *Session) verify(c context.Context, manual bool) (State, error) {
	c, span := otel.Tracer.Start(c, "Session Verify")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Session Verify").
		Bool("manual", manual).
		Logger()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{}, commonErrors.ErrSessionClosed
	}
	next, effects, err := Transition(s.state, VerifyRequested{})
	if err != nil {
		state := s.state
		s.mu.Unlock()
		err = fmt.Errorf("failed verifying payment with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return state, err
	}
	after := s.apply(c, next, effects)
	attempt, seq := s.state.Attempt, s.state.VerifySeq
	reference := s.state.ReferenceCode
	gw := s.methods[s.state.Method].Gateway
	callCtx, cancel := context.WithCancel(c)
	s.cancelCall = cancel
	s.mu.Unlock()
	runAfter(after)
	defer cancel()

	logger = logger.With().
		Str(log.KeyReferenceCode, reference).
		Uint64(log.KeyGeneration, attempt).
		Str(log.KeyProcess, "verifying payment").
		Logger()
	logger.Debug().Msg("verifying payment")
	callCtx = logger.WithContext(callCtx)
	result, verifyErr := fetch.Fetch(callCtx, s.fetcher, "Verify", func(c context.Context) (gateway.VerifyResult, error) {
		return gw.Verify(c, reference)
	})

	var event Event
	now := s.scheduler.Now()
	if verifyErr != nil {
		event = VerifyFailed{Attempt: attempt, Seq: seq, Err: verifyErr, Now: now}
	} else {
		event = VerifyCompleted{Attempt: attempt, Seq: seq, Result: result, Manual: manual, Now: now}
	}

	s.mu.Lock()
	next, effects, err = Transition(s.state, event)
	if err != nil {
		state := s.state
		s.mu.Unlock()
		logger.Debug().Err(err).Msg("discarding verify response")
		return state, err
	}
	after = s.apply(c, next, effects)
	state := s.state
	s.mu.Unlock()
	runAfter(after)

	if verifyErr != nil {
		err = fmt.Errorf("failed verifying payment with error=%w", verifyErr)
		commonErrors.HandleError(err, span)
		logger.Warn().Err(err).Msg(err.Error())
		return state, err
	}
	logger.Info().Bool("paid", result.Paid).Str(log.KeyPaymentStatus, string(state.Status)).Msg("verified payment")
	return state, nil
}

func (s *Session) Cancel(c context.Context) (State, error) {
	c, span := otel.Tracer.Start(c, "Session Cancel")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Session Cancel").
		Logger()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{}, commonErrors.ErrSessionClosed
	}
	next, effects, err := Transition(s.state, CancelRequested{})
	if err != nil {
		state := s.state
		s.mu.Unlock()
		err = fmt.Errorf("failed cancelling payment with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return state, err
	}
	after := s.apply(c, next, effects)
	state := s.state
	s.mu.Unlock()
	runAfter(after)

	logger.Info().Msg("cancelled payment")
	return state, nil
}

// Close stops every timer and aborts the in-flight call. Later calls return
// ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, e := range teardown() {
		s.applyTeardown(e)
	}
	zerolog.Ctx(s.base).Info().Str(log.KeyTag, "Session Close").Msg("closed payment session")
}

// apply must be called with s.mu held. Teardown effects run before next is
// committed; the returned functions must run after s.mu is released.
func (s *Session) apply(c context.Context, next State, effects []Effect) []func() {
	for _, e := range effects {
		if isTeardown(e) {
			s.applyTeardown(e)
		}
	}

	if next.Status != s.state.Status {
		s.transitionsTotal.WithLabelValues(string(s.state.Status), string(next.Status)).Inc()
		zerolog.Ctx(c).Info().
			Str(log.KeyTag, "Session apply").
			Str(log.KeyPaymentStatusFrom, string(s.state.Status)).
			Str(log.KeyPaymentStatus, string(next.Status)).
			Uint64(log.KeyGeneration, next.Attempt).
			Msg("payment status changed")
	}
	s.state = next

	var after []func()
	for _, e := range effects {
		switch e := e.(type) {
		case ArmCountdown:
			s.armCountdown()
		case ArmPoll:
			s.armPoll()
		case Notify:
			s.notifier.Enqueue(c, e.Severity, e.Message, s.notifyDuration)
		case ClearCart:
			s.cart.Clear(c)
		case PublishSettlement:
			settlement := e.Settlement
			after = append(after, func() { s.publish(c, settlement) })
		}
	}
	return after
}

func (s *Session) applyTeardown(e Effect) {
	switch e.(type) {
	case StopCountdown:
		s.countdownTimer = schedule.Stop(s.countdownTimer)
	case StopPoll:
		s.pollTimer = schedule.Stop(s.pollTimer)
	case AbortCall:
		if s.cancelCall != nil {
			s.cancelCall()
			s.cancelCall = nil
		}
	}
}

func runAfter(after []func()) {
	for _, fn := range after {
		fn()
	}
}

// armCountdown schedules the next tick, landing exactly on the deadline for
// the last one. Must be called with s.mu held.
func (s *Session) armCountdown() {
	s.countdownTimer = schedule.Stop(s.countdownTimer)
	d := min(s.tickInterval, s.state.Deadline.Sub(s.scheduler.Now()))
	if d < 0 {
		d = 0
	}
	attempt := s.state.Attempt
	s.countdownTimer = s.scheduler.AfterFunc(d, func() { s.tick(attempt) })
}

// armPoll schedules a verify unless polling is off or one is already
// scheduled. Must be called with s.mu held.
func (s *Session) armPoll() {
	if s.pollInterval <= 0 || s.pollTimer != nil {
		return
	}
	attempt := s.state.Attempt
	s.pollTimer = s.scheduler.AfterFunc(s.pollInterval, func() { s.poll(attempt) })
}

func (s *Session) tick(attempt uint64) {
	s.mu.Lock()
	if attempt != s.state.Attempt || s.closed {
		s.mu.Unlock()
		return
	}
	s.countdownTimer = nil
	next, effects, err := Transition(s.state, CountdownTick{Attempt: attempt, Now: s.scheduler.Now()})
	if err != nil {
		s.mu.Unlock()
		return
	}
	if next.Status == StatusExpired {
		zerolog.Ctx(s.base).Warn().
			Str(log.KeyTag, "Session tick").
			Str(log.KeyReferenceCode, s.state.ReferenceCode).
			Msg("payment window expired")
	}
	after := s.apply(s.base, next, effects)
	s.mu.Unlock()
	runAfter(after)
}

func (s *Session) poll(attempt uint64) {
	s.mu.Lock()
	if attempt != s.state.Attempt || s.state.Status != StatusAwaitingSettlement || s.closed {
		s.mu.Unlock()
		return
	}
	s.pollTimer = nil
	s.mu.Unlock()

	s.scheduler.Go(func() {
		_, err := s.verify(s.base, false)
		if err != nil && !errors.Is(err, commonErrors.ErrStaleResponse) {
			zerolog.Ctx(s.base).Debug().Err(err).Str(log.KeyTag, "Session poll").Msg("poll did not settle payment")
		}
	})
}

// publish outlives the verify call that settled the payment, so it drops the
// call's cancellation and waits at most publishTimeout for the publisher.
func (s *Session) publish(c context.Context, settlement Settlement) {
	c, cancel := context.WithTimeout(context.WithoutCancel(c), publishTimeout)
	defer cancel()
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Session publish").
		Str(log.KeyReferenceCode, settlement.ReferenceCode).
		Logger()

	logger = logger.With().Str(log.KeyProcess, "publishing settlement").Logger()
	logger.Info().Msg("publishing settlement")
	if err := s.publisher.Publish(c, settlement); err != nil {
		err = fmt.Errorf("failed publishing settlement with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	logger.Info().Msg("published settlement")
}

// gatewayMessage returns the gateway's own message for err, if any.
func gatewayMessage(err error) string {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		return gerr.Message
	}
	return ""
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Settlement) error { return nil }
