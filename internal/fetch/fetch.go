// Package fetch retries idempotent reads that fail with a transient server
// status. State changing calls must not go through it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	"github.com/Alturino/storefront/internal/log"
	"github.com/Alturino/storefront/internal/otel"
	"github.com/Alturino/storefront/notification/pkg/queue"
)

const FailureMessage = "Something went wrong, please try again later."

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

type Notifier interface {
	Enqueue(c context.Context, severity queue.Severity, message string, duration time.Duration) string
}

type Policy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	Recoverable []int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		BaseDelay:   time.Second,
		Recoverable: []int{502, 503, 504},
	}
}

type Fetcher struct {
	policy         Policy
	recoverable    map[int]struct{}
	notifier       Notifier
	notifyDuration time.Duration
	newTimer       func() backoff.Timer

	attemptsTotal prometheus.Counter
	retriesTotal  prometheus.Counter
	failuresTotal prometheus.Counter
}

type Option func(*Fetcher)

// WithTimer replaces the wall clock timer used between retries.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(f *Fetcher) { f.newTimer = newTimer }
}

func WithNotificationDuration(d time.Duration) Option {
	return func(f *Fetcher) { f.notifyDuration = d }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(f *Fetcher) {
		factory := promauto.With(reg)
		f.attemptsTotal = factory.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "fetcher",
			Name:      "attempts_total",
			Help:      "Read attempts including retries.",
		})
		f.retriesTotal = factory.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "fetcher",
			Name:      "retries_total",
			Help:      "Reads retried after a recoverable status.",
		})
		f.failuresTotal = factory.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "fetcher",
			Name:      "failures_total",
			Help:      "Reads that failed after exhausting or skipping retries.",
		})
	}
}

func New(notifier Notifier, policy Policy, opts ...Option) *Fetcher {
	f := &Fetcher{
		policy:         policy,
		recoverable:    make(map[int]struct{}, len(policy.Recoverable)),
		notifier:       notifier,
		notifyDuration: 5 * time.Second,
		newTimer:       func() backoff.Timer { return nil },
	}
	for _, status := range policy.Recoverable {
		f.recoverable[status] = struct{}{}
	}
	WithRegisterer(nil)(f)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Recoverable reports whether err carries a status from the retry set.
func (f *Fetcher) Recoverable(err error) bool {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return false
	}
	_, ok := f.recoverable[sc.StatusCode()]
	return ok
}

func (f *Fetcher) Do(c context.Context, name string, op func(context.Context) error) error {
	_, err := Fetch(c, f, name, func(c context.Context) (struct{}, error) {
		return struct{}{}, op(c)
	})
	return err
}

// Fetch runs op, retrying recoverable failures with linear backoff. When it
// gives up it shows one failure notification and returns the last error. A
// cancelled context returns its error without a notification.
func Fetch[T any](
	c context.Context,
	f *Fetcher,
	name string,
	op func(context.Context) (T, error),
) (T, error) {
	c, span := otel.Tracer.Start(c, "Fetcher "+name)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Fetcher "+name).
		Logger()

	var (
		result  T
		attempt int
	)
	operation := func() error {
		attempt++
		f.attemptsTotal.Inc()
		v, err := op(c)
		if err == nil {
			result = v
			return nil
		}
		if !f.Recoverable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		f.retriesTotal.Inc()
		logger.Warn().
			Err(err).
			Int(log.KeyAttempt, attempt).
			Dur(log.KeyDelay, delay).
			Msg("retrying read after recoverable failure")
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: f.policy.BaseDelay}, uint64(max(f.policy.MaxRetries, 0))),
		c,
	)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, f.newTimer())
	span.SetAttributes(attribute.Int(log.KeyAttempt, attempt))
	if err == nil {
		return result, nil
	}

	var zero T
	if cerr := c.Err(); cerr != nil {
		logger.Debug().Err(cerr).Msg("read abandoned by caller")
		return zero, cerr
	}

	err = fmt.Errorf("failed %s after %d attempts with error=%w", name, attempt, err)
	commonErrors.HandleError(err, span)
	logger.Error().Err(err).Msg(err.Error())
	f.failuresTotal.Inc()
	f.notifier.Enqueue(c, queue.SeverityError, FailureMessage, f.notifyDuration)
	return zero, err
}
