package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Alturino/storefront/internal/log"
	"github.com/Alturino/storefront/internal/schedule"
	"github.com/Alturino/storefront/notification/internal/common/otel"
)

const DefaultGap = 300 * time.Millisecond

// Queue shows notifications one at a time in arrival order. Each visible
// notification is removed by its own timer or by Dismiss, and the next one is
// shown after a fixed gap.
type Queue struct {
	mu        sync.Mutex
	scheduler schedule.Scheduler
	gap       time.Duration
	listeners []Listener

	pending  []Notification
	visible  *Notification
	draining bool
	// timer is either the auto-dismiss of the visible notification or the gap
	// before the next one, never both.
	timer schedule.Handle
	gen   uint64

	shownTotal *prometheus.CounterVec
}

type Option func(*Queue)

func WithGap(gap time.Duration) Option {
	return func(q *Queue) { q.gap = gap }
}

func WithListener(l Listener) Option {
	return func(q *Queue) { q.listeners = append(q.listeners, l) }
}

// WithRegisterer registers the queue metrics. Without it the metrics are
// kept but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(q *Queue) {
		q.shownTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "notification",
			Name:      "shown_total",
			Help:      "Notifications that reached the display slot.",
		}, []string{"severity"})
	}
}

func New(scheduler schedule.Scheduler, opts ...Option) *Queue {
	q := &Queue{scheduler: scheduler, gap: DefaultGap}
	WithRegisterer(nil)(q)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Enqueue(
	c context.Context,
	severity Severity,
	message string,
	duration time.Duration,
) string {
	c, span := otel.Tracer.Start(c, "Queue Enqueue")
	defer span.End()

	n := Notification{
		ID:         uuid.NewString(),
		Severity:   severity,
		Message:    message,
		Duration:   duration,
		EnqueuedAt: q.scheduler.Now(),
	}

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Queue Enqueue").
		Str(log.KeyNotificationID, n.ID).
		Str(log.KeySeverity, string(severity)).
		Logger()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, n)
	logger.Debug().Int(log.KeyPendingCount, len(q.pending)).Msg("enqueued notification")
	if !q.draining {
		q.draining = true
		q.showNext()
	}
	return n.ID
}

// Dismiss removes the notification with the given id if it is the visible
// one. Queued notifications are not affected.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.visible == nil || q.visible.ID != id {
		return false
	}
	q.hide()
	return true
}

// DismissAll clears the visible notification, drops everything queued and
// stops any pending timer.
func (q *Queue) DismissAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.timer = schedule.Stop(q.timer)
	q.gen++
	if q.visible != nil {
		n := *q.visible
		q.visible = nil
		for _, l := range q.listeners {
			l.Hidden(n)
		}
	}
	q.pending = nil
	q.draining = false
}

func (q *Queue) Visible() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.visible == nil {
		return Notification{}, false
	}
	return *q.visible, true
}

func (q *Queue) Pending() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Notification(nil), q.pending...)
}

// showNext must be called with q.mu held.
func (q *Queue) showNext() {
	if len(q.pending) == 0 {
		q.draining = false
		return
	}
	n := q.pending[0]
	q.pending = q.pending[1:]
	n.ShownAt = q.scheduler.Now()
	q.visible = &n
	q.shownTotal.WithLabelValues(string(n.Severity)).Inc()
	for _, l := range q.listeners {
		l.Shown(n)
	}

	if n.Duration > 0 {
		q.gen++
		gen, id := q.gen, n.ID
		q.timer = q.scheduler.AfterFunc(n.Duration, func() { q.expire(id, gen) })
	}
}

// hide must be called with q.mu held and a visible notification.
func (q *Queue) hide() {
	n := *q.visible
	q.visible = nil
	for _, l := range q.listeners {
		l.Hidden(n)
	}

	q.timer = schedule.Stop(q.timer)
	q.gen++
	gen := q.gen
	q.timer = q.scheduler.AfterFunc(q.gap, func() { q.next(gen) })
}

func (q *Queue) expire(id string, gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen || q.visible == nil || q.visible.ID != id {
		return
	}
	q.timer = nil
	q.hide()
}

func (q *Queue) next(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return
	}
	q.timer = nil
	q.showNext()
}
