package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/storefront/internal/schedule"
)

var epoch = time.Date(2024, time.December, 1, 9, 0, 0, 0, time.UTC)

type event struct {
	kind    string
	message string
	at      time.Time
}

// recorder checks the single display slot on every change.
type recorder struct {
	t       *testing.T
	clock   *schedule.Manual
	events  []event
	visible int
}

func (r *recorder) Shown(n Notification) {
	r.visible++
	if r.visible > 1 {
		r.t.Errorf("two notifications visible at %s", r.clock.Now())
	}
	r.events = append(r.events, event{kind: "shown", message: n.Message, at: r.clock.Now()})
}

func (r *recorder) Hidden(n Notification) {
	r.visible--
	r.events = append(r.events, event{kind: "hidden", message: n.Message, at: r.clock.Now()})
}

func (r *recorder) shownOrder() []string {
	var messages []string
	for _, e := range r.events {
		if e.kind == "shown" {
			messages = append(messages, e.message)
		}
	}
	return messages
}

func setup(t *testing.T) (*Queue, *schedule.Manual, *recorder) {
	clock := schedule.NewManual(epoch)
	rec := &recorder{t: t, clock: clock}
	return New(clock, WithGap(300*time.Millisecond), WithListener(rec)), clock, rec
}

func TestQueueShowsInArrivalOrder(t *testing.T) {
	q, clock, rec := setup(t)
	c := context.Background()

	q.Enqueue(c, SeverityError, "A", 2*time.Second)
	q.Enqueue(c, SeverityInfo, "B", 2*time.Second)

	visible, ok := q.Visible()
	require.True(t, ok)
	assert.Equal(t, "A", visible.Message)
	assert.Len(t, q.Pending(), 1)

	clock.Advance(2 * time.Second)
	_, ok = q.Visible()
	assert.False(t, ok, "gap should separate A and B")

	clock.Advance(299 * time.Millisecond)
	_, ok = q.Visible()
	assert.False(t, ok)

	clock.Advance(time.Millisecond)
	visible, ok = q.Visible()
	require.True(t, ok)
	assert.Equal(t, "B", visible.Message)
	assert.Equal(t, epoch.Add(2300*time.Millisecond), visible.ShownAt)

	clock.Advance(2 * time.Second)
	_, ok = q.Visible()
	assert.False(t, ok)
	assert.Equal(t, []string{"A", "B"}, rec.shownOrder())
}

func TestQueueManyEnqueuesKeepFIFO(t *testing.T) {
	q, clock, rec := setup(t)
	c := context.Background()

	var expected []string
	for i := range 10 {
		msg := fmt.Sprintf("message-%d", i)
		expected = append(expected, msg)
		q.Enqueue(c, SeverityInfo, msg, time.Duration(i+1)*100*time.Millisecond)
		clock.Advance(150 * time.Millisecond)
	}
	clock.Advance(time.Minute)

	assert.Equal(t, expected, rec.shownOrder())
	assert.Zero(t, rec.visible)
	assert.Zero(t, clock.Pending())
}

func TestQueueManualDismissOnly(t *testing.T) {
	q, clock, rec := setup(t)
	c := context.Background()

	id := q.Enqueue(c, SeverityWarning, "sticky", 0)
	q.Enqueue(c, SeverityInfo, "next", time.Second)

	clock.Advance(time.Hour)
	visible, ok := q.Visible()
	require.True(t, ok)
	assert.Equal(t, "sticky", visible.Message)

	assert.True(t, q.Dismiss(id))
	assert.False(t, q.Dismiss(id))
	clock.Advance(300 * time.Millisecond)

	visible, ok = q.Visible()
	require.True(t, ok)
	assert.Equal(t, "next", visible.Message)
	assert.Equal(t, []string{"sticky", "next"}, rec.shownOrder())
}

func TestQueueDismissIgnoresQueuedItems(t *testing.T) {
	q, _, _ := setup(t)
	c := context.Background()

	q.Enqueue(c, SeverityInfo, "first", time.Second)
	queuedID := q.Enqueue(c, SeverityInfo, "second", time.Second)

	assert.False(t, q.Dismiss(queuedID))
	assert.Len(t, q.Pending(), 1)
}

func TestQueueDismissBeforeTimerCancelsAutoDismiss(t *testing.T) {
	q, clock, rec := setup(t)
	c := context.Background()

	id := q.Enqueue(c, SeverityInfo, "A", 2*time.Second)
	q.Enqueue(c, SeverityInfo, "B", 2*time.Second)

	clock.Advance(time.Second)
	require.True(t, q.Dismiss(id))
	clock.Advance(300 * time.Millisecond)

	visible, ok := q.Visible()
	require.True(t, ok)
	assert.Equal(t, "B", visible.Message)

	// A's original timer would have fired here; B must stay visible.
	clock.Advance(700 * time.Millisecond)
	visible, ok = q.Visible()
	require.True(t, ok)
	assert.Equal(t, "B", visible.Message)

	clock.Advance(1300 * time.Millisecond)
	_, ok = q.Visible()
	assert.False(t, ok)
	assert.Equal(t, []string{"A", "B"}, rec.shownOrder())
}

func TestQueueDismissAll(t *testing.T) {
	q, clock, rec := setup(t)
	c := context.Background()

	q.Enqueue(c, SeverityInfo, "A", time.Second)
	q.Enqueue(c, SeverityInfo, "B", time.Second)
	q.Enqueue(c, SeverityInfo, "C", time.Second)

	q.DismissAll()
	_, ok := q.Visible()
	assert.False(t, ok)
	assert.Empty(t, q.Pending())
	assert.Zero(t, clock.Pending())

	clock.Advance(time.Minute)
	assert.Equal(t, []string{"A"}, rec.shownOrder())

	q.Enqueue(c, SeverityInfo, "D", time.Second)
	visible, ok := q.Visible()
	require.True(t, ok)
	assert.Equal(t, "D", visible.Message)
}

func TestQueueIdleRestartsOnEnqueue(t *testing.T) {
	q, clock, rec := setup(t)
	c := context.Background()

	q.Enqueue(c, SeverityInfo, "A", time.Second)
	clock.Advance(10 * time.Second)
	_, ok := q.Visible()
	assert.False(t, ok)

	q.Enqueue(c, SeverityInfo, "B", time.Second)
	visible, ok := q.Visible()
	require.True(t, ok)
	assert.Equal(t, "B", visible.Message)
	assert.Equal(t, []string{"A", "B"}, rec.shownOrder())
}

func TestQueueMetrics(t *testing.T) {
	clock := schedule.NewManual(epoch)
	reg := prometheus.NewRegistry()
	q := New(clock, WithRegisterer(reg))
	c := context.Background()

	q.Enqueue(c, SeverityError, "A", time.Second)
	q.Enqueue(c, SeverityError, "B", time.Second)
	clock.Advance(time.Minute)

	assert.Equal(t, float64(2), testutil.ToFloat64(q.shownTotal.WithLabelValues(string(SeverityError))))
}

func TestSeverityValid(t *testing.T) {
	assert.True(t, SeveritySuccess.Valid())
	assert.True(t, SeverityWarning.Valid())
	assert.False(t, Severity("fatal").Valid())
}
