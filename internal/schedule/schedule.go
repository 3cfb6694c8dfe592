// Package schedule hands out cancellable timer handles. Loop runs callbacks one
// at a time on its own goroutine; Manual is a virtual clock that runs due
// callbacks synchronously from Advance.
package schedule

import "time"

// Handle cancels a scheduled callback. Cancel reports whether the callback was
// still pending; false means it already ran or was cancelled before.
type Handle interface {
	Cancel() bool
}

type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Handle
	// Go runs fn outside the timer callback that calls it, for work that may
	// block such as a network round-trip.
	Go(fn func())
}

// Stop cancels h when it is not nil and returns nil so callers can reset the
// field they keep the handle in.
func Stop(h Handle) Handle {
	if h != nil {
		h.Cancel()
	}
	return nil
}
