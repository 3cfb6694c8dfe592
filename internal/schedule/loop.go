package schedule

import (
	"sync"
	"time"
)

type Loop struct {
	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func NewLoop() *Loop {
	l := &Loop{
		events: make(chan func()),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case fn := <-l.events:
			fn()
		case <-l.done:
			return
		}
	}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Handle {
	h := &loopHandle{}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timer = time.AfterFunc(d, func() {
		select {
		case l.events <- func() {
			if h.fire() {
				fn()
			}
		}:
		case <-l.done:
		}
	})
	return h
}

func (l *Loop) Go(fn func()) {
	go fn()
}

// Close stops the loop. Callbacks that have not started yet are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

type loopHandle struct {
	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

func (h *loopHandle) fire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	return true
}

func (h *loopHandle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	h.timer.Stop()
	return true
}
