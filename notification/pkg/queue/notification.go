package queue

import "time"

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

func (s Severity) Valid() bool {
	switch s {
	case SeveritySuccess, SeverityError, SeverityInfo, SeverityWarning:
		return true
	}
	return false
}

// Notification is a message waiting for, or holding, the single display slot.
// A zero Duration means it stays visible until dismissed.
type Notification struct {
	ID         string        `json:"id"`
	Severity   Severity      `json:"severity"`
	Message    string        `json:"message"`
	Duration   time.Duration `json:"duration"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	ShownAt    time.Time     `json:"shownAt,omitempty"`
}

// Listener observes the display slot. It is called with the queue locked and
// must not call back into the queue.
type Listener interface {
	Shown(n Notification)
	Hidden(n Notification)
}
