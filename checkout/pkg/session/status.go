package session

type Status string

const (
	StatusIdle               Status = "idle"
	StatusMethodSelected     Status = "method_selected"
	StatusProcessing         Status = "processing"
	StatusAwaitingSettlement Status = "awaiting_settlement"
	StatusSettled            Status = "settled"
	StatusExpired            Status = "expired"
	StatusCancelled          Status = "cancelled"
	StatusFailed             Status = "failed"
)

// Busy reports whether a payment attempt is in flight.
func (s Status) Busy() bool {
	return s == StatusProcessing || s == StatusAwaitingSettlement
}

// Cancellable reports whether Cancel is allowed from s.
func (s Status) Cancellable() bool {
	switch s {
	case StatusMethodSelected, StatusProcessing, StatusAwaitingSettlement, StatusFailed, StatusExpired:
		return true
	}
	return false
}
