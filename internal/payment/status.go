package payment

// Status is the normalized payment status shared across all providers.
// Every provider vocabulary is mapped into this set by its processor.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal attempts never
// transition again; applying the same terminal status twice is a no-op.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known normalized statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}
