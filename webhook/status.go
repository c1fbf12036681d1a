package webhook

/* Status represents where an event is in its processing lifecycle
 * Follows: Pending -> Retrying* -> Processed/Failed
 */
type Status int

const (
	Pending Status = iota + 1
	Retrying
	Processed
	Failed
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Retrying:
		return "retrying"
	case Processed:
		return "processed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string
func NewStatus(str string) Status {
	switch str {
	case "retrying":
		return Retrying
	case "processed":
		return Processed
	case "failed":
		return Failed
	default:
		return Pending
	}
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Processed || s == Failed
}

// Statuses lists every valid status in lifecycle order.
func Statuses() []Status {
	return []Status{Pending, Retrying, Processed, Failed}
}
