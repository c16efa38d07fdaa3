package job

// Status is the observable state of a job record in the result store
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Record values. A key holding PlaceholderValue is a job still in flight;
// FailedValue marks a job whose retries were exhausted. Any other value is a label.
const (
	PlaceholderValue = ""
	FailedValue      = "!failed"
)

// StatusOf maps a stored value to its status. Callers handle the missing-key case.
func StatusOf(value string) Status {
	switch value {
	case PlaceholderValue:
		return StatusProcessing
	case FailedValue:
		return StatusFailed
	default:
		return StatusCompleted
	}
}
