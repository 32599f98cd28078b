package webhook

import "fmt"

// PermanentError is a webhook response that retrying cannot fix:
// a 4xx other than 429. The occurrence goes terminal FAILED.
type PermanentError struct {
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("webhook rejected delivery: status %d", e.StatusCode)
}

// InfrastructureError means the transient retry budget is spent:
// transport failures, timeouts, 429s and 5xx all the way through.
type InfrastructureError struct {
	Attempts int
	Cause    error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("webhook delivery failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Cause
}
