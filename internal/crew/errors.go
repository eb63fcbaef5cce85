package crew

import "fmt"

// CallError reports a failed call to the reasoning service. It unwraps to the
// underlying error so transient failures stay retryable.
type CallError struct {
	Role string
	Task string
	Err  error
}

func (e *CallError) Error() string {
	if e == nil {
		return "reasoning call failed"
	}
	return fmt.Sprintf("reasoning call failed: role=%s task=%s: %v", e.Role, e.Task, e.Err)
}

func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
