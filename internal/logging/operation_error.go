package logging

import "fmt"

// OperationError tags a failure with the pipeline step and request that
// produced it, so one log line carries both.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e.RequestID == "" {
		return e.Operation + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s [%s]: %v", e.Operation, e.RequestID, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// NewOperationError returns nil for a nil err.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}
