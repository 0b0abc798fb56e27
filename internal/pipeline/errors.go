package pipeline

import (
	"fmt"

	"github.com/Brownie44l1/fundus-api/internal/acquire"
)

// Code identifies a pipeline failure class.
type Code string

const (
	InvalidRequest    Code = "invalid_request"
	AcquisitionFailed Code = "acquisition_failed"
	ModelUnavailable  Code = "model_unavailable"
	InferenceFailed   Code = "inference_failed"
)

// Error is the only error type Run returns. Kind is set for
// AcquisitionFailed.
type Error struct {
	Code   Code
	Kind   acquire.Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Code == AcquisitionFailed {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}
