package acquire

import "fmt"

// Kind classifies why an acquisition failed.
type Kind int

const (
	// NetworkFailure covers transport errors, timeouts and non-2xx responses.
	NetworkFailure Kind = iota + 1
	// InvalidImageData means the bytes did not decode as a raster image.
	InvalidImageData
	// StorageFailure means the image could not be written to the upload directory.
	StorageFailure
)

func (k Kind) String() string {
	switch k {
	case NetworkFailure:
		return "network_failure"
	case InvalidImageData:
		return "invalid_image_data"
	case StorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// AcquisitionError is returned by Acquirer.Acquire.
type AcquisitionError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, detail string, err error) *AcquisitionError {
	return &AcquisitionError{Kind: kind, Detail: detail, Err: err}
}
