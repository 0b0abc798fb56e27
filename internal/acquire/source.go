package acquire

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidRequest is returned when a Source does not name exactly one
// usable input.
var ErrInvalidRequest = errors.New("invalid request")

// Upload is an image file sent with the request.
type Upload struct {
	Data     []byte
	Filename string
}

// RemoteURL is an image to download.
type RemoteURL struct {
	URL string
}

// Source describes where the image comes from. Exactly one field is set.
type Source struct {
	Upload    *Upload
	RemoteURL *RemoteURL
}

// FromUpload builds an upload Source.
func FromUpload(data []byte, filename string) Source {
	return Source{Upload: &Upload{Data: data, Filename: filename}}
}

// FromURL builds a remote Source.
func FromURL(rawURL string) Source {
	return Source{RemoteURL: &RemoteURL{URL: rawURL}}
}

// Validate checks the Source without touching the network or filesystem.
func (s Source) Validate() error {
	switch {
	case s.Upload == nil && s.RemoteURL == nil:
		return fmt.Errorf("%w: provide an uploaded file or an image URL", ErrInvalidRequest)
	case s.Upload != nil && s.RemoteURL != nil:
		return fmt.Errorf("%w: provide either an uploaded file or an image URL, not both", ErrInvalidRequest)
	case s.Upload != nil:
		if len(s.Upload.Data) == 0 {
			return fmt.Errorf("%w: uploaded file is empty", ErrInvalidRequest)
		}
		return nil
	default:
		return validateURL(s.RemoteURL.URL)
	}
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: image URL is empty", ErrInvalidRequest)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed image URL: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: image URL must use http or https", ErrInvalidRequest)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: image URL has no host", ErrInvalidRequest)
	}
	return nil
}
