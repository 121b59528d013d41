package fetcher

import (
	"errors"
	"fmt"
)

// Kind tells whether a failed fetch may succeed later.
type Kind int

const (
	// Transient failures (timeouts, resets, 5xx, 429) are eligible for a later run.
	Transient Kind = iota
	// Permanent failures (404, malformed URL, other 4xx) are never retried.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var ErrMalformedURL = errors.New("malformed URL")

// FetchError is returned once a fetch has failed for good within this run.
type FetchError struct {
	URL        string
	Kind       Kind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch failure for %s after %d attempt(s): HTTP %d", e.Kind, e.URL, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("%s fetch failure for %s after %d attempt(s): %v", e.Kind, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Transient
}

func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Permanent
}
