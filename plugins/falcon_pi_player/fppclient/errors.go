package fppclient

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Client wraps exactly one of these.
var (
	ErrAuthentication = errors.New("fpp authentication failed")
	ErrNotFound       = errors.New("fpp resource not found")
	ErrConnection     = errors.New("fpp connection error")
	ErrUnexpected     = errors.New("fpp unexpected error")
)

// Error describes a failed request. The underlying cause stays reachable
// through errors.Is/As next to the kind sentinel.
type Error struct {
	Kind       error
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Method, e.URL)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("request for %q failed with status code %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Kind != nil {
		return e.Kind.Error() + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf reports which error kind err carries. Errors that did not come
// from a Client report ErrUnexpected; nil reports nil.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuthentication):
		return ErrAuthentication
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrConnection):
		return ErrConnection
	default:
		return ErrUnexpected
	}
}

func kindForStatus(code int) error {
	switch {
	case code == 401:
		return ErrAuthentication
	case code == 404:
		return ErrNotFound
	case code < 200 || code >= 300:
		return ErrConnection
	default:
		return nil
	}
}
