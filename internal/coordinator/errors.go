package coordinator

import "errors"

var (
	// ErrUpdateFailed marks a transient fetch failure. Polling continues.
	ErrUpdateFailed = errors.New("update failed")
	// ErrAuthFailed marks a credential failure. Polling stops until reauth.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrNotReady is returned by FirstRefresh when the device is unreachable.
	ErrNotReady = errors.New("not ready")
)

type signal struct {
	kind error
	err  error
}

func (s *signal) Error() string {
	if s.err == nil {
		return s.kind.Error()
	}
	return s.kind.Error() + ": " + s.err.Error()
}

func (s *signal) Unwrap() []error {
	if s.err == nil {
		return []error{s.kind}
	}
	return []error{s.kind, s.err}
}

// UpdateFailed wraps err as a transient failure.
func UpdateFailed(err error) error {
	return &signal{kind: ErrUpdateFailed, err: err}
}

// AuthFailed wraps err as a credential failure.
func AuthFailed(err error) error {
	return &signal{kind: ErrAuthFailed, err: err}
}
