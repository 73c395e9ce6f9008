package tunnel

import "errors"

// Error kinds. Match them with errors.Is against any error returned by a
// Provider or Handle.
var (
	ErrBinaryNotFound = errors.New("binary not found")
	ErrNotAvailable   = errors.New("not available")
	ErrSpawnFailed    = errors.New("spawn failed")
	ErrURLParseFailed = errors.New("url parse failed")
	ErrProcessExited  = errors.New("process exited")
	ErrTimeout        = errors.New("timed out waiting for url")
)

// Error is the error type returned by providers.
type Error struct {
	Kind     error  // one of the Err* kinds above
	Provider string // provider name
	Reason   string // operator-facing detail, may be empty
	Err      error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Provider + ": " + e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func newError(provider string, kind error, reason string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Reason: reason, Err: err}
}
