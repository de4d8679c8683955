package workflow

import "errors"

// ErrMissingThread is returned when a step is requested without a thread id.
var ErrMissingThread = errors.New("missing thread id")

// ErrBusy is returned when a step for the same thread is already running.
var ErrBusy = errors.New("conversation step already running")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as unrecoverable: the conversation moves to Failed
// instead of being retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
