package counter

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedSynchronization is generated when a session is configured
	// with a synchronization that is not hardware timed
	ErrUnsupportedSynchronization = errors.New("this controller only works with hardware synchronization")

	// ErrUnknownParameter is generated when an axis parameter is not recognized
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrInvalidValue is generated when a parameter value cannot be converted
	// to the parameter's type
	ErrInvalidValue = errors.New("invalid parameter value")

	// ErrUnknownAxis is generated when an axis has no channel behind it
	ErrUnknownAxis = errors.New("unknown axis")

	// ErrNotConfigured is generated when a transition is requested before Configure
	ErrNotConfigured = errors.New("acquisition session is not configured")

	// ErrNotArmed is generated when a channel is read without being armed
	ErrNotArmed = errors.New("channel is not armed")

	// ErrNothingArmed is generated by Start when no channel was armed
	ErrNothingArmed = errors.New("no channels armed")

	// ErrInvalidTransition is generated when an operation is not allowed in
	// the current session state
	ErrInvalidTransition = errors.New("invalid state transition")
)

// RemoteError wraps a failure of the remote counter service.  The session
// never retries; it passes these up unchanged.
type RemoteError struct {
	// Op is the remote operation that failed, e.g. "start_channels"
	Op string

	// Err is the underlying transport or service error
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ni660x remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// TransformError is a position formula that could not be evaluated.
// It is never returned as the error of a read, only as the warning on a Reading.
type TransformError struct {
	Channel string
	Formula string
	Err     error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("channel %s: can not apply the formula %q: %v", e.Channel, e.Formula, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
