// Package fault defines the error taxonomy of the measured-launch path.
//
// Leaf packages return plain wrapped errors, the orchestrator maps them to
// an *Error carrying the Kind and the status code printed before reset.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a boot failure.
type Kind int

const (
	// BootContractViolation means firmware did not hand off correctly.
	BootContractViolation Kind = iota + 1
	// ImageValidationError means a boot module is not a loadable executable.
	ImageValidationError
	// DeviceProtocolError means a TIS claim or transaction failed.
	DeviceProtocolError
	// CapabilityError means a required CPU feature is missing or could not be enabled.
	CapabilityError
	// MultiprocessorQuiesceError means the application processors could not be halted.
	MultiprocessorQuiesceError
)

func (k Kind) String() string {
	switch k {
	case BootContractViolation:
		return "boot contract violation"
	case ImageValidationError:
		return "image validation error"
	case DeviceProtocolError:
		return "device protocol error"
	case CapabilityError:
		return "capability error"
	case MultiprocessorQuiesceError:
		return "multiprocessor quiesce error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified failure with a distinguishing status code.
type Error struct {
	Kind Kind
	Code int
	Msg  string
	Err  error
}

// New returns an *Error without a cause.
func New(kind Kind, code int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap returns an *Error caused by err.
func Wrap(kind Kind, code int, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%#x): %s", e.Kind, e.Code, e.Msg)
	}

	return fmt.Sprintf("%s (%#x): %s: %v", e.Kind, e.Code, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}

		if e.Kind == kind {
			return true
		}

		err = e.Err
	}

	return false
}

// CodeOf returns the status code of the outermost *Error in err's chain, or
// -1 when there is none.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return -1
}

// ExitCode returns the status code printed for err. Errors without an
// *Error in their chain map to CodeUnknown.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if code := CodeOf(err); code >= 0 {
		return code
	}

	return CodeUnknown
}
