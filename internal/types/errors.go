package types

import "errors"

// Error kinds shared by the inspection components. Callers match them with
// errors.Is; the wrapped message carries the cause.
var (
	ErrUnsupported     = errors.New("unsupported platform")
	ErrToolFailed      = errors.New("external tool failed")
	ErrMalformed       = errors.New("malformed output")
	ErrRemote          = errors.New("remote request failed")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDisabled        = errors.New("feature disabled")
)

// Kind returns a short label for the error kind of err, or "ok" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrToolFailed):
		return "tool_failed"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrRemote):
		return "remote"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	default:
		return "error"
	}
}
