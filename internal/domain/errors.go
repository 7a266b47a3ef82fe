package domain

import "errors"

var (
	// ErrNotFound is returned when an operation references an unknown run,
	// or a run with no agent token registered.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a run id is registered twice.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition is returned when the current status does not allow the operation.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidArgument is returned for malformed requests and events.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCommandDenied is returned when the command policy vetoes a command.
	ErrCommandDenied = errors.New("command denied")
)

// ErrorCode maps an error onto the code string used in API error bodies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrCommandDenied):
		return "COMMAND_DENIED"
	default:
		return "INTERNAL"
	}
}
