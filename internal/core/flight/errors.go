package flight

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig marks controller settings that cannot produce a stable loop.
	ErrInvalidConfig = errors.New("flight: invalid configuration")
	// ErrCommandRejected is returned when a command is not valid in the current phase.
	ErrCommandRejected = errors.New("flight: command rejected in current phase")
	// ErrInvalidCommand is returned for malformed commands.
	ErrInvalidCommand = errors.New("flight: invalid command")
)
