package physics

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig marks vehicle parameters that make the model meaningless.
	ErrInvalidConfig = errors.New("physics: invalid configuration")
	// ErrUnknownIntegrator is returned for integrator names that are not registered.
	ErrUnknownIntegrator = errors.New("physics: unknown integrator")
)
