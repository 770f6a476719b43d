package physics

// Translational physics for a thrust/attitude driven vehicle.
// Attitude angles only decompose thrust into axes; no rotational
// dynamics are modeled.

// Kinematics is the read-only view of a vehicle that controllers consume.
type Kinematics interface {
	Position() Vec3
	Velocity() Vec3
	Grounded() bool
}

// DerivativeFunc returns the acceleration for a given position and velocity.
type DerivativeFunc func(position, velocity Vec3) Vec3

// Integrator advances position and velocity by one fixed step.
type Integrator interface {
	// Name returns the configuration identifier of the integrator.
	Name() string

	// Step integrates the state over dt using the derivative function.
	Step(position, velocity Vec3, accel DerivativeFunc, dt float64) (Vec3, Vec3)
}
