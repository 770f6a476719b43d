package physics

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Dimensions selects which translational axes the model integrates.
type Dimensions int

const (
	// Dim1 integrates height only; tilt is ignored.
	Dim1 Dimensions = 1
	// Dim2 integrates the X/Z plane; roll is ignored.
	Dim2 Dimensions = 2
	// Dim3 integrates all three axes.
	Dim3 Dimensions = 3
)

func (d Dimensions) Valid() bool { return d >= Dim1 && d <= Dim3 }

// Project zeroes the axes d does not integrate. Unknown values leave v as is.
func (d Dimensions) Project(v Vec3) Vec3 {
	switch d {
	case Dim1:
		v.X, v.Y = 0, 0
	case Dim2:
		v.Y = 0
	}
	return v
}

// Params are the physical and actuator limits of a vehicle, fixed at construction.
type Params struct {
	Mass       float64    // kg
	Gravity    float64    // m/s²
	MaxThrust  float64    // N
	MaxTilt    float64    // rad
	Dimensions Dimensions
}

// DefaultParams returns the reference 1 kg quadrotor.
func DefaultParams() Params {
	return Params{
		Mass:       1.0,
		Gravity:    9.81,
		MaxThrust:  20.0,
		MaxTilt:    math.Pi / 4,
		Dimensions: Dim3,
	}
}

// Validate rejects parameters that would make the dynamics meaningless.
func (p Params) Validate() error {
	switch {
	case !(p.Mass > 0) || math.IsInf(p.Mass, 0):
		return errors.Wrapf(ErrInvalidConfig, "mass must be positive, got %v", p.Mass)
	case !(p.Gravity >= 0) || math.IsInf(p.Gravity, 0):
		return errors.Wrapf(ErrInvalidConfig, "gravity must be non-negative, got %v", p.Gravity)
	case !(p.MaxThrust > 0) || math.IsInf(p.MaxThrust, 0):
		return errors.Wrapf(ErrInvalidConfig, "max thrust must be positive, got %v", p.MaxThrust)
	case !(p.MaxTilt > 0) || p.MaxTilt >= math.Pi/2:
		return errors.Wrapf(ErrInvalidConfig, "max tilt must be in (0, pi/2), got %v", p.MaxTilt)
	case !p.Dimensions.Valid():
		return errors.Wrapf(ErrInvalidConfig, "dimensions must be 1, 2 or 3, got %d", p.Dimensions)
	}
	return nil
}

// HoverThrust is the thrust that exactly cancels gravity.
func (p Params) HoverThrust() float64 { return p.Mass * p.Gravity }

// ControlVector is one tick's actuator command. Angles are in radians.
type ControlVector struct {
	Thrust float64 `json:"thrust" msgpack:"thrust"`
	Roll   float64 `json:"roll" msgpack:"roll"`
	Pitch  float64 `json:"pitch" msgpack:"pitch"`
}

// Clamp saturates thrust to [0, maxThrust] and tilt to [-maxTilt, maxTilt].
func (c ControlVector) Clamp(maxThrust, maxTilt float64) ControlVector {
	return ControlVector{
		Thrust: Clamp(c.Thrust, 0, maxThrust),
		Roll:   Clamp(c.Roll, -maxTilt, maxTilt),
		Pitch:  Clamp(c.Pitch, -maxTilt, maxTilt),
	}
}

// VehicleState is the translational state owned by an Engine.
type VehicleState struct {
	Position     Vec3 `json:"position" msgpack:"position"`
	Velocity     Vec3 `json:"velocity" msgpack:"velocity"`
	Acceleration Vec3 `json:"acceleration" msgpack:"acceleration"`
	Grounded     bool `json:"grounded" msgpack:"grounded"`
}

type EngineOption func(*Engine)

// WithIntegrator selects the numerical method. RK4 is used otherwise.
func WithIntegrator(integrator Integrator) EngineOption {
	return func(e *Engine) {
		if integrator != nil {
			e.integrator = integrator
		}
	}
}

// WithInitialPosition starts the vehicle somewhere other than the origin.
// Negative heights are lifted to the ground plane.
func WithInitialPosition(p Vec3) EngineOption {
	return func(e *Engine) { e.initial = p }
}

// WithWind adds a zero-mean Gaussian acceleration disturbance on every axis
// the engine integrates. The seed makes runs reproducible.
func WithWind(stddev float64, seed uint64) EngineOption {
	return func(e *Engine) {
		if stddev > 0 {
			e.windStdDev = stddev
			e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		}
	}
}

// Engine integrates a single vehicle. It is not safe for concurrent use;
// one simulation loop owns it.
type Engine struct {
	params     Params
	integrator Integrator
	initial    Vec3
	state      VehicleState

	windStdDev float64
	rng        *rand.Rand
}

var _ Kinematics = (*Engine)(nil)

// NewEngine validates params and returns an engine at rest at its initial position.
func NewEngine(params Params, opts ...EngineOption) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		params:     params,
		integrator: RK4{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Reset(e.initial)
	return e, nil
}

// Reset places the vehicle at rest at p.
func (e *Engine) Reset(p Vec3) {
	p = e.mask(sanitizeVec(p))
	p.Z = math.Max(0, p.Z)
	e.state = VehicleState{Position: p, Grounded: p.Z <= 0}
}

// Integrate advances the state by exactly dt seconds under control.
// Out-of-range control saturates; a non-positive dt leaves the state untouched.
func (e *Engine) Integrate(control ControlVector, dt float64) VehicleState {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return e.state
	}

	control = e.limit(control)
	disturbance := e.windSample()
	accel := func(_, _ Vec3) Vec3 {
		return e.acceleration(control).Add(disturbance)
	}

	position, velocity := e.integrator.Step(e.state.Position, e.state.Velocity, accel, dt)
	position = sanitizeVec(e.mask(position))
	velocity = sanitizeVec(e.mask(velocity))
	acceleration := sanitizeVec(accel(position, velocity))

	grounded := false
	if position.Z <= 0 {
		position.Z = 0
		velocity.Z = 0
		if acceleration.Z < 0 {
			acceleration.Z = 0
		}
		grounded = true
	}

	e.state = VehicleState{
		Position:     position,
		Velocity:     velocity,
		Acceleration: acceleration,
		Grounded:     grounded,
	}
	return e.state
}

// Acceleration returns the acceleration a clamped control vector would produce,
// without wind and without advancing the state.
func (e *Engine) Acceleration(control ControlVector) Vec3 {
	return e.acceleration(e.limit(control))
}

func (e *Engine) State() VehicleState { return e.state }
func (e *Engine) Position() Vec3      { return e.state.Position }
func (e *Engine) Velocity() Vec3      { return e.state.Velocity }
func (e *Engine) Grounded() bool      { return e.state.Grounded }
func (e *Engine) Params() Params      { return e.params }

// Integrator returns the configured numerical method.
func (e *Engine) Integrator() Integrator { return e.integrator }

func (e *Engine) limit(c ControlVector) ControlVector {
	c = c.Clamp(e.params.MaxThrust, e.params.MaxTilt)
	switch e.params.Dimensions {
	case Dim1:
		c.Roll, c.Pitch = 0, 0
	case Dim2:
		c.Roll = 0
	}
	return c
}

func (e *Engine) acceleration(c ControlVector) Vec3 {
	p := e.params
	if p.Dimensions == Dim1 {
		return Vec3{Z: (c.Thrust - p.Mass*p.Gravity) / p.Mass}
	}
	specific := c.Thrust / p.Mass
	return e.mask(Vec3{
		X: specific * math.Sin(c.Pitch),
		Y: specific * math.Sin(c.Roll),
		Z: specific*math.Cos(c.Roll)*math.Cos(c.Pitch) - p.Gravity,
	})
}

func (e *Engine) windSample() Vec3 {
	if e.rng == nil {
		return Vec3{}
	}
	return e.mask(Vec3{
		X: e.rng.NormFloat64() * e.windStdDev,
		Y: e.rng.NormFloat64() * e.windStdDev,
		Z: e.rng.NormFloat64() * e.windStdDev,
	})
}

// mask zeroes the axes the configured dimensionality does not integrate.
func (e *Engine) mask(v Vec3) Vec3 {
	return e.params.Dimensions.Project(v)
}
