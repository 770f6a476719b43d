package flight

import (
	"math"

	"github.com/zeusync/quadsim/internal/core/systems/physics"
)

// Gains are the proportional, integral and derivative weights of a PID loop.
type Gains struct {
	Kp float64 `json:"kp" yaml:"kp"`
	Ki float64 `json:"ki" yaml:"ki"`
	Kd float64 `json:"kd" yaml:"kd"`
}

// PID is a three-axis position loop. The measured velocity is used as the
// derivative term instead of differencing the error, which avoids a kick on
// setpoint changes.
type PID struct {
	gains    Gains
	dt       float64
	perTick  bool
	integral physics.Vec3
}

// NewPID creates a loop that accumulates error*dt per update, or raw error
// when perTick is set.
func NewPID(gains Gains, dt float64, perTick bool) *PID {
	return &PID{gains: gains, dt: dt, perTick: perTick}
}

// Update returns kp*error + ki*integral - kd*velocity for one tick.
func (p *PID) Update(target, current, velocity physics.Vec3) physics.Vec3 {
	e := target.Sub(current)
	if p.perTick {
		p.integral = p.integral.Add(e)
	} else {
		p.integral = p.integral.Add(e.Mul(p.dt))
	}
	derivative := velocity.Mul(-1)
	return e.Mul(p.gains.Kp).
		Add(p.integral.Mul(p.gains.Ki)).
		Add(derivative.Mul(p.gains.Kd))
}

// Reset clears the integral accumulator.
func (p *PID) Reset() { p.integral = physics.Vec3{} }

func (p *PID) Integral() physics.Vec3 { return p.integral }
func (p *PID) Gains() Gains           { return p.gains }

// Actuator turns a PID force demand into a control vector. Weight is
// compensated on the vertical channel before the demand is split into
// thrust and tilt.
type Actuator struct {
	Mass       float64
	Gravity    float64
	MaxThrust  float64
	MaxTilt    float64
	Dimensions physics.Dimensions
}

// ActuatorFor derives the actuator limits from vehicle parameters.
func ActuatorFor(p physics.Params) Actuator {
	return Actuator{
		Mass:       p.Mass,
		Gravity:    p.Gravity,
		MaxThrust:  p.MaxThrust,
		MaxTilt:    p.MaxTilt,
		Dimensions: p.Dimensions,
	}
}

// Control maps the demand u to thrust, roll and pitch. A vertical demand at
// or below zero yields a zero vector: thrust cannot pull the vehicle down,
// and tilt has no defined direction without thrust.
func (a Actuator) Control(u physics.Vec3) physics.ControlVector {
	f := a.Dimensions.Project(physics.Vec3{X: u.X, Y: u.Y, Z: u.Z + a.Mass*a.Gravity})
	if !(f.Z > 0) {
		return physics.ControlVector{}
	}

	thrust := f.Z
	if a.Dimensions != physics.Dim1 {
		thrust = f.Norm()
	}
	thrust = physics.Clamp(thrust, 0, a.MaxThrust)
	if thrust <= 0 {
		return physics.ControlVector{}
	}
	return physics.ControlVector{
		Thrust: thrust,
		Pitch:  physics.Clamp(math.Atan2(f.X, f.Z), -a.MaxTilt, a.MaxTilt),
		Roll:   physics.Clamp(math.Atan2(f.Y, f.Z), -a.MaxTilt, a.MaxTilt),
	}
}
