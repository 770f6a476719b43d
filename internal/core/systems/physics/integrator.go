package physics

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	IntegratorEuler = "euler"
	IntegratorRK4   = "rk4"
)

var (
	_ Integrator = Euler{}
	_ Integrator = RK4{}
)

// Euler is the semi-implicit Euler method:
// velocity is updated first and the new velocity moves the position.
type Euler struct{}

func (Euler) Name() string { return IntegratorEuler }

func (Euler) Step(position, velocity Vec3, accel DerivativeFunc, dt float64) (Vec3, Vec3) {
	a := accel(position, velocity)
	velocity = velocity.Add(a.Mul(dt))
	position = position.Add(velocity.Mul(dt))
	return position, velocity
}

// RK4 is the classic fourth-order Runge-Kutta method over (p, v) -> (v, a).
type RK4 struct{}

func (RK4) Name() string { return IntegratorRK4 }

func (RK4) Step(position, velocity Vec3, accel DerivativeFunc, dt float64) (Vec3, Vec3) {
	half := dt / 2

	k1p := velocity
	k1v := accel(position, velocity)

	k2p := velocity.Add(k1v.Mul(half))
	k2v := accel(position.Add(k1p.Mul(half)), k2p)

	k3p := velocity.Add(k2v.Mul(half))
	k3v := accel(position.Add(k2p.Mul(half)), k3p)

	k4p := velocity.Add(k3v.Mul(dt))
	k4v := accel(position.Add(k3p.Mul(dt)), k4p)

	dp := k1p.Add(k2p.Mul(2)).Add(k3p.Mul(2)).Add(k4p).Mul(dt / 6)
	dv := k1v.Add(k2v.Mul(2)).Add(k3v.Mul(2)).Add(k4v).Mul(dt / 6)
	return position.Add(dp), velocity.Add(dv)
}

// IntegratorByName resolves a configured integrator. An empty name selects RK4.
func IntegratorByName(name string) (Integrator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", IntegratorRK4:
		return RK4{}, nil
	case IntegratorEuler:
		return Euler{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownIntegrator, "integrator %q", name)
	}
}
