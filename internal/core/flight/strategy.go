package flight

import (
	"github.com/pkg/errors"

	"github.com/zeusync/quadsim/internal/core/systems/physics"
)

// Strategy computes one control vector from the current kinematics and a goal.
type Strategy interface {
	Control(current, target, velocity physics.Vec3) physics.ControlVector
	Reset()
}

var (
	_ Strategy = (*PIDStrategy)(nil)
	_ Strategy = (*WaypointStrategy)(nil)
)

// PIDStrategy steers straight at the target.
type PIDStrategy struct {
	pid      *PID
	actuator Actuator
}

func NewPIDStrategy(pid *PID, actuator Actuator) *PIDStrategy {
	return &PIDStrategy{pid: pid, actuator: actuator}
}

func (s *PIDStrategy) Control(current, target, velocity physics.Vec3) physics.ControlVector {
	return s.actuator.Control(s.pid.Update(target, current, velocity))
}

func (s *PIDStrategy) Reset() { s.pid.Reset() }

// PID exposes the underlying loop.
func (s *PIDStrategy) PID() *PID { return s.pid }

// WaypointStrategy flies an ordered route, switching to the next waypoint
// once the vehicle is within tolerance of the active one. The target passed
// to Control is ignored.
type WaypointStrategy struct {
	inner          *PIDStrategy
	route          []physics.Vec3
	index          int
	tolerance      float64
	resetOnAdvance bool
}

// NewWaypointStrategy copies the route, projected onto the axes the inner
// actuator can steer; the caller may reuse its slice. The route must hold at
// least one valid waypoint.
func NewWaypointStrategy(inner *PIDStrategy, route []physics.Vec3, tolerance float64, resetOnAdvance bool) (*WaypointStrategy, error) {
	if inner == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "waypoint strategy needs an inner strategy")
	}
	if err := (FollowRoute{Waypoints: route}).validate(); err != nil {
		return nil, err
	}

	projected := make([]physics.Vec3, len(route))
	for i, wp := range route {
		projected[i] = inner.actuator.Dimensions.Project(wp)
	}
	return &WaypointStrategy{
		inner:          inner,
		route:          projected,
		tolerance:      tolerance,
		resetOnAdvance: resetOnAdvance,
	}, nil
}

// Control advances along the route when possible and steers at the active waypoint.
func (s *WaypointStrategy) Control(current, _, velocity physics.Vec3) physics.ControlVector {
	s.Advance(current)
	return s.inner.Control(current, s.Active(), velocity)
}

// Advance moves to the next waypoint if the active one is reached and is not the last.
func (s *WaypointStrategy) Advance(current physics.Vec3) bool {
	if s.index >= len(s.route)-1 || physics.Distance(current, s.Active()) >= s.tolerance {
		return false
	}
	s.index++
	if s.resetOnAdvance {
		s.inner.Reset()
	}
	return true
}

// Complete reports whether the final waypoint is within tolerance.
func (s *WaypointStrategy) Complete(current physics.Vec3) bool {
	return s.index == len(s.route)-1 && physics.Distance(current, s.Active()) < s.tolerance
}

func (s *WaypointStrategy) Reset() {
	s.index = 0
	s.inner.Reset()
}

func (s *WaypointStrategy) Active() physics.Vec3  { return s.route[s.index] }
func (s *WaypointStrategy) Index() int            { return s.index }
func (s *WaypointStrategy) Route() []physics.Vec3 { return s.route }
