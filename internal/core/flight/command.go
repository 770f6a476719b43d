package flight

import (
	"math"

	"github.com/pkg/errors"

	"github.com/zeusync/quadsim/internal/core/systems/physics"
)

// Command is a discrete intent injected into the controller.
type Command interface {
	// Name returns a stable identifier used in logs and events.
	Name() string

	validate() error
}

// Takeoff climbs from the ground to Height above the takeoff point.
type Takeoff struct {
	Height float64 `json:"height"`
}

// Hover holds the current position.
type Hover struct{}

// MoveTo flies to Position: horizontal target plus altitude hold at Position.Z.
type MoveTo struct {
	Position physics.Vec3 `json:"position"`
}

// FollowRoute visits Waypoints in order and hovers at the last one.
type FollowRoute struct {
	Waypoints []physics.Vec3 `json:"waypoints"`
}

// Land descends to the ground below the current position.
type Land struct{}

func (Takeoff) Name() string     { return "takeoff" }
func (Hover) Name() string       { return "hover" }
func (MoveTo) Name() string      { return "move_to" }
func (FollowRoute) Name() string { return "follow_route" }
func (Land) Name() string        { return "land" }

func (c Takeoff) validate() error {
	if !(c.Height > 0) || math.IsInf(c.Height, 0) {
		return errors.Wrapf(ErrInvalidCommand, "takeoff height must be positive, got %v", c.Height)
	}
	return nil
}

func (Hover) validate() error { return nil }

func (c MoveTo) validate() error {
	if !c.Position.IsFinite() {
		return errors.Wrap(ErrInvalidCommand, "move target must be finite")
	}
	if c.Position.Z < 0 {
		return errors.Wrapf(ErrInvalidCommand, "move target below ground (z=%v)", c.Position.Z)
	}
	return nil
}

func (c FollowRoute) validate() error {
	if len(c.Waypoints) == 0 {
		return errors.Wrap(ErrInvalidCommand, "route has no waypoints")
	}
	for i, wp := range c.Waypoints {
		if err := (MoveTo{Position: wp}).validate(); err != nil {
			return errors.Wrapf(err, "waypoint %d", i)
		}
	}
	return nil
}

func (Land) validate() error { return nil }

// CommandSpec is the serialized form of a Command used by configuration files
// and remote clients.
type CommandSpec struct {
	Action    string         `json:"action" yaml:"action"`
	Height    float64        `json:"height,omitempty" yaml:"height,omitempty"`
	Position  *physics.Vec3  `json:"position,omitempty" yaml:"position,omitempty"`
	Waypoints []physics.Vec3 `json:"waypoints,omitempty" yaml:"waypoints,omitempty"`
}

// Command validates the action and its arguments.
func (s CommandSpec) Command() (Command, error) {
	var cmd Command
	switch s.Action {
	case Takeoff{}.Name():
		cmd = Takeoff{Height: s.Height}
	case Hover{}.Name():
		cmd = Hover{}
	case MoveTo{}.Name():
		if s.Position == nil {
			return nil, errors.Wrap(ErrInvalidCommand, "move_to needs a position")
		}
		cmd = MoveTo{Position: *s.Position}
	case FollowRoute{}.Name():
		cmd = FollowRoute{Waypoints: s.Waypoints}
	case Land{}.Name():
		cmd = Land{}
	default:
		return nil, errors.Wrapf(ErrInvalidCommand, "unknown action %q", s.Action)
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}
