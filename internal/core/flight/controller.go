package flight

import (
	"math"

	"github.com/pkg/errors"

	"github.com/zeusync/quadsim/internal/core/systems/physics"
)

// Pilot produces one control vector per physical step.
type Pilot interface {
	Tick(state physics.Kinematics) physics.ControlVector
	Phase() Phase
	Target() physics.Vec3
	WaypointIndex() int
	RouteComplete() bool
}

// Commandable pilots accept discrete commands.
type Commandable interface {
	SetCommand(cmd Command) error
}

// Transition reasons reported to hooks.
const (
	ReasonCommand         = "command"
	ReasonAltitudeReached = "altitude_reached"
	ReasonTargetReached   = "target_reached"
	ReasonWaypointReached = "waypoint_reached"
	ReasonRouteComplete   = "route_complete"
	ReasonTouchdown       = "touchdown"
)

// Transition describes a phase change, or a waypoint hand-over when From == To.
type Transition struct {
	From     Phase
	To       Phase
	Reason   string
	Command  string
	Waypoint int
	Target   physics.Vec3
}

// Config holds the loop gains, tolerances and the vehicle the loop flies.
type Config struct {
	Gains             Gains
	Dt                float64
	PositionTolerance float64
	VelocityTolerance float64
	// ResetIntegral clears the accumulator on every phase change and target
	// change. Disabling it reproduces a never-reset accumulator.
	ResetIntegral   bool
	IntegralPerTick bool
	Vehicle         physics.Params
}

// DefaultConfig returns the reference gains kp=2.0, ki=0.1, kd=0.5 at 100 Hz.
func DefaultConfig() Config {
	return Config{
		Gains:             Gains{Kp: 2.0, Ki: 0.1, Kd: 0.5},
		Dt:                0.01,
		PositionTolerance: 0.1,
		VelocityTolerance: 0.1,
		ResetIntegral:     true,
		Vehicle:           physics.DefaultParams(),
	}
}

func (c Config) Validate() error {
	for name, g := range map[string]float64{"kp": c.Gains.Kp, "ki": c.Gains.Ki, "kd": c.Gains.Kd} {
		if !(g >= 0) || math.IsInf(g, 0) {
			return errors.Wrapf(ErrInvalidConfig, "gain %s must be non-negative, got %v", name, g)
		}
	}
	if !(c.Dt > 0) || math.IsInf(c.Dt, 0) {
		return errors.Wrapf(ErrInvalidConfig, "dt must be positive, got %v", c.Dt)
	}
	if !(c.PositionTolerance > 0) {
		return errors.Wrapf(ErrInvalidConfig, "position tolerance must be positive, got %v", c.PositionTolerance)
	}
	if !(c.VelocityTolerance > 0) {
		return errors.Wrapf(ErrInvalidConfig, "velocity tolerance must be positive, got %v", c.VelocityTolerance)
	}
	if err := c.Vehicle.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "vehicle: %v", err)
	}
	return nil
}

type Option func(*Controller)

// WithTransitionHook registers fn to be called synchronously on every transition.
func WithTransitionHook(fn func(Transition)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.hooks = append(c.hooks, fn)
		}
	}
}

// anchor marks target components that are taken from the next observed position.
type anchor int

const (
	anchorNone anchor = iota
	anchorHorizontal
	anchorAll
)

// Controller is the flight-phase state machine. It is driven by exactly one
// Tick per physical step and is not safe for concurrent use.
type Controller struct {
	cfg   Config
	hold  *PIDStrategy
	route *WaypointStrategy

	phase         Phase
	target        physics.Vec3
	anchor        anchor
	routeComplete bool

	hooks []func(Transition)
}

var (
	_ Pilot       = (*Controller)(nil)
	_ Commandable = (*Controller)(nil)
)

// NewController returns an IDLE controller.
func NewController(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pid := NewPID(cfg.Gains, cfg.Dt, cfg.IntegralPerTick)
	c := &Controller{
		cfg:   cfg,
		hold:  NewPIDStrategy(pid, ActuatorFor(cfg.Vehicle)),
		phase: PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetCommand applies cmd immediately, replacing the current goal.
func (c *Controller) SetCommand(cmd Command) error {
	if cmd == nil {
		return errors.Wrap(ErrInvalidCommand, "nil command")
	}
	if err := cmd.validate(); err != nil {
		return err
	}

	switch cmd := cmd.(type) {
	case Takeoff:
		if c.phase != PhaseIdle {
			return c.reject(cmd)
		}
		c.clearRoute()
		c.setTarget(physics.Vec3{Z: cmd.Height}, anchorHorizontal)
		c.transition(PhaseTakeoff, ReasonCommand, cmd.Name())

	case Hover:
		if !c.phase.Airborne() {
			return c.reject(cmd)
		}
		c.clearRoute()
		if c.phase == PhaseTakeoff {
			c.setTarget(c.target, anchorHorizontal)
		} else {
			c.setTarget(c.target, anchorAll)
		}
		c.transition(PhaseHover, ReasonCommand, cmd.Name())

	case MoveTo:
		if c.phase != PhaseHover && c.phase != PhaseMoving {
			return c.reject(cmd)
		}
		c.clearRoute()
		c.setTarget(c.cfg.Vehicle.Dimensions.Project(cmd.Position), anchorNone)
		c.transition(PhaseMoving, ReasonCommand, cmd.Name())

	case FollowRoute:
		if c.phase != PhaseHover && c.phase != PhaseMoving {
			return c.reject(cmd)
		}
		route, err := NewWaypointStrategy(c.hold, cmd.Waypoints, c.cfg.PositionTolerance, c.cfg.ResetIntegral)
		if err != nil {
			return err
		}
		c.clearRoute()
		c.route = route
		c.setTarget(c.route.Active(), anchorNone)
		c.transition(PhaseMoving, ReasonCommand, cmd.Name())

	case Land:
		if c.phase == PhaseLanding {
			return nil
		}
		if !c.phase.Airborne() {
			return c.reject(cmd)
		}
		c.clearRoute()
		c.setTarget(physics.Vec3{X: c.target.X, Y: c.target.Y}, anchorHorizontal)
		c.transition(PhaseLanding, ReasonCommand, cmd.Name())

	default:
		return errors.Wrapf(ErrInvalidCommand, "unsupported command %T", cmd)
	}
	return nil
}

// Tick evaluates phase transitions against state and returns the control
// vector for this step.
func (c *Controller) Tick(state physics.Kinematics) physics.ControlVector {
	pos, vel := state.Position(), state.Velocity()
	c.resolveAnchor(pos)

	switch c.phase {
	case PhaseIdle:
		return physics.ControlVector{}

	case PhaseTakeoff:
		if math.Abs(pos.Z-c.target.Z) < c.cfg.PositionTolerance && vel.Norm() < c.cfg.VelocityTolerance {
			c.transition(PhaseHover, ReasonAltitudeReached, "")
		}

	case PhaseMoving:
		c.tickMoving(pos)

	case PhaseLanding:
		if state.Grounded() {
			c.transition(PhaseIdle, ReasonTouchdown, "")
			return physics.ControlVector{}
		}
	}

	return c.hold.Control(pos, c.target, vel)
}

func (c *Controller) tickMoving(pos physics.Vec3) {
	if c.route == nil {
		if physics.HorizontalDistance(pos, c.target) < c.cfg.PositionTolerance {
			c.transition(PhaseHover, ReasonTargetReached, "")
		}
		return
	}

	if c.route.Complete(pos) {
		c.routeComplete = true
		c.transition(PhaseHover, ReasonRouteComplete, "")
		return
	}
	reached := c.route.Index()
	if c.route.Advance(pos) {
		c.target = c.route.Active()
		c.emit(Transition{
			From:     PhaseMoving,
			To:       PhaseMoving,
			Reason:   ReasonWaypointReached,
			Waypoint: reached,
			Target:   c.target,
		})
	}
}

// AddTransitionHook registers fn after construction. Not safe to call
// concurrently with Tick or SetCommand.
func (c *Controller) AddTransitionHook(fn func(Transition)) {
	WithTransitionHook(fn)(c)
}

func (c *Controller) Phase() Phase         { return c.phase }
func (c *Controller) Target() physics.Vec3 { return c.target }
func (c *Controller) RouteComplete() bool  { return c.routeComplete }
func (c *Controller) Config() Config       { return c.cfg }

// Integral exposes the PID accumulator.
func (c *Controller) Integral() physics.Vec3 { return c.hold.PID().Integral() }

// WaypointIndex returns the active waypoint of the current route, or -1.
func (c *Controller) WaypointIndex() int {
	if c.route == nil {
		return -1
	}
	return c.route.Index()
}

func (c *Controller) reject(cmd Command) error {
	return errors.Wrapf(ErrCommandRejected, "%s in %s", cmd.Name(), c.phase)
}

func (c *Controller) clearRoute() {
	c.route = nil
	c.routeComplete = false
}

func (c *Controller) setTarget(target physics.Vec3, a anchor) {
	c.target = target
	c.anchor = a
	if c.cfg.ResetIntegral {
		c.hold.Reset()
	}
}

func (c *Controller) resolveAnchor(pos physics.Vec3) {
	switch c.anchor {
	case anchorHorizontal:
		c.target.X, c.target.Y = pos.X, pos.Y
	case anchorAll:
		c.target = pos
	}
	c.anchor = anchorNone
}

func (c *Controller) transition(to Phase, reason, command string) {
	from := c.phase
	c.phase = to
	if c.cfg.ResetIntegral && from != to {
		c.hold.Reset()
	}
	c.emit(Transition{
		From:     from,
		To:       to,
		Reason:   reason,
		Command:  command,
		Waypoint: c.WaypointIndex(),
		Target:   c.target,
	})
}

func (c *Controller) emit(t Transition) {
	for _, hook := range c.hooks {
		hook(t)
	}
}
