package flight

import "github.com/zeusync/quadsim/internal/core/systems/physics"

// StrategyPilot flies a bare Strategy toward a fixed target without the
// phase machine. It reports PhaseMoving while a strategy is attached.
type StrategyPilot struct {
	strategy Strategy
	target   physics.Vec3
}

var _ Pilot = (*StrategyPilot)(nil)

func NewStrategyPilot(strategy Strategy, target physics.Vec3) *StrategyPilot {
	return &StrategyPilot{strategy: strategy, target: target}
}

func (p *StrategyPilot) Tick(state physics.Kinematics) physics.ControlVector {
	if p.strategy == nil {
		return physics.ControlVector{}
	}
	return p.strategy.Control(state.Position(), p.target, state.Velocity())
}

func (p *StrategyPilot) Phase() Phase {
	if p.strategy == nil {
		return PhaseIdle
	}
	return PhaseMoving
}

// Target returns the active waypoint for route strategies.
func (p *StrategyPilot) Target() physics.Vec3 {
	if ws, ok := p.strategy.(*WaypointStrategy); ok {
		return ws.Active()
	}
	return p.target
}

func (p *StrategyPilot) WaypointIndex() int {
	if ws, ok := p.strategy.(*WaypointStrategy); ok {
		return ws.Index()
	}
	return -1
}

// RouteComplete is always false; a bare strategy never finishes on its own.
func (p *StrategyPilot) RouteComplete() bool { return false }
