// Package telemetry carries per-tick flight snapshots out of the simulation:
// metrics, trajectory fingerprints and a compressed flight recorder.
package telemetry

import "github.com/zeusync/quadsim/internal/core/systems/physics"

// Snapshot is the observable state after one simulation step.
type Snapshot struct {
	RunID        string                `json:"run_id" msgpack:"run_id"`
	Tick         uint64                `json:"tick" msgpack:"tick"`
	Time         float64               `json:"time" msgpack:"time"`
	Position     physics.Vec3          `json:"position" msgpack:"position"`
	Velocity     physics.Vec3          `json:"velocity" msgpack:"velocity"`
	Acceleration physics.Vec3          `json:"acceleration" msgpack:"acceleration"`
	Control      physics.ControlVector `json:"control_input" msgpack:"control_input"`
	Phase        string                `json:"phase" msgpack:"phase"`
	Grounded     bool                  `json:"grounded" msgpack:"grounded"`
	Target       physics.Vec3          `json:"target" msgpack:"target"`
	Waypoint     int                   `json:"waypoint" msgpack:"waypoint"`
}

// PositionError is the straight-line distance to the active target.
func (s Snapshot) PositionError() float64 {
	return physics.Distance(s.Position, s.Target)
}
