package sim

import "github.com/zeusync/quadsim/internal/core/systems/physics"

// PhaseEvent is the payload of phase, waypoint and touchdown events.
type PhaseEvent struct {
	RunID    string       `json:"run_id"`
	Time     float64      `json:"time"`
	From     string       `json:"from"`
	To       string       `json:"to"`
	Reason   string       `json:"reason"`
	Command  string       `json:"command,omitempty"`
	Waypoint int          `json:"waypoint"`
	Target   physics.Vec3 `json:"target"`
	Position physics.Vec3 `json:"position"`
}

// CommandEvent is the payload of command.accepted and command.rejected.
type CommandEvent struct {
	RunID   string  `json:"run_id"`
	Time    float64 `json:"time"`
	Command string  `json:"command"`
	Phase   string  `json:"phase"`
	Error   string  `json:"error,omitempty"`
}
