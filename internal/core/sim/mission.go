package sim

import (
	"sort"

	"github.com/zeusync/quadsim/internal/core/flight"
	"github.com/zeusync/quadsim/internal/core/systems/physics"
	"github.com/zeusync/quadsim/internal/core/telemetry"
)

// Mission scripts a flight. Next is called before every step with the latest
// snapshot and may return a command to inject; done ends the run.
type Mission interface {
	Next(s telemetry.Snapshot) (cmd flight.Command, done bool)
}

// MissionFunc adapts a function to Mission.
type MissionFunc func(s telemetry.Snapshot) (flight.Command, bool)

func (f MissionFunc) Next(s telemetry.Snapshot) (flight.Command, bool) { return f(s) }

var (
	phaseIdle  = flight.PhaseIdle.String()
	phaseHover = flight.PhaseHover.String()
)

// TimedMission takes off to Height, hovers for HoverDuration seconds once the
// climb has settled, then lands. It is done when the vehicle is IDLE again.
type TimedMission struct {
	Height        float64
	HoverDuration float64

	stage      int
	hoverStart float64
}

func NewTimedMission(height, hoverDuration float64) *TimedMission {
	return &TimedMission{Height: height, HoverDuration: hoverDuration}
}

func (m *TimedMission) Next(s telemetry.Snapshot) (flight.Command, bool) {
	switch m.stage {
	case 0:
		m.stage++
		return flight.Takeoff{Height: m.Height}, false
	case 1:
		if s.Phase == phaseHover {
			m.stage++
			m.hoverStart = s.Time
		}
	case 2:
		if s.Time-m.hoverStart >= m.HoverDuration {
			m.stage++
			return flight.Land{}, false
		}
	case 3:
		return nil, s.Phase == phaseIdle
	}
	return nil, false
}

// RouteMission takes off to Height and flies Waypoints in order. With Land
// set it lands after the last waypoint; otherwise it is done hovering there.
type RouteMission struct {
	Height    float64
	Waypoints []physics.Vec3
	Land      bool

	stage int
}

func NewRouteMission(height float64, waypoints []physics.Vec3, land bool) *RouteMission {
	return &RouteMission{Height: height, Waypoints: waypoints, Land: land}
}

func (m *RouteMission) Next(s telemetry.Snapshot) (flight.Command, bool) {
	switch m.stage {
	case 0:
		m.stage++
		return flight.Takeoff{Height: m.Height}, false
	case 1:
		if s.Phase == phaseHover {
			m.stage++
			return flight.FollowRoute{Waypoints: m.Waypoints}, false
		}
	case 2:
		// HOVER is only re-entered once the final waypoint is reached
		if s.Phase == phaseHover {
			if !m.Land {
				return nil, true
			}
			m.stage++
			return flight.Land{}, false
		}
	case 3:
		return nil, s.Phase == phaseIdle
	}
	return nil, false
}

// ScheduledCommand fires Command once simulated time reaches At.
type ScheduledCommand struct {
	At      float64
	Command flight.Command
}

// ScheduledMission replays commands at fixed times. It is done once every
// command has fired and EndAt has passed.
type ScheduledMission struct {
	EndAt float64

	schedule []ScheduledCommand
	next     int
}

func NewScheduledMission(endAt float64, schedule ...ScheduledCommand) *ScheduledMission {
	sorted := append([]ScheduledCommand(nil), schedule...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })
	return &ScheduledMission{EndAt: endAt, schedule: sorted}
}

// Next fires at most one command per step; commands due at the same instant
// go out on consecutive steps in schedule order.
func (m *ScheduledMission) Next(s telemetry.Snapshot) (flight.Command, bool) {
	if m.next < len(m.schedule) && s.Time >= m.schedule[m.next].At-1e-9 {
		cmd := m.schedule[m.next].Command
		m.next++
		return cmd, false
	}
	return nil, m.next == len(m.schedule) && s.Time >= m.EndAt
}

// FixedDuration never issues commands and is done after the given simulated time.
func FixedDuration(seconds float64) Mission {
	return MissionFunc(func(s telemetry.Snapshot) (flight.Command, bool) {
		return nil, s.Time >= seconds-1e-9
	})
}
