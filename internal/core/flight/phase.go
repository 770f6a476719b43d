package flight

// Phase is the current mode of the flight state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTakeoff
	PhaseHover
	PhaseMoving
	PhaseLanding
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseTakeoff:
		return "TAKEOFF"
	case PhaseHover:
		return "HOVER"
	case PhaseMoving:
		return "MOVING"
	case PhaseLanding:
		return "LANDING"
	default:
		return "UNKNOWN"
	}
}

// Airborne reports whether the phase expects the vehicle off the ground.
func (p Phase) Airborne() bool {
	return p == PhaseTakeoff || p == PhaseHover || p == PhaseMoving || p == PhaseLanding
}
