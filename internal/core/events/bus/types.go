package bus

// Event types published by the simulator.
const (
	TypePhaseChanged    = "flight.phase_changed"
	TypeWaypointReached = "flight.waypoint_reached"
	TypeTouchdown       = "flight.touchdown"
	TypeCommandAccepted = "command.accepted"
	TypeCommandRejected = "command.rejected"
)

// TopicFlight scopes flight events when several simulators share one bus.
const TopicFlight = "flight"
