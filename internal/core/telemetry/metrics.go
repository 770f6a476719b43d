package telemetry

import "math"

// Metrics accumulates flight statistics over a run.
type Metrics struct {
	Ticks       uint64  `json:"ticks"`
	SimTime     float64 `json:"sim_time"`
	EnergyUsed  float64 `json:"energy_used"` // N·s of thrust
	MaxAltitude float64 `json:"max_altitude"`

	errorSum     float64
	errorSamples uint64
}

// Observe folds one snapshot taken after a step of length dt. Position error
// is only sampled while the vehicle is flying toward a target.
func (m *Metrics) Observe(s Snapshot, dt float64, airborne bool) {
	m.Ticks++
	m.SimTime = s.Time
	m.EnergyUsed += s.Control.Thrust * dt
	m.MaxAltitude = math.Max(m.MaxAltitude, s.Position.Z)
	if airborne {
		m.errorSum += s.PositionError()
		m.errorSamples++
	}
}

// MeanPositionError is the average distance to target over airborne ticks.
func (m *Metrics) MeanPositionError() float64 {
	if m.errorSamples == 0 {
		return 0
	}
	return m.errorSum / float64(m.errorSamples)
}
