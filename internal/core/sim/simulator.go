// Package sim closes the loop between a flight pilot and the dynamics engine
// and runs missions against the pair.
package sim

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/quadsim/internal/core/events/bus"
	"github.com/zeusync/quadsim/internal/core/flight"
	"github.com/zeusync/quadsim/internal/core/observability/log"
	"github.com/zeusync/quadsim/internal/core/systems/physics"
	"github.com/zeusync/quadsim/internal/core/telemetry"
)

var (
	ErrInvalidConfig        = errors.New("sim: invalid configuration")
	ErrCommandsNotSupported = errors.New("sim: pilot does not accept commands")
)

// Result summarizes a finished or interrupted run.
type Result struct {
	RunID       string
	Name        string
	Integrator  string
	Completed   bool
	Final       telemetry.Snapshot
	Metrics     telemetry.Metrics
	Fingerprint string
	// RecorderErr is the first telemetry failure. Recording errors never stop a flight.
	RecorderErr error
}

type Option func(*Simulator)

func WithLogger(l log.Log) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBus publishes flight events on b under bus.TopicFlight.
func WithBus(b bus.EventBus) Option {
	return func(s *Simulator) { s.bus = b }
}

func WithRecorder(r telemetry.Recorder) Option {
	return func(s *Simulator) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Simulator) {
		if id != "" {
			s.id = id
		}
	}
}

func WithName(name string) Option {
	return func(s *Simulator) { s.name = name }
}

// WithMaxDuration bounds Run and RunRealtime in simulated seconds.
func WithMaxDuration(seconds float64) Option {
	return func(s *Simulator) { s.maxDuration = seconds }
}

type transitionSource interface {
	AddTransitionHook(fn func(flight.Transition))
}

// Simulator owns one engine and one pilot and advances them in lock-step.
// All methods must be called from a single goroutine.
type Simulator struct {
	id          string
	name        string
	engine      *physics.Engine
	pilot       flight.Pilot
	dt          float64
	maxDuration float64

	tick    uint64
	control physics.ControlVector

	metrics     telemetry.Metrics
	fingerprint *telemetry.Fingerprint
	recorder    telemetry.Recorder
	recorderErr error

	logger  log.Log
	bus     bus.EventBus
	pending []flight.Transition
}

// New pairs engine and pilot with a fixed step of dt seconds.
func New(engine *physics.Engine, pilot flight.Pilot, dt float64, opts ...Option) (*Simulator, error) {
	if engine == nil || pilot == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "engine and pilot are required")
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, errors.Wrapf(ErrInvalidConfig, "dt must be positive, got %v", dt)
	}

	s := &Simulator{
		id:          uuid.NewString(),
		engine:      engine,
		pilot:       pilot,
		dt:          dt,
		fingerprint: telemetry.NewFingerprint(),
		recorder:    telemetry.NopRecorder{},
		logger:      log.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(log.String("run_id", s.id))

	if src, ok := pilot.(transitionSource); ok {
		src.AddTransitionHook(func(t flight.Transition) {
			s.pending = append(s.pending, t)
		})
	}
	return s, nil
}

func (s *Simulator) ID() string              { return s.id }
func (s *Simulator) Name() string            { return s.name }
func (s *Simulator) Dt() float64             { return s.dt }
func (s *Simulator) Time() float64           { return float64(s.tick) * s.dt }
func (s *Simulator) Engine() *physics.Engine { return s.engine }
func (s *Simulator) Pilot() flight.Pilot     { return s.pilot }

// Snapshot describes the current state without stepping.
func (s *Simulator) Snapshot() telemetry.Snapshot {
	state := s.engine.State()
	return telemetry.Snapshot{
		RunID:        s.id,
		Tick:         s.tick,
		Time:         s.Time(),
		Position:     state.Position,
		Velocity:     state.Velocity,
		Acceleration: state.Acceleration,
		Control:      s.control,
		Phase:        s.pilot.Phase().String(),
		Grounded:     state.Grounded,
		Target:       s.pilot.Target(),
		Waypoint:     s.pilot.WaypointIndex(),
	}
}

// Step runs one pilot tick and one integration of dt.
func (s *Simulator) Step() telemetry.Snapshot {
	s.control = s.pilot.Tick(s.engine)
	s.engine.Integrate(s.control, s.dt)
	s.tick++

	snap := s.Snapshot()
	s.metrics.Observe(snap, s.dt, s.pilot.Phase().Airborne())
	s.fingerprint.Add(snap)
	s.flushTransitions()

	if err := s.recorder.Record(snap); err != nil && s.recorderErr == nil {
		s.recorderErr = err
		s.logger.Warn("telemetry recording failed", log.Error(err), log.Int64("tick", int64(snap.Tick)))
	}
	return snap
}

// SetCommand forwards cmd to the pilot and publishes the outcome.
func (s *Simulator) SetCommand(cmd flight.Command) error {
	commandable, ok := s.pilot.(flight.Commandable)
	if !ok {
		return ErrCommandsNotSupported
	}

	name := "nil"
	if cmd != nil {
		name = cmd.Name()
	}
	err := commandable.SetCommand(cmd)
	event := CommandEvent{
		RunID:   s.id,
		Time:    s.Time(),
		Command: name,
		Phase:   s.pilot.Phase().String(),
	}
	if err != nil {
		event.Error = err.Error()
		s.logger.Warn("command rejected", log.String("command", name), log.Error(err))
		s.publish(bus.TypeCommandRejected, event)
		return err
	}

	s.logger.Info("command accepted", log.String("command", name), log.Stringer("phase", s.pilot.Phase()))
	s.publish(bus.TypeCommandAccepted, event)
	s.flushTransitions()
	return nil
}

// Run steps until the mission is done, the configured duration elapses or
// ctx is cancelled. Cancellation returns ctx.Err() with a partial result.
func (s *Simulator) Run(ctx context.Context, mission Mission) (Result, error) {
	s.logger.Info("run started", log.String("name", s.name), log.Float64("dt", s.dt))
	for {
		if err := ctx.Err(); err != nil {
			return s.finish(false), err
		}
		done, stop := s.advance(mission)
		if stop {
			return s.finish(done), nil
		}
	}
}

// advance consults the mission and performs at most one step. stop reports
// that the run is over; done that the mission completed.
func (s *Simulator) advance(mission Mission) (done, stop bool) {
	if mission != nil {
		cmd, finished := mission.Next(s.Snapshot())
		if cmd != nil {
			// rejections are published and logged; the mission carries on
			_ = s.SetCommand(cmd)
		}
		if finished {
			return true, true
		}
	}
	if s.maxDuration > 0 && s.Time() >= s.maxDuration-s.dt/2 {
		return false, true
	}
	s.Step()
	return false, false
}

// Result reports the run so far.
func (s *Simulator) Result() Result {
	return Result{
		RunID:       s.id,
		Name:        s.name,
		Integrator:  s.engine.Integrator().Name(),
		Final:       s.Snapshot(),
		Metrics:     s.metrics,
		Fingerprint: s.fingerprint.String(),
		RecorderErr: s.recorderErr,
	}
}

func (s *Simulator) finish(completed bool) Result {
	r := s.Result()
	r.Completed = completed
	s.logger.Info("run finished",
		log.Bool("completed", completed),
		log.Float64("sim_time", r.Final.Time),
		log.String("phase", r.Final.Phase),
		log.Float64("energy_used", r.Metrics.EnergyUsed),
		log.String("fingerprint", r.Fingerprint),
	)
	return r
}

// Close releases the recorder.
func (s *Simulator) Close() error {
	return s.recorder.Close()
}

func (s *Simulator) flushTransitions() {
	pending := s.pending
	s.pending = nil
	for _, t := range pending {
		event := PhaseEvent{
			RunID:    s.id,
			Time:     s.Time(),
			From:     t.From.String(),
			To:       t.To.String(),
			Reason:   t.Reason,
			Command:  t.Command,
			Waypoint: t.Waypoint,
			Target:   t.Target,
			Position: s.engine.Position(),
		}

		if t.From == t.To {
			s.logger.Debug("waypoint reached", log.Int("waypoint", t.Waypoint))
			s.publish(bus.TypeWaypointReached, event)
			continue
		}
		s.logger.Info("phase changed",
			log.Stringer("from", t.From),
			log.Stringer("to", t.To),
			log.String("reason", t.Reason),
		)
		s.publish(bus.TypePhaseChanged, event)
		if t.Reason == flight.ReasonTouchdown {
			s.publish(bus.TypeTouchdown, event)
		}
	}
}

func (s *Simulator) publish(eventType string, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishToTopic(bus.TopicFlight, bus.NewEvent(eventType, s.id, data, nil)); err != nil {
		s.logger.Warn("event handler failed", log.String("type", eventType), log.Error(err))
	}
}
