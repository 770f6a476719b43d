package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/quadsim/internal/core/events/bus"
	"github.com/zeusync/quadsim/internal/core/flight"
	"github.com/zeusync/quadsim/internal/core/systems/physics"
	"github.com/zeusync/quadsim/internal/core/telemetry"
)

type eventLog struct {
	events []bus.Event
}

func (l *eventLog) types() []string {
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type()
	}
	return out
}

func (l *eventLog) phaseChanges() []string {
	var out []string
	for _, e := range l.events {
		if e.Type() == bus.TypePhaseChanged {
			p := e.Data().(PhaseEvent)
			out = append(out, p.From+">"+p.To)
		}
	}
	return out
}

func newSim(t *testing.T, engineOpts []physics.EngineOption, opts ...Option) (*Simulator, *eventLog) {
	t.Helper()
	cfg := flight.DefaultConfig()
	engine, err := physics.NewEngine(cfg.Vehicle, engineOpts...)
	require.NoError(t, err)
	ctrl, err := flight.NewController(cfg)
	require.NoError(t, err)

	events := &eventLog{}
	b := bus.New()
	_, err = b.SubscribeTopic(bus.TopicFlight, bus.Wildcard, func(e bus.Event) error {
		events.events = append(events.events, e)
		return nil
	})
	require.NoError(t, err)

	s, err := New(engine, ctrl, cfg.Dt, append([]Option{WithBus(b), WithMaxDuration(400)}, opts...)...)
	require.NoError(t, err)
	return s, events
}

func TestTimedMissionFliesFullCycle(t *testing.T) {
	rec := &telemetry.MemoryRecorder{}
	s, events := newSim(t, nil, WithRecorder(rec), WithName("timed"))

	res, err := s.Run(context.Background(), NewTimedMission(5, 5))
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, "timed", res.Name)
	assert.Equal(t, "rk4", res.Integrator)
	assert.Equal(t, "IDLE", res.Final.Phase)
	assert.True(t, res.Final.Grounded)
	assert.Equal(t, 0.0, res.Final.Position.Z)
	assert.Greater(t, res.Metrics.MaxAltitude, 5.0)
	assert.Less(t, res.Metrics.MaxAltitude, 10.0)
	assert.Positive(t, res.Metrics.EnergyUsed)
	assert.NoError(t, res.RecorderErr)

	assert.Equal(t, []string{
		"IDLE>TAKEOFF",
		"TAKEOFF>HOVER",
		"HOVER>LANDING",
		"LANDING>IDLE",
	}, events.phaseChanges())
	assert.Contains(t, events.types(), bus.TypeTouchdown)
	assert.Equal(t, bus.TypeTouchdown, events.types()[len(events.events)-1])

	snaps := rec.Snapshots()
	require.Len(t, snaps, int(res.Metrics.Ticks))
	for i, snap := range snaps {
		assert.Equal(t, uint64(i+1), snap.Tick)
		assert.Equal(t, s.ID(), snap.RunID)
		require.GreaterOrEqual(t, snap.Position.Z, 0.0)
	}
}

func TestTimedMissionHoversForDuration(t *testing.T) {
	s, events := newSim(t, nil)
	_, err := s.Run(context.Background(), NewTimedMission(5, 3))
	require.NoError(t, err)

	var hoverAt, landAt float64
	for _, e := range events.events {
		if e.Type() != bus.TypePhaseChanged {
			continue
		}
		p := e.Data().(PhaseEvent)
		switch p.To {
		case "HOVER":
			hoverAt = p.Time
		case "LANDING":
			landAt = p.Time
		}
	}
	assert.InDelta(t, 3.0, landAt-hoverAt, 0.03)
}

func TestRouteMissionVisitsEveryWaypoint(t *testing.T) {
	route := []physics.Vec3{{X: 2, Y: 2, Z: 5}, {X: 5, Y: 5, Z: 10}, {X: 3, Y: 7, Z: 8}}
	s, events := newSim(t, nil, WithMaxDuration(900))

	res, err := s.Run(context.Background(), NewRouteMission(5, route, false))
	require.NoError(t, err)
	require.True(t, res.Completed)
	assert.Equal(t, "HOVER", res.Final.Phase)
	assert.Equal(t, 2, res.Final.Waypoint)
	assert.Less(t, physics.Distance(res.Final.Position, route[2]), 0.3)

	var reached []int
	for _, e := range events.events {
		if e.Type() == bus.TypeWaypointReached {
			reached = append(reached, e.Data().(PhaseEvent).Waypoint)
		}
	}
	assert.Equal(t, []int{0, 1}, reached)
}

func TestRunStopsAtMaxDuration(t *testing.T) {
	s, _ := newSim(t, nil, WithMaxDuration(1))
	res, err := s.Run(context.Background(), FixedDuration(100))
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, uint64(100), res.Metrics.Ticks)
	assert.InDelta(t, 1.0, res.Final.Time, 1e-9)
}

func TestRunHonorsCancellation(t *testing.T) {
	s, _ := newSim(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Run(ctx, NewTimedMission(5, 5))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Completed)
	assert.Zero(t, res.Metrics.Ticks)
}

func TestFingerprintIsReproducible(t *testing.T) {
	run := func(seed uint64) string {
		s, _ := newSim(t, []physics.EngineOption{physics.WithWind(0.3, seed)}, WithMaxDuration(10))
		res, err := s.Run(context.Background(), NewTimedMission(3, 1))
		require.NoError(t, err)
		return res.Fingerprint
	}
	assert.Equal(t, run(7), run(7))
	assert.NotEqual(t, run(7), run(8))
}

func TestSetCommandPublishesOutcome(t *testing.T) {
	s, events := newSim(t, nil)

	err := s.SetCommand(flight.Land{})
	assert.ErrorIs(t, err, flight.ErrCommandRejected)
	require.NoError(t, s.SetCommand(flight.Takeoff{Height: 2}))

	require.Equal(t, []string{bus.TypeCommandRejected, bus.TypeCommandAccepted, bus.TypePhaseChanged}, events.types())
	rejected := events.events[0].Data().(CommandEvent)
	assert.Equal(t, "land", rejected.Command)
	assert.Equal(t, "IDLE", rejected.Phase)
	assert.NotEmpty(t, rejected.Error)
	assert.Equal(t, "TAKEOFF", events.events[1].Data().(CommandEvent).Phase)
}

func TestScheduledMissionFiresInOrder(t *testing.T) {
	s, events := newSim(t, nil)
	mission := NewScheduledMission(8,
		ScheduledCommand{At: 4, Command: flight.Land{}},
		ScheduledCommand{At: 0, Command: flight.Takeoff{Height: 3}},
	)

	res, err := s.Run(context.Background(), mission)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.InDelta(t, 8.0, res.Final.Time, 0.011)
	assert.Equal(t, []string{"IDLE>TAKEOFF", "TAKEOFF>LANDING", "LANDING>IDLE"}, events.phaseChanges())
}

func TestStrategyPilotRejectsCommands(t *testing.T) {
	params := physics.DefaultParams()
	engine, err := physics.NewEngine(params)
	require.NoError(t, err)
	pilot := flight.NewStrategyPilot(nil, physics.Vec3{})

	s, err := New(engine, pilot, 0.01)
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetCommand(flight.Hover{}), ErrCommandsNotSupported)
}

func TestNewValidates(t *testing.T) {
	engine, err := physics.NewEngine(physics.DefaultParams())
	require.NoError(t, err)
	pilot := flight.NewStrategyPilot(nil, physics.Vec3{})

	_, err = New(nil, pilot, 0.01)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(engine, pilot, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type brokenRecorder struct{ telemetry.NopRecorder }

func (brokenRecorder) Record(telemetry.Snapshot) error { return errors.New("disk full") }

func TestRecorderFailureDoesNotAbortFlight(t *testing.T) {
	s, _ := newSim(t, nil, WithRecorder(brokenRecorder{}))
	res, err := s.Run(context.Background(), FixedDuration(0.5))
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.EqualError(t, res.RecorderErr, "disk full")
	assert.Equal(t, uint64(50), res.Metrics.Ticks)
}

func TestCompareKeepsScenarioOrder(t *testing.T) {
	params := physics.DefaultParams()
	gains := flight.DefaultConfig().Gains
	target := physics.Vec3{X: 5, Y: 5, Z: 10}
	route := []physics.Vec3{{X: 2, Y: 2, Z: 5}, {X: 5, Y: 5, Z: 10}}

	build := func(strategy func() (flight.Strategy, error)) func() (*Simulator, Mission, error) {
		return func() (*Simulator, Mission, error) {
			engine, err := physics.NewEngine(params)
			if err != nil {
				return nil, nil, err
			}
			st, err := strategy()
			if err != nil {
				return nil, nil, err
			}
			s, err := New(engine, flight.NewStrategyPilot(st, target), 0.01)
			return s, FixedDuration(20), err
		}
	}
	pidStrategy := func() *flight.PIDStrategy {
		return flight.NewPIDStrategy(flight.NewPID(gains, 0.01, false), flight.ActuatorFor(params))
	}

	results, err := Compare(context.Background(), 2,
		Scenario{Name: "PID", Build: build(func() (flight.Strategy, error) {
			return pidStrategy(), nil
		})},
		Scenario{Name: "Waypoint", Build: build(func() (flight.Strategy, error) {
			return flight.NewWaypointStrategy(pidStrategy(), route, 0.1, true)
		})},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "PID", results[0].Name)
	assert.Equal(t, "Waypoint", results[1].Name)
	for _, r := range results {
		assert.True(t, r.Completed)
		assert.Equal(t, uint64(2000), r.Metrics.Ticks)
	}
	assert.NotEqual(t, results[0].Fingerprint, results[1].Fingerprint)

	_, err = Compare(context.Background(), 0, Scenario{Name: "empty"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunRealtimeAppliesExternalCommands(t *testing.T) {
	s, _ := newSim(t, nil)
	commands := make(chan flight.Command, 1)
	commands <- flight.Takeoff{Height: 4}

	start := time.Now()
	res, err := s.RunRealtime(context.Background(), FixedDuration(1), RealtimeOptions{
		FrameHz:  200,
		Speed:    50,
		Commands: commands,
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "TAKEOFF", res.Final.Phase)
	assert.Positive(t, res.Final.Position.Z)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunRealtimeCancellation(t *testing.T) {
	s, _ := newSim(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.RunRealtime(ctx, nil, RealtimeOptions{FrameHz: 100})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, s.Time(), 1.0)
}

var errFlush = errors.New("flush failed")

type flushFailRecorder struct{ telemetry.NopRecorder }

func (flushFailRecorder) Close() error { return errFlush }

func TestCompareReportsRecorderCloseFailure(t *testing.T) {
	results, err := Compare(context.Background(), 1, Scenario{
		Name: "flaky",
		Build: func() (*Simulator, Mission, error) {
			engine, err := physics.NewEngine(physics.DefaultParams())
			if err != nil {
				return nil, nil, err
			}
			s, err := New(engine, flight.NewStrategyPilot(nil, physics.Vec3{}), 0.01, WithRecorder(flushFailRecorder{}))
			return s, FixedDuration(0.1), err
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlush)
	assert.Contains(t, err.Error(), "flaky")
	assert.Nil(t, results)
}
