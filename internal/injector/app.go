package injector

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/quadsim/internal/config"
	"github.com/zeusync/quadsim/internal/core/events/bus"
	"github.com/zeusync/quadsim/internal/core/flight"
	"github.com/zeusync/quadsim/internal/core/observability/log"
	"github.com/zeusync/quadsim/internal/core/sim"
	"github.com/zeusync/quadsim/internal/core/systems/physics"
	"github.com/zeusync/quadsim/internal/server"
	"github.com/zeusync/quadsim/internal/store"
)

const shutdownTimeout = 5 * time.Second

// App is one fully wired simulation run. Server is nil unless a listen
// address is configured.
type App struct {
	Config    config.Config
	Logger    log.Log
	Bus       bus.EventBus
	Store     *store.Store
	Server    *server.Server
	Simulator *sim.Simulator
	Mission   sim.Mission
}

// Run flies the configured mission and stores its summary. With a telemetry
// server the run is paced to the wall clock and accepts client commands.
func (a *App) Run(ctx context.Context) (sim.Result, error) {
	ctx = log.ContextWithRunID(ctx, a.Simulator.ID())
	logger := a.Logger.WithContext(ctx)

	var (
		res sim.Result
		err error
	)
	if a.Server != nil {
		logger.Info("Serving telemetry", log.String("addr", a.Server.Addr()))
		res, err = a.Simulator.RunRealtime(ctx, a.Mission, sim.RealtimeOptions{
			FrameHz:  a.Config.Sim.RealtimeHz,
			Speed:    a.Config.Sim.Speed,
			Commands: a.Server.Commands(),
		})
	} else {
		res, err = a.Simulator.Run(ctx, a.Mission)
	}

	if cerr := a.Simulator.Close(); cerr != nil {
		logger.Warn("Failed to close recorder", log.Error(cerr))
	}
	if serr := a.Store.SaveRun(context.WithoutCancel(ctx), store.SummaryFromResult(res)); serr != nil {
		logger.Error("Failed to store run summary", log.Error(serr))
		if err == nil {
			err = serr
		}
	}
	return res, err
}

// DefaultRoute is flown by the comparison when the config names no waypoints.
var DefaultRoute = []physics.Vec3{{X: 2, Y: 2, Z: 5}, {X: 5, Y: 5, Z: 10}, {X: 3, Y: 7, Z: 8}}

// Scenarios builds the strategy comparison for cfg: a plain PID pilot
// steering straight at the final waypoint, a waypoint pilot flying the whole
// route, and the flight controller flying the route mission. All three run
// for the configured max duration (60 s when unset) on identical vehicles.
func Scenarios(cfg config.Config, logger log.Log) []sim.Scenario {
	route := cfg.Mission.Waypoints
	if len(route) == 0 {
		route = DefaultRoute
	}
	height := cfg.Mission.Height
	if height <= 0 {
		height = route[0].Z
	}
	duration := cfg.Sim.MaxDuration
	if duration <= 0 {
		duration = 60
	}
	fc := cfg.FlightConfig()

	newStrategy := func() *flight.PIDStrategy {
		return flight.NewPIDStrategy(
			flight.NewPID(fc.Gains, fc.Dt, fc.IntegralPerTick),
			flight.ActuatorFor(fc.Vehicle),
		)
	}
	build := func(name string, pilot func() (flight.Pilot, error), mission func() sim.Mission) func() (*sim.Simulator, sim.Mission, error) {
		return func() (*sim.Simulator, sim.Mission, error) {
			engine, err := ProvideEngine(cfg)
			if err != nil {
				return nil, nil, err
			}
			p, err := pilot()
			if err != nil {
				return nil, nil, err
			}
			s, err := sim.New(engine, p, fc.Dt,
				sim.WithName(name),
				sim.WithLogger(logger),
				sim.WithMaxDuration(duration),
			)
			return s, mission(), err
		}
	}

	return []sim.Scenario{
		{
			Name: "PID",
			Build: build("PID", func() (flight.Pilot, error) {
				return flight.NewStrategyPilot(newStrategy(), fc.Vehicle.Dimensions.Project(route[len(route)-1])), nil
			}, func() sim.Mission { return sim.FixedDuration(duration) }),
		},
		{
			Name: "Waypoint",
			Build: build("Waypoint", func() (flight.Pilot, error) {
				strategy, err := flight.NewWaypointStrategy(newStrategy(), route, fc.PositionTolerance, fc.ResetIntegral)
				if err != nil {
					return nil, err
				}
				return flight.NewStrategyPilot(strategy, strategy.Active()), nil
			}, func() sim.Mission { return sim.FixedDuration(duration) }),
		},
		{
			Name: "Controller",
			Build: build("Controller", func() (flight.Pilot, error) {
				ctrl, err := flight.NewController(fc)
				return ctrl, errors.Wrap(err, "controller scenario")
			}, func() sim.Mission { return sim.NewRouteMission(height, route, false) }),
		},
	}
}
