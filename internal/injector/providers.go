package injector

import (
	"context"

	"github.com/google/uuid"
	"github.com/google/wire"
	"github.com/pkg/errors"

	"github.com/zeusync/quadsim/internal/config"
	"github.com/zeusync/quadsim/internal/core/events/bus"
	"github.com/zeusync/quadsim/internal/core/flight"
	"github.com/zeusync/quadsim/internal/core/observability/log"
	"github.com/zeusync/quadsim/internal/core/sim"
	"github.com/zeusync/quadsim/internal/core/systems/physics"
	"github.com/zeusync/quadsim/internal/core/telemetry"
	"github.com/zeusync/quadsim/internal/server"
	"github.com/zeusync/quadsim/internal/store"
)

// RunID identifies one simulation run across logs, recordings and the store.
type RunID string

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideRunID,
	ProvideBus,
	ProvideStore,
	ProvideServer,
	ProvideRecorder,
	ProvideEngine,
	ProvideController,
	wire.Bind(new(flight.Pilot), new(*flight.Controller)),
	ProvideMission,
	ProvideSimulator,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) (*log.Logger, func()) {
	logger := log.New(cfg.LogOptions())
	return logger, func() { _ = logger.Close() }
}

func ProvideRunID() RunID {
	return RunID(uuid.NewString())
}

func ProvideBus() bus.EventBus {
	return bus.New()
}

func ProvideStore(cfg config.Config, logger log.Log) (*store.Store, func(), error) {
	s, err := store.Open(cfg.Telemetry.StorePath, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close run store", log.Error(err))
		}
	}, nil
}

// ProvideServer starts the telemetry server when a listen address is
// configured and forwards flight events to it. Without one it returns nil.
func ProvideServer(cfg config.Config, logger log.Log, b bus.EventBus) (*server.Server, func(), error) {
	if cfg.Telemetry.ListenAddr == "" {
		return nil, func() {}, nil
	}

	srv := server.NewServer(server.DefaultConfig(), logger)
	if err := srv.Start(context.Background(), cfg.Telemetry.ListenAddr); err != nil {
		return nil, nil, err
	}
	sub, err := b.SubscribeTopic(bus.TopicFlight, bus.Wildcard, srv.PublishEvent)
	if err != nil {
		_ = srv.Stop(context.Background())
		return nil, nil, errors.Wrap(err, "subscribe telemetry server")
	}

	return srv, func() {
		_ = sub.Cancel()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Warn("Failed to stop telemetry server", log.Error(err))
		}
	}, nil
}

// ProvideRecorder fans snapshots out to the flight recorder file and the
// telemetry server, whichever are configured.
func ProvideRecorder(cfg config.Config, id RunID, srv *server.Server) (telemetry.Recorder, func(), error) {
	var recorders telemetry.MultiRecorder
	if cfg.Telemetry.RecordPath != "" {
		file, err := telemetry.NewFileRecorder(cfg.Telemetry.RecordPath, telemetry.Header{
			Version:    telemetry.RecordingVersion,
			RunID:      string(id),
			Dt:         cfg.Sim.Dt,
			Integrator: cfg.Sim.Integrator,
		})
		if err != nil {
			return nil, nil, err
		}
		recorders = append(recorders, file)
	}
	if srv != nil {
		recorders = append(recorders, srv.Recorder())
	}
	return recorders, func() { _ = recorders.Close() }, nil
}

func ProvideEngine(cfg config.Config) (*physics.Engine, error) {
	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	return physics.NewEngine(cfg.VehicleParams(), opts...)
}

func ProvideController(cfg config.Config) (*flight.Controller, error) {
	return flight.NewController(cfg.FlightConfig())
}

func ProvideMission(cfg config.Config) (sim.Mission, error) {
	return cfg.Mission.Build()
}

func ProvideSimulator(
	cfg config.Config,
	id RunID,
	engine *physics.Engine,
	pilot flight.Pilot,
	logger log.Log,
	b bus.EventBus,
	recorder telemetry.Recorder,
) (*sim.Simulator, error) {
	return sim.New(engine, pilot, cfg.Sim.Dt,
		sim.WithRunID(string(id)),
		sim.WithName(cfg.Mission.Type),
		sim.WithLogger(logger),
		sim.WithBus(b),
		sim.WithRecorder(recorder),
		sim.WithMaxDuration(cfg.Sim.MaxDuration),
	)
}
