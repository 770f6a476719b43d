// Package config loads the YAML description of a simulation run.
package config

import (
	"io"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/quadsim/internal/core/flight"
	"github.com/zeusync/quadsim/internal/core/observability/log"
	"github.com/zeusync/quadsim/internal/core/sim"
	"github.com/zeusync/quadsim/internal/core/systems/physics"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Mission types.
const (
	MissionNone      = "none"
	MissionTimed     = "timed"
	MissionRoute     = "route"
	MissionScheduled = "scheduled"
)

type Config struct {
	Vehicle    VehicleConfig    `yaml:"vehicle"`
	Sim        SimConfig        `yaml:"sim"`
	Controller ControllerConfig `yaml:"controller"`
	Mission    MissionConfig    `yaml:"mission"`
	Log        LogConfig        `yaml:"log"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type VehicleConfig struct {
	Mass            float64      `yaml:"mass"`
	Gravity         float64      `yaml:"gravity"`
	MaxThrust       float64      `yaml:"max_thrust"`
	MaxTilt         float64      `yaml:"max_tilt"` // rad
	Dimensions      int          `yaml:"dimensions"`
	InitialPosition physics.Vec3 `yaml:"initial_position"`
	WindStdDev      float64      `yaml:"wind_stddev"`
	Seed            uint64       `yaml:"seed"`
}

type SimConfig struct {
	Dt          float64 `yaml:"dt"`
	Integrator  string  `yaml:"integrator"`
	MaxDuration float64 `yaml:"max_duration"`
	RealtimeHz  float64 `yaml:"realtime_hz"`
	Speed       float64 `yaml:"speed"`
}

type ControllerConfig struct {
	Kp              float64 `yaml:"kp"`
	Ki              float64 `yaml:"ki"`
	Kd              float64 `yaml:"kd"`
	PosTolerance    float64 `yaml:"pos_tolerance"`
	VelTolerance    float64 `yaml:"vel_tolerance"`
	ResetIntegral   bool    `yaml:"reset_integral_on_phase_change"`
	IntegralPerTick bool    `yaml:"integral_per_tick"`
}

type ScheduleEntry struct {
	At                 float64 `yaml:"at"`
	flight.CommandSpec `yaml:",inline"`
}

type MissionConfig struct {
	Type          string          `yaml:"type"`
	Height        float64         `yaml:"height"`
	HoverDuration float64         `yaml:"hover_duration"`
	Waypoints     []physics.Vec3  `yaml:"waypoints"`
	Land          bool            `yaml:"land"`
	Schedule      []ScheduleEntry `yaml:"schedule"`
	EndAt         float64         `yaml:"end_at"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type TelemetryConfig struct {
	RecordPath string `yaml:"record_path"`
	ListenAddr string `yaml:"listen_addr"`
	StorePath  string `yaml:"store_path"`
}

// Default describes the reference flight: a 1 kg vehicle at 100 Hz taking off
// to 5 m, hovering 5 s and landing.
func Default() Config {
	params := physics.DefaultParams()
	fc := flight.DefaultConfig()
	return Config{
		Vehicle: VehicleConfig{
			Mass:       params.Mass,
			Gravity:    params.Gravity,
			MaxThrust:  params.MaxThrust,
			MaxTilt:    params.MaxTilt,
			Dimensions: int(params.Dimensions),
		},
		Sim: SimConfig{
			Dt:          fc.Dt,
			Integrator:  physics.IntegratorRK4,
			MaxDuration: 300,
			RealtimeHz:  60,
			Speed:       1,
		},
		Controller: ControllerConfig{
			Kp:            fc.Gains.Kp,
			Ki:            fc.Gains.Ki,
			Kd:            fc.Gains.Kd,
			PosTolerance:  fc.PositionTolerance,
			VelTolerance:  fc.VelocityTolerance,
			ResetIntegral: fc.ResetIntegral,
		},
		Mission: MissionConfig{
			Type:          MissionTimed,
			Height:        5,
			HoverDuration: 5,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  32,
			MaxBackups: 1,
		},
	}
}

// Load decodes YAML from r over the defaults and validates the result.
// Unknown keys are rejected; an empty document yields the defaults.
func Load(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()
	c, err := Load(f)
	return c, errors.Wrapf(err, "load %s", path)
}

// Validate checks every section. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	invalid := func(err error, section string) error {
		return errors.Wrapf(ErrInvalidConfig, "%s: %v", section, err)
	}

	if err := c.VehicleParams().Validate(); err != nil {
		return invalid(err, "vehicle")
	}
	if c.Vehicle.WindStdDev < 0 {
		return invalid(errors.Errorf("wind_stddev must be non-negative, got %v", c.Vehicle.WindStdDev), "vehicle")
	}
	if _, err := physics.IntegratorByName(c.Sim.Integrator); err != nil {
		return invalid(err, "sim")
	}
	if c.Sim.MaxDuration < 0 || c.Sim.RealtimeHz < 0 || c.Sim.Speed < 0 {
		return invalid(errors.New("max_duration, realtime_hz and speed must be non-negative"), "sim")
	}
	if err := c.FlightConfig().Validate(); err != nil {
		return invalid(err, "controller")
	}
	if _, err := c.Mission.Build(); err != nil {
		return invalid(err, "mission")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return invalid(err, "log")
	}
	return nil
}

func (c Config) VehicleParams() physics.Params {
	return physics.Params{
		Mass:       c.Vehicle.Mass,
		Gravity:    c.Vehicle.Gravity,
		MaxThrust:  c.Vehicle.MaxThrust,
		MaxTilt:    c.Vehicle.MaxTilt,
		Dimensions: physics.Dimensions(c.Vehicle.Dimensions),
	}
}

// EngineOptions translates the vehicle and sim sections into engine options.
func (c Config) EngineOptions() ([]physics.EngineOption, error) {
	integrator, err := physics.IntegratorByName(c.Sim.Integrator)
	if err != nil {
		return nil, err
	}
	opts := []physics.EngineOption{
		physics.WithIntegrator(integrator),
		physics.WithInitialPosition(c.Vehicle.InitialPosition),
	}
	if c.Vehicle.WindStdDev > 0 {
		opts = append(opts, physics.WithWind(c.Vehicle.WindStdDev, c.Vehicle.Seed))
	}
	return opts, nil
}

func (c Config) FlightConfig() flight.Config {
	return flight.Config{
		Gains:             flight.Gains{Kp: c.Controller.Kp, Ki: c.Controller.Ki, Kd: c.Controller.Kd},
		Dt:                c.Sim.Dt,
		PositionTolerance: c.Controller.PosTolerance,
		VelocityTolerance: c.Controller.VelTolerance,
		ResetIntegral:     c.Controller.ResetIntegral,
		IntegralPerTick:   c.Controller.IntegralPerTick,
		Vehicle:           c.VehicleParams(),
	}
}

func (c Config) LogOptions() log.Options {
	level, _ := log.ParseLevel(c.Log.Level)
	return log.Options{
		Level:      level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

// Build returns a fresh mission; missions are stateful and must not be shared
// between runs. The "none" type yields a nil mission.
func (m MissionConfig) Build() (sim.Mission, error) {
	switch strings.ToLower(m.Type) {
	case "", MissionNone:
		return nil, nil

	case MissionTimed:
		if !validHeight(m.Height) {
			return nil, errors.Errorf("timed mission height must be positive, got %v", m.Height)
		}
		if m.HoverDuration < 0 {
			return nil, errors.Errorf("hover_duration must be non-negative, got %v", m.HoverDuration)
		}
		return sim.NewTimedMission(m.Height, m.HoverDuration), nil

	case MissionRoute:
		if !validHeight(m.Height) {
			return nil, errors.Errorf("route mission height must be positive, got %v", m.Height)
		}
		if _, err := (flight.CommandSpec{Action: flight.FollowRoute{}.Name(), Waypoints: m.Waypoints}).Command(); err != nil {
			return nil, err
		}
		return sim.NewRouteMission(m.Height, m.Waypoints, m.Land), nil

	case MissionScheduled:
		if len(m.Schedule) == 0 {
			return nil, errors.New("scheduled mission has no entries")
		}
		entries := make([]sim.ScheduledCommand, len(m.Schedule))
		for i, e := range m.Schedule {
			cmd, err := e.CommandSpec.Command()
			if err != nil {
				return nil, errors.Wrapf(err, "schedule entry %d", i)
			}
			if e.At < 0 {
				return nil, errors.Errorf("schedule entry %d: negative time %v", i, e.At)
			}
			entries[i] = sim.ScheduledCommand{At: e.At, Command: cmd}
		}
		return sim.NewScheduledMission(m.EndAt, entries...), nil

	default:
		return nil, errors.Errorf("unknown mission type %q", m.Type)
	}
}

func validHeight(h float64) bool { return h > 0 && !math.IsInf(h, 0) }
