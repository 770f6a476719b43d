package physics

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDt = 0.01

func newTestEngine(t *testing.T, integrator Integrator, start Vec3) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultParams(), WithIntegrator(integrator), WithInitialPosition(start))
	require.NoError(t, err)
	return e
}

func TestFreeFallMatchesClosedForm(t *testing.T) {
	const h0 = 20.0
	g := DefaultParams().Gravity

	cases := []struct {
		name       string
		integrator Integrator
		tolerance  func(t float64) float64
	}{
		{"rk4", RK4{}, func(float64) float64 { return 1e-9 }},
		// semi-implicit Euler drifts by g*t*dt/2
		{"euler", Euler{}, func(t float64) float64 { return g*t*testDt/2 + 1e-9 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, tc.integrator, Vec3{Z: h0})
			for i := 1; i <= 150; i++ {
				state := e.Integrate(ControlVector{}, testDt)
				elapsed := float64(i) * testDt
				expected := h0 - 0.5*g*elapsed*elapsed
				if expected <= 0 {
					break
				}
				require.InDelta(t, expected, state.Position.Z, tc.tolerance(elapsed), "tick %d", i)
				require.InDelta(t, -g*elapsed, state.Velocity.Z, 1e-9, "tick %d", i)
				require.False(t, state.Grounded)
			}
		})
	}
}

func TestFreeFallStopsAtGround(t *testing.T) {
	e := newTestEngine(t, RK4{}, Vec3{Z: 1})
	for i := 0; i < 200; i++ {
		e.Integrate(ControlVector{}, testDt)
	}
	state := e.State()
	assert.Equal(t, 0.0, state.Position.Z)
	assert.Equal(t, 0.0, state.Velocity.Z)
	assert.True(t, state.Grounded)
}

func TestHoverEquilibrium(t *testing.T) {
	for _, dims := range []Dimensions{Dim1, Dim2, Dim3} {
		params := DefaultParams()
		params.Dimensions = dims
		params.Mass = 1.3
		e, err := NewEngine(params, WithInitialPosition(Vec3{Z: 7}))
		require.NoError(t, err)

		hover := ControlVector{Thrust: params.HoverThrust()}
		for i := 0; i < 5000; i++ {
			e.Integrate(hover, testDt)
		}
		assert.InDelta(t, 7.0, e.Position().Z, 1e-9, "dims %d", dims)
		assert.InDelta(t, 0.0, e.Velocity().Norm(), 1e-9, "dims %d", dims)
		assert.False(t, e.Grounded())
	}
}

func TestGroundInvariantUnderRandomControl(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	params := DefaultParams()
	for _, integrator := range []Integrator{Euler{}, RK4{}} {
		e := newTestEngine(t, integrator, Vec3{Z: 2})
		for i := 0; i < 5000; i++ {
			control := ControlVector{
				Thrust: rng.Float64()*3*params.MaxThrust - params.MaxThrust,
				Roll:   (rng.Float64() - 0.5) * 4,
				Pitch:  (rng.Float64() - 0.5) * 4,
			}
			state := e.Integrate(control, testDt)
			require.GreaterOrEqual(t, state.Position.Z, 0.0)
			if state.Grounded {
				require.Equal(t, 0.0, state.Velocity.Z)
			}
		}
	}
}

func TestIntegrateClampsControl(t *testing.T) {
	params := DefaultParams()
	raw := []ControlVector{
		{Thrust: 55, Roll: 2, Pitch: -3},
		{Thrust: -4, Roll: -1.2, Pitch: 1.2},
		{Thrust: 12, Roll: 0.1, Pitch: 9},
	}

	a := newTestEngine(t, RK4{}, Vec3{Z: 10})
	b := newTestEngine(t, RK4{}, Vec3{Z: 10})
	for _, c := range raw {
		got := a.Integrate(c, testDt)
		want := b.Integrate(c.Clamp(params.MaxThrust, params.MaxTilt), testDt)
		require.Equal(t, want, got)
	}
}

func TestIntegrateIgnoresNonPositiveStep(t *testing.T) {
	e := newTestEngine(t, RK4{}, Vec3{Z: 3})
	before := e.State()
	assert.Equal(t, before, e.Integrate(ControlVector{Thrust: 20}, 0))
	assert.Equal(t, before, e.Integrate(ControlVector{Thrust: 20}, -1))
	assert.Equal(t, before, e.Integrate(ControlVector{Thrust: 20}, math.NaN()))
}

func TestTiltDecomposesThrust(t *testing.T) {
	e := newTestEngine(t, RK4{}, Vec3{Z: 10})
	c := ControlVector{Thrust: 15, Roll: 0.2, Pitch: -0.3}
	a := e.Acceleration(c)
	assert.InDelta(t, 15*math.Sin(-0.3), a.X, 1e-12)
	assert.InDelta(t, 15*math.Sin(0.2), a.Y, 1e-12)
	assert.InDelta(t, 15*math.Cos(0.2)*math.Cos(-0.3)-9.81, a.Z, 1e-12)
}

func TestDimensionsMaskAxes(t *testing.T) {
	params := DefaultParams()
	params.Dimensions = Dim1
	e, err := NewEngine(params, WithInitialPosition(Vec3{X: 4, Y: 5, Z: 1}))
	require.NoError(t, err)
	assert.Equal(t, Vec3{Z: 1}, e.Position())

	state := e.Integrate(ControlVector{Thrust: 15, Roll: 0.5, Pitch: 0.5}, testDt)
	assert.Equal(t, 0.0, state.Position.X)
	assert.Equal(t, 0.0, state.Position.Y)
	assert.InDelta(t, 15-9.81, state.Acceleration.Z, 1e-12)

	params.Dimensions = Dim2
	e, err = NewEngine(params, WithInitialPosition(Vec3{Z: 1}))
	require.NoError(t, err)
	state = e.Integrate(ControlVector{Thrust: 15, Roll: 0.5, Pitch: 0.5}, testDt)
	assert.Greater(t, state.Position.X, 0.0)
	assert.Equal(t, 0.0, state.Position.Y)
}

func TestDimensionsProject(t *testing.T) {
	v := Vec3{X: 1, Y: 2, Z: 3}
	assert.Equal(t, Vec3{Z: 3}, Dim1.Project(v))
	assert.Equal(t, Vec3{X: 1, Z: 3}, Dim2.Project(v))
	assert.Equal(t, v, Dim3.Project(v))
	assert.Equal(t, v, Dimensions(0).Project(v))
}

func TestInvalidParamsWrapSentinel(t *testing.T) {
	p := DefaultParams()
	p.Mass = 0
	err := p.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "mass must be positive")
	assert.Equal(t, ErrInvalidConfig, errors.Cause(err))
}

func TestWindIsReproducible(t *testing.T) {
	run := func() Vec3 {
		e, err := NewEngine(DefaultParams(), WithInitialPosition(Vec3{Z: 5}), WithWind(0.1, 42))
		require.NoError(t, err)
		hover := ControlVector{Thrust: DefaultParams().HoverThrust()}
		for i := 0; i < 500; i++ {
			e.Integrate(hover, testDt)
		}
		return e.Position()
	}
	first, second := run(), run()
	assert.Equal(t, first, second)
	assert.NotEqual(t, Vec3{Z: 5}, first)
}

func TestNewEngineRejectsInvalidParams(t *testing.T) {
	cases := map[string]func(p *Params){
		"zero mass":         func(p *Params) { p.Mass = 0 },
		"negative mass":     func(p *Params) { p.Mass = -1 },
		"zero max thrust":   func(p *Params) { p.MaxThrust = 0 },
		"negative gravity":  func(p *Params) { p.Gravity = -9.81 },
		"tilt out of range": func(p *Params) { p.MaxTilt = math.Pi },
		"bad dimensions":    func(p *Params) { p.Dimensions = 4 },
		"nan mass":          func(p *Params) { p.Mass = math.NaN() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			_, err := NewEngine(p)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestResetPlacesVehicleAtRest(t *testing.T) {
	e := newTestEngine(t, Euler{}, Vec3{})
	assert.True(t, e.Grounded())
	e.Integrate(ControlVector{Thrust: 20}, testDt)
	require.False(t, e.Grounded())

	e.Reset(Vec3{X: 1, Y: 2, Z: -3})
	assert.Equal(t, Vec3{X: 1, Y: 2}, e.Position())
	assert.Equal(t, Vec3{}, e.Velocity())
	assert.True(t, e.Grounded())
}
