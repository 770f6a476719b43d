package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/quadsim/internal/core/sim"
	"github.com/zeusync/quadsim/internal/core/systems/physics"
	"github.com/zeusync/quadsim/internal/core/telemetry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res := sim.Result{
		RunID:       "7b0c3a52-0000-4000-8000-000000000001",
		Name:        "timed",
		Integrator:  "rk4",
		Completed:   true,
		Final:       telemetry.Snapshot{Phase: "IDLE", Position: physics.Vec3{X: 0.5}},
		Metrics:     telemetry.Metrics{Ticks: 6000, SimTime: 60, EnergyUsed: 590.2, MaxAltitude: 7.7},
		Fingerprint: "00ff00ff00ff00ff",
	}
	require.NoError(t, s.SaveRun(ctx, SummaryFromResult(res)))

	got, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "timed", got.Scenario)
	assert.Equal(t, uint64(6000), got.Ticks)
	assert.Equal(t, 590.2, got.EnergyUsed)
	assert.Equal(t, "IDLE", got.FinalPhase)
	assert.Equal(t, 0.5, got.FinalX)
	assert.Equal(t, "00ff00ff00ff00ff", got.Fingerprint)
	assert.True(t, got.Completed)
	assert.False(t, got.CreatedAt.IsZero())

	got.EnergyUsed = 1
	require.NoError(t, s.SaveRun(ctx, got))
	again, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.EnergyUsed)
}

func TestGetMissingRun(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.SaveRun(context.Background(), RunSummary{}))
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, scenario := range []string{"timed", "route", "timed", "timed"} {
		require.NoError(t, s.SaveRun(ctx, RunSummary{
			ID:        string(rune('a' + i)),
			Scenario:  scenario,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	timed, err := s.ListRuns(ctx, "timed", 2)
	require.NoError(t, err)
	require.Len(t, timed, 2)
	assert.Equal(t, "d", timed[0].ID)
	assert.Equal(t, "c", timed[1].ID)
}

func TestStoresAreIsolatedAndFileBacked(t *testing.T) {
	a := openTestStore(t)
	b := openTestStore(t)
	require.NoError(t, a.SaveRun(context.Background(), RunSummary{ID: "x"}))
	_, err := b.GetRun(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotFound)

	path := filepath.Join(t.TempDir(), "runs.db")
	f, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, f.SaveRun(context.Background(), RunSummary{ID: "persisted"}))
	require.NoError(t, f.Close())

	f, err = Open(path, nil)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.GetRun(context.Background(), "persisted")
	assert.NoError(t, err)
}
