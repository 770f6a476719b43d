// Package store persists run summaries in SQLite.
package store

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zeusync/quadsim/internal/core/observability/log"
	"github.com/zeusync/quadsim/internal/core/sim"
)

var ErrNotFound = errors.New("store: run not found")

// RunSummary is one finished simulation run.
type RunSummary struct {
	ID                string `gorm:"primaryKey;size:36"`
	Scenario          string `gorm:"index"`
	Integrator        string
	Completed         bool
	Ticks             uint64
	SimTime           float64
	EnergyUsed        float64
	MeanPositionError float64
	MaxAltitude       float64
	FinalPhase        string
	FinalX            float64
	FinalY            float64
	FinalZ            float64
	Fingerprint       string `gorm:"size:16;index"`
	CreatedAt         time.Time
}

// SummaryFromResult flattens a simulator result.
func SummaryFromResult(res sim.Result) RunSummary {
	return RunSummary{
		ID:                res.RunID,
		Scenario:          res.Name,
		Integrator:        res.Integrator,
		Completed:         res.Completed,
		Ticks:             res.Metrics.Ticks,
		SimTime:           res.Metrics.SimTime,
		EnergyUsed:        res.Metrics.EnergyUsed,
		MeanPositionError: res.Metrics.MeanPositionError(),
		MaxAltitude:       res.Metrics.MaxAltitude,
		FinalPhase:        res.Final.Phase,
		FinalX:            res.Final.Position.X,
		FinalY:            res.Final.Position.Y,
		FinalZ:            res.Final.Position.Z,
		Fingerprint:       res.Fingerprint,
	}
}

type Store struct {
	db     *gorm.DB
	logger log.Log
}

// Open connects to the SQLite database at path and migrates the schema.
// An empty path or ":memory:" opens a private in-memory database.
func Open(path string, l log.Log) (*Store, error) {
	if l == nil {
		l = log.NewNop()
	}
	dsn := path
	if path == "" || path == ":memory:" {
		dsn = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %q", path)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sqlite handle")
	}
	sqlDB.SetMaxOpenConns(1)

	if err = db.AutoMigrate(&RunSummary{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "migrate run summaries")
	}
	l.Debug("run store opened", log.String("path", dsn))
	return &Store{db: db, logger: l}, nil
}

// SaveRun inserts or replaces a summary by id.
func (s *Store) SaveRun(ctx context.Context, run RunSummary) error {
	if run.ID == "" {
		return errors.New("store: run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Save(&run).Error; err != nil {
		return errors.Wrapf(err, "save run %s", run.ID)
	}
	s.logger.Debug("run saved", log.String("run_id", run.ID), log.String("scenario", run.Scenario))
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (RunSummary, error) {
	var run RunSummary
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunSummary{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return RunSummary{}, errors.Wrapf(err, "get run %s", id)
	}
	return run, nil
}

// ListRuns returns the newest runs first, optionally filtered by scenario.
// A non-positive limit returns everything.
func (s *Store) ListRuns(ctx context.Context, scenario string, limit int) ([]RunSummary, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id")
	if scenario != "" {
		q = q.Where("scenario = ?", scenario)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []RunSummary
	if err := q.Find(&runs).Error; err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return runs, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
