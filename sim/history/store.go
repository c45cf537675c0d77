// Package history persists per-tick unit loads to SQLite so runs can be
// inspected after the fact.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/carenet-sim/carenet/sim"
)

// Sample is one unit's state at the end of one tick.
type Sample struct {
	Tick       int64
	Hour       int
	State      string
	Load       int
	Capacity   int
	Departures int
	Lost       int
}

// Store appends tick snapshots to a SQLite database.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "carenet-history.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ticks (
		tick INTEGER PRIMARY KEY,
		hour INTEGER NOT NULL,
		state TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ticks table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS unit_loads (
		tick INTEGER NOT NULL,
		facility TEXT NOT NULL,
		unit TEXT NOT NULL,
		load INTEGER NOT NULL,
		capacity INTEGER NOT NULL,
		departures INTEGER NOT NULL,
		lost INTEGER NOT NULL,
		PRIMARY KEY (tick, facility, unit)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create unit_loads table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// RecordTick writes one tick report and the post-tick views in a single
// transaction. Re-recording a tick replaces its rows.
func (s *Store) RecordTick(ctx context.Context, report sim.TickReport, views []sim.FacilityView) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ticks(tick,hour,state) VALUES(?,?,?) ON CONFLICT(tick) DO UPDATE SET hour=excluded.hour, state=excluded.state`,
		report.Tick, report.Hour, string(report.State)); err != nil {
		return fmt.Errorf("upsert tick %d: %w", report.Tick, err)
	}
	for _, f := range views {
		res := report.Facilities[f.ID]
		for _, u := range f.Units {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO unit_loads(tick,facility,unit,load,capacity,departures,lost) VALUES(?,?,?,?,?,?,?)
				ON CONFLICT(tick,facility,unit) DO UPDATE SET load=excluded.load, capacity=excluded.capacity,
				departures=excluded.departures, lost=excluded.lost`,
				report.Tick, f.Name, u.Name, u.CurrentLoad, u.MaxCapacity,
				res.Departures[u.Name], res.Admissions[u.Name].Lost); err != nil {
				return fmt.Errorf("upsert %s/%s at tick %d: %w", f.Name, u.Name, report.Tick, err)
			}
		}
	}
	return tx.Commit()
}

// LoadSeries returns the samples of one unit ordered by tick.
func (s *Store) LoadSeries(ctx context.Context, facility, unit string) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT l.tick, t.hour, t.state, l.load, l.capacity, l.departures, l.lost
		FROM unit_loads l JOIN ticks t ON t.tick = l.tick
		WHERE l.facility = ? AND l.unit = ?
		ORDER BY l.tick`, facility, unit)
	if err != nil {
		return nil, fmt.Errorf("select series: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Sample
	for rows.Next() {
		var sm Sample
		if err := rows.Scan(&sm.Tick, &sm.Hour, &sm.State, &sm.Load, &sm.Capacity, &sm.Departures, &sm.Lost); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// TickCount returns the number of recorded ticks.
func (s *Store) TickCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ticks: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
