// Package store persists the assembled panel in SQLite for the query API.
// The panel is kept in long form, one row per (region, year, week, metric),
// so lookups by metric stay simple regardless of which scenario and
// pollutant columns a build produced.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/panel"
)

const schema = `
CREATE TABLE IF NOT EXISTS regions (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS panel (
	region TEXT NOT NULL,
	year   INTEGER NOT NULL,
	week   INTEGER NOT NULL,
	metric TEXT NOT NULL,
	value  REAL NOT NULL,
	PRIMARY KEY (region, year, week, metric)
);
CREATE INDEX IF NOT EXISTS panel_metric_time ON panel (metric, year, week);
`

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// The store is written by one pipeline goroutine and read by the API;
	// a single connection sidesteps SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceRegions swaps the region catalog for a fresh boundary build.
func (s *Store) ReplaceRegions(ctx context.Context, regions []domain.Region) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM regions`); err != nil {
		return fmt.Errorf("store: clear regions: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO regions (code, name) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range regions {
		if _, err := stmt.ExecContext(ctx, r.Code, r.Name); err != nil {
			return fmt.Errorf("store: insert region %s: %w", r.Code, err)
		}
	}
	return tx.Commit()
}

// ReplacePanel swaps the stored panel for a fresh build. Null cells are
// not stored.
func (s *Store) ReplacePanel(ctx context.Context, p *panel.Panel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM panel`); err != nil {
		return fmt.Errorf("store: clear panel: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO panel (region, year, week, metric, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	insert := func(row domain.Observation, metric string, v domain.Float) error {
		if !v.Valid {
			return nil
		}
		_, err := stmt.ExecContext(ctx, row.Region, row.Year, row.Week, metric, v.Value)
		return err
	}
	for _, row := range p.Rows {
		if err := insert(row, "mortality", row.Mortality); err != nil {
			return err
		}
		if err := insert(row, "population_density", row.PopulationDensity); err != nil {
			return err
		}
		if err := insert(row, "population", row.Population); err != nil {
			return err
		}
		if err := insert(row, "mortality_rate", row.MortalityRate); err != nil {
			return err
		}
		for _, scenario := range p.Scenarios {
			if err := insert(row, "temperature_"+scenario, row.TemperatureFor(scenario)); err != nil {
				return err
			}
		}
		for _, name := range p.Pollutants {
			if err := insert(row, name, row.PollutantFor(name)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// RegionInfo is one catalog entry.
type RegionInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Regions lists the region catalog ordered by code.
func (s *Store) Regions(ctx context.Context) ([]RegionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name FROM regions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("store: list regions: %w", err)
	}
	defer rows.Close()

	var out []RegionInfo
	for rows.Next() {
		var r RegionInfo
		if err := rows.Scan(&r.Code, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Metrics lists the distinct metric names present in the panel.
func (s *Store) Metrics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT metric FROM panel ORDER BY metric`)
	if err != nil {
		return nil, fmt.Errorf("store: list metrics: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MetricValues returns metric values per region for one week.
func (s *Store) MetricValues(ctx context.Context, metric string, year, week int) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT region, value FROM panel WHERE metric = ? AND year = ? AND week = ?`,
		metric, year, week)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", metric, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var region string
		var value float64
		if err := rows.Scan(&region, &value); err != nil {
			return nil, err
		}
		out[region] = value
	}
	return out, rows.Err()
}

// RegionSeries returns one region's weekly series for a metric in
// chronological order.
func (s *Store) RegionSeries(ctx context.Context, region, metric string) ([]domain.WeeklyValue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT year, week, value FROM panel WHERE region = ? AND metric = ? ORDER BY year, week`,
		region, metric)
	if err != nil {
		return nil, fmt.Errorf("store: query series: %w", err)
	}
	defer rows.Close()

	var out []domain.WeeklyValue
	for rows.Next() {
		v := domain.WeeklyValue{Region: region}
		if err := rows.Scan(&v.Year, &v.Week, &v.Value); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
