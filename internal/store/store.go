// Package store persists the historical observations both predictors
// train on: hourly request-rate samples for the traffic forecaster, and
// per-minute path bandwidth samples for the path-cost forecaster.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a sqlite connection opened against the pure-Go driver.
type DB struct {
	db *sql.DB
}

// Open creates (or reuses) a sqlite database file at path and applies
// migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer goroutine owns each control loop's writes; cap the
	// pool so sqlite's file-level locking never serialises behind us.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error { return db.db.Close() }

// migrations returns the schema statements, executed one at a time.
func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS traffic_samples (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			hour       TEXT NOT NULL,
			requests   INTEGER NOT NULL,
			UNIQUE(hour)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traffic_hour ON traffic_samples(hour)`,

		`CREATE TABLE IF NOT EXISTS traffic_accuracy (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			hour       TEXT NOT NULL,
			predicted  INTEGER NOT NULL,
			actual     INTEGER NOT NULL,
			UNIQUE(hour)
		)`,

		`CREATE TABLE IF NOT EXISTS path_bandwidth_samples (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			route      TEXT NOT NULL,
			path_index INTEGER NOT NULL,
			minute     TEXT NOT NULL,
			bytes      INTEGER NOT NULL,
			UNIQUE(route, path_index, minute)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_path_route ON path_bandwidth_samples(route, path_index, minute)`,

		`CREATE TABLE IF NOT EXISTS model_retrain_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			model       TEXT NOT NULL,
			trained_at  TEXT NOT NULL,
			valid_from  TEXT NOT NULL,
			valid_to    TEXT NOT NULL,
			r2          REAL NOT NULL DEFAULT 0,
			smape       REAL NOT NULL DEFAULT 0
		)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const timeLayout = time.RFC3339

// RecordTrafficSample upserts the observed request count for the hour
// containing at.
func (db *DB) RecordTrafficSample(at time.Time, requests int) error {
	hour := at.Truncate(time.Hour).UTC().Format(timeLayout)
	_, err := db.db.Exec(`
		INSERT INTO traffic_samples (hour, requests) VALUES (?, ?)
		ON CONFLICT(hour) DO UPDATE SET requests = excluded.requests`,
		hour, requests)
	return err
}

// RecentTrafficSamples returns up to limit samples, most recent last
// (chronological order, suitable for direct feed into a forecaster).
func (db *DB) RecentTrafficSamples(limit int) ([]int, error) {
	rows, err := db.db.Query(`
		SELECT requests FROM (
			SELECT requests, hour FROM traffic_samples ORDER BY hour DESC LIMIT ?
		) ORDER BY hour ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RecordAccuracy logs a closed hour's predicted-vs-actual pair.
func (db *DB) RecordAccuracy(hour time.Time, predicted, actual int) error {
	_, err := db.db.Exec(`
		INSERT INTO traffic_accuracy (hour, predicted, actual) VALUES (?, ?, ?)
		ON CONFLICT(hour) DO UPDATE SET predicted = excluded.predicted, actual = excluded.actual`,
		hour.Truncate(time.Hour).UTC().Format(timeLayout), predicted, actual)
	return err
}

// RecordPathBandwidth upserts the observed byte count for route/pathIndex
// in the minute bucket containing at.
func (db *DB) RecordPathBandwidth(route string, pathIndex int, at time.Time, bytes uint64) error {
	minute := at.Truncate(time.Minute).UTC().Format(timeLayout)
	_, err := db.db.Exec(`
		INSERT INTO path_bandwidth_samples (route, path_index, minute, bytes) VALUES (?, ?, ?, ?)
		ON CONFLICT(route, path_index, minute) DO UPDATE SET bytes = excluded.bytes`,
		route, pathIndex, minute, int64(bytes))
	return err
}

// RecentPathBandwidth returns up to limit samples for route/pathIndex,
// oldest first.
func (db *DB) RecentPathBandwidth(route string, pathIndex, limit int) ([]uint64, error) {
	rows, err := db.db.Query(`
		SELECT bytes FROM (
			SELECT bytes, minute FROM path_bandwidth_samples
			WHERE route = ? AND path_index = ?
			ORDER BY minute DESC LIMIT ?
		) ORDER BY minute ASC`, route, pathIndex, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, uint64(v))
	}
	return out, rows.Err()
}

// LogRetrain records a completed retraining run in model_retrain_log
// for audit; no HTTP endpoint reads it back.
func (db *DB) LogRetrain(model string, trainedAt, validFrom, validTo time.Time, r2, smape float64) error {
	_, err := db.db.Exec(`
		INSERT INTO model_retrain_log (model, trained_at, valid_from, valid_to, r2, smape)
		VALUES (?, ?, ?, ?, ?, ?)`,
		model, trainedAt.Format(timeLayout), validFrom.Format(timeLayout), validTo.Format(timeLayout), r2, smape)
	return err
}
