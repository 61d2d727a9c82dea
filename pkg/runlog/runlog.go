// Package runlog records finished object measurements, with the range trace
// behind each one, to a sqlite database for later analysis.
package runlog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/measure"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Measurement struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"sessionId"`
	Result    measure.Result `json:"result"`
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and brings its
// schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open %s", path)
	}
	// sqlite only allows one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "failed to enable foreign keys")
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to load migrations")
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create sqlite driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create migrate instance")
	}
	m.Log = migrateLogger{}
	// m isn't closed: that would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return pkgerrors.Wrap(err, "migration up failed")
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	fmt.Printf("Runlog: migrate: "+format, v...)
}

func (migrateLogger) Verbose() bool {
	return false
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a measurement and its trace in one transaction.
func (s *Store) Record(ctx context.Context, m Measurement, trace []measure.Sample) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	r := m.Result
	_, err = tx.ExecContext(ctx, `
		INSERT INTO measurements (
			measurement_id, session_id, recorded_at_ns,
			length_mm, raw_length_mm, start_travel_mm, end_travel_mm,
			avg_range_mm, median_range_mm, stddev_range_mm,
			duration_ms, sample_count, valid
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.SessionID.String(), r.Timestamp.UnixNano(),
		r.LengthMm, r.RawLengthMm, r.StartTravelMm, r.EndTravelMm,
		r.AvgRangeMm, r.MedianRangeMm, r.StdDevRangeMm,
		r.Duration.Milliseconds(), r.SampleCount, r.Valid,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to insert measurement")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace_samples (measurement_id, seq, sample_time_ns, range_mm, travel_mm)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to prepare trace insert")
	}
	defer stmt.Close()
	for i, smp := range trace {
		if _, err = stmt.ExecContext(ctx, m.ID.String(), i, smp.Time.UnixNano(), smp.RangeMm, smp.TravelMm); err != nil {
			return pkgerrors.Wrap(err, "failed to insert trace sample")
		}
	}
	return pkgerrors.Wrap(tx.Commit(), "failed to commit measurement")
}

// Recent returns up to limit measurements, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT measurement_id, session_id, recorded_at_ns,
			length_mm, raw_length_mm, start_travel_mm, end_travel_mm,
			avg_range_mm, median_range_mm, stddev_range_mm,
			duration_ms, sample_count, valid
		FROM measurements
		ORDER BY recorded_at_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query measurements")
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var (
			m                 Measurement
			id, session       string
			recordedNs, durMs int64
		)
		r := &m.Result
		if err := rows.Scan(&id, &session, &recordedNs,
			&r.LengthMm, &r.RawLengthMm, &r.StartTravelMm, &r.EndTravelMm,
			&r.AvgRangeMm, &r.MedianRangeMm, &r.StdDevRangeMm,
			&durMs, &r.SampleCount, &r.Valid); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan measurement")
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, pkgerrors.Wrapf(err, "bad measurement id %q", id)
		}
		if m.SessionID, err = uuid.Parse(session); err != nil {
			return nil, pkgerrors.Wrapf(err, "bad session id %q", session)
		}
		r.Timestamp = time.Unix(0, recordedNs)
		r.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, m)
	}
	return out, pkgerrors.Wrap(rows.Err(), "failed to read measurements")
}

// Trace returns the range samples recorded with a measurement, oldest
// first.
func (s *Store) Trace(ctx context.Context, id uuid.UUID) ([]measure.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sample_time_ns, range_mm, travel_mm
		FROM trace_samples
		WHERE measurement_id = ?
		ORDER BY seq`, id.String())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query trace")
	}
	defer rows.Close()

	var out []measure.Sample
	for rows.Next() {
		var (
			smp measure.Sample
			ns  int64
		)
		if err := rows.Scan(&ns, &smp.RangeMm, &smp.TravelMm); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan trace sample")
		}
		smp.Time = time.Unix(0, ns)
		out = append(out, smp)
	}
	return out, pkgerrors.Wrap(rows.Err(), "failed to read trace")
}
