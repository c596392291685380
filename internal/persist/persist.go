// Package persist writes throttled GPS and sonar samples to the spatial
// database. Connection pooling and schema DDL are the caller's concern;
// this package only prepares and executes the inserts named in spec.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/fathomwave/sonartrack/internal/types"
)

// Store is the persistence contract the fusion/pipeline stages depend on.
type Store interface {
	InsertGPSPoint(ctx context.Context, fix types.GpsFix) error
	InsertRawGPS(ctx context.Context, at time.Time, message []byte) error
	InsertSonarReading(ctx context.Context, at time.Time, lat, lon float64, maxValue uint16, maxSampleIndex int, maxDistanceCM float64) error
}

// PostgresStore is the Store implementation backed by database/sql and the
// standard Postgres driver.
type PostgresStore struct {
	db *sql.DB
}

// Open registers the pq driver and opens a connection pool against dsn. The
// caller owns the lifetime of the returned store and should Close it.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: open: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InsertGPSPoint inserts one accepted fix into gps_points.
func (s *PostgresStore) InsertGPSPoint(ctx context.Context, fix types.GpsFix) error {
	const q = `INSERT INTO gps_points (timestamp, lat, lon, speed, track, accuracy, fix_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, q, fix.Timestamp, fix.Latitude, fix.Longitude, fix.Speed, fix.Track, fix.HorizontalAccuracy, int(fix.Mode))
	if err != nil {
		return fmt.Errorf("persist: insert gps_points: %w", err)
	}

	return nil
}

// InsertRawGPS inserts one raw GPS message into gps_raw. Optional per spec;
// a failure here must not affect InsertGPSPoint's outcome.
func (s *PostgresStore) InsertRawGPS(ctx context.Context, at time.Time, message []byte) error {
	const q = `INSERT INTO gps_raw (timestamp, message) VALUES ($1, $2)`

	raw := json.RawMessage(message)

	_, err := s.db.ExecContext(ctx, q, at, raw)
	if err != nil {
		return fmt.Errorf("persist: insert gps_raw: %w", err)
	}

	return nil
}

// InsertSonarReading inserts one throttled representative row into
// sonar_readings.
func (s *PostgresStore) InsertSonarReading(ctx context.Context, at time.Time, lat, lon float64, maxValue uint16, maxSampleIndex int, maxDistanceCM float64) error {
	const q = `INSERT INTO sonar_readings (timestamp, latitude, longitude, max_value, max_sample_index, max_distance_cm)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, q, at, lat, lon, int(maxValue), maxSampleIndex, maxDistanceCM)
	if err != nil {
		return fmt.Errorf("persist: insert sonar_readings: %w", err)
	}

	return nil
}

// SafeInsertSonarReading inserts a throttled row and, on failure, logs and
// drops it rather than retrying, per the error-handling table: a dropped
// interval is not retried, the next one attempts again.
func SafeInsertSonarReading(ctx context.Context, store Store, logger *slog.Logger, rec types.FusionRecord, lat, lon float64) {
	err := store.InsertSonarReading(ctx, rec.Timestamp, lat, lon, rec.PeakAmplitude, rec.PeakIndex, rec.SmoothedDepthCM)
	if err != nil {
		logger.Warn("dropping sonar_readings row after insert failure", "error", err)
	}
}
