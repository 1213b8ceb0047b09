// Package sqlite implements the persistence repositories on SQLite via the
// pure-Go modernc.org driver.
package sqlite

import (
	"context"
	"fmt"
)

// Storage bundles the SQLite-backed repositories behind one handle.
type Storage struct {
	pool     *ConnectionPool
	Bookings *BookingRepository
	Rooms    *RoomRepository
}

// Open creates the storage for the given DSN.
func Open(dsn string) (*Storage, error) {
	pool, err := NewConnectionPool(dsn)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:     pool,
		Bookings: NewBookingRepository(pool),
		Rooms:    NewRoomRepository(pool),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		location   TEXT NOT NULL DEFAULT '',
		capacity   INTEGER NOT NULL CHECK (capacity > 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id              TEXT PRIMARY KEY,
		room_id         TEXT NOT NULL REFERENCES rooms(id),
		user_id         TEXT NOT NULL,
		title           TEXT NOT NULL DEFAULT '',
		description     TEXT,
		start_time      TEXT NOT NULL,
		end_time        TEXT NOT NULL,
		state           TEXT NOT NULL CHECK (state IN ('pending', 'confirmed', 'cancelled', 'rejected')),
		version         INTEGER NOT NULL,
		recur_frequency TEXT,
		recur_interval  INTEGER,
		recur_end_date  TEXT,
		recur_count     INTEGER,
		recur_weekdays  TEXT,
		cancel_reason   TEXT,
		cancelled_by    TEXT,
		cancelled_at    TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		CHECK (start_time < end_time)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_occurrences (
		booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time   TEXT NOT NULL,
		PRIMARY KEY (booking_id, seq),
		CHECK (start_time < end_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_room_state ON bookings(room_id, state)`,
	`CREATE INDEX IF NOT EXISTS idx_occurrences_start ON booking_occurrences(start_time)`,
}

// Migrate applies the schema. Statements are idempotent, so repeated startup
// against an existing database is safe.
func (s *Storage) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i, err)
		}
	}
	return nil
}
