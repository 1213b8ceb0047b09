package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/roombook/internal/persistence"
)

// BookingRepository implements persistence.BookingRepository using SQLite.
type BookingRepository struct {
	pool *ConnectionPool
}

// NewBookingRepository creates a new SQLite booking repository.
func NewBookingRepository(pool *ConnectionPool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

// CreateBooking inserts a booking and all of its occurrences in one transaction.
func (r *BookingRepository) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	if booking.ID == "" || booking.RoomID == "" || booking.UserID == "" {
		return persistence.ErrConstraintViolation
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO bookings (
				id, room_id, user_id, title, description,
				start_time, end_time, state, version,
				recur_frequency, recur_interval, recur_end_date, recur_count, recur_weekdays,
				cancel_reason, cancelled_by, cancelled_at,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		args := []any{
			booking.ID,
			booking.RoomID,
			booking.UserID,
			booking.Title,
			nullString(booking.Description),
			formatTime(booking.Start),
			formatTime(booking.End),
			booking.State,
			booking.Version,
		}
		args = append(args, recurrenceArgs(booking.Recurrence)...)
		args = append(args,
			nullString(booking.CancelReason),
			nullString(booking.CancelledBy),
			nullTime(booking.CancelledAt),
			formatTime(booking.CreatedAt),
			formatTime(booking.UpdatedAt),
		)

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return mapError(err)
		}

		return insertOccurrences(ctx, tx, booking.ID, booking.Occurrences)
	})
}

// UpdateBooking rewrites a booking and replaces its occurrences wholesale.
// The stored row must carry expectedVersion or the update fails with
// ErrStaleVersion and nothing changes.
func (r *BookingRepository) UpdateBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	if booking.ID == "" {
		return persistence.ErrConstraintViolation
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE bookings SET
				room_id = ?, user_id = ?, title = ?, description = ?,
				start_time = ?, end_time = ?, state = ?, version = ?,
				recur_frequency = ?, recur_interval = ?, recur_end_date = ?, recur_count = ?, recur_weekdays = ?,
				cancel_reason = ?, cancelled_by = ?, cancelled_at = ?,
				updated_at = ?
			WHERE id = ? AND version = ?
		`

		args := []any{
			booking.RoomID,
			booking.UserID,
			booking.Title,
			nullString(booking.Description),
			formatTime(booking.Start),
			formatTime(booking.End),
			booking.State,
			booking.Version,
		}
		args = append(args, recurrenceArgs(booking.Recurrence)...)
		args = append(args,
			nullString(booking.CancelReason),
			nullString(booking.CancelledBy),
			nullTime(booking.CancelledAt),
			formatTime(booking.UpdatedAt),
			booking.ID,
			expectedVersion,
		)

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return mapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			var storedVersion int64
			err := tx.QueryRowContext(ctx, "SELECT version FROM bookings WHERE id = ?", booking.ID).Scan(&storedVersion)
			if err == sql.ErrNoRows {
				return persistence.ErrNotFound
			}
			if err != nil {
				return mapError(err)
			}
			return fmt.Errorf("%w: booking %s has version %d, expected %d",
				persistence.ErrStaleVersion, booking.ID, storedVersion, expectedVersion)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM booking_occurrences WHERE booking_id = ?", booking.ID); err != nil {
			return mapError(err)
		}
		return insertOccurrences(ctx, tx, booking.ID, booking.Occurrences)
	})
}

// GetBooking retrieves a booking with its occurrences.
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	if id == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	query := selectBookingColumns + " WHERE id = ?"
	row := r.pool.DB().QueryRowContext(ctx, query, id)
	booking, err := scanBooking(row.Scan)
	if err != nil {
		return persistence.Booking{}, mapError(err)
	}

	occurrences, err := r.loadOccurrences(ctx, id)
	if err != nil {
		return persistence.Booking{}, err
	}
	booking.Occurrences = occurrences
	return booking, nil
}

// ListBookings returns bookings matching the filter, ordered by start time.
func (r *BookingRepository) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	query := selectBookingColumns
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 4)

	if filter.RoomID != "" {
		conditions = append(conditions, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.States) > 0 {
		conditions = append(conditions, "state IN ("+placeholders(len(filter.States))+")")
		for _, state := range filter.States {
			args = append(args, state)
		}
	}
	if filter.StartsAfter != nil {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, formatTime(*filter.StartsAfter))
	}
	if filter.EndsBefore != nil {
		conditions = append(conditions, "end_time <= ?")
		args = append(args, formatTime(*filter.EndsBefore))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time, id"

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var bookings []persistence.Booking
	for rows.Next() {
		booking, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, mapError(err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	for i := range bookings {
		occurrences, err := r.loadOccurrences(ctx, bookings[i].ID)
		if err != nil {
			return nil, err
		}
		bookings[i].Occurrences = occurrences
	}
	return bookings, nil
}

// ListOccurrences returns the occurrence rows of one room's bookings in the
// requested states, optionally restricted to a half-open overlap window,
// ordered by start time.
func (r *BookingRepository) ListOccurrences(ctx context.Context, filter persistence.OccurrenceFilter) ([]persistence.Occurrence, error) {
	query := `
		SELECT o.booking_id, o.seq, o.start_time, o.end_time
		FROM booking_occurrences o
		JOIN bookings b ON b.id = o.booking_id
		WHERE b.room_id = ?
	`
	args := []any{filter.RoomID}

	if len(filter.States) > 0 {
		query += " AND b.state IN (" + placeholders(len(filter.States)) + ")"
		for _, state := range filter.States {
			args = append(args, state)
		}
	}
	if filter.WindowEnd != nil {
		query += " AND o.start_time < ?"
		args = append(args, formatTime(*filter.WindowEnd))
	}
	if filter.WindowStart != nil {
		query += " AND o.end_time > ?"
		args = append(args, formatTime(*filter.WindowStart))
	}
	query += " ORDER BY o.start_time, o.booking_id, o.seq"

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var occurrences []persistence.Occurrence
	for rows.Next() {
		var occ persistence.Occurrence
		var startStr, endStr string
		if err := rows.Scan(&occ.BookingID, &occ.Sequence, &startStr, &endStr); err != nil {
			return nil, mapError(err)
		}
		if occ.Start, err = parseTime(startStr); err != nil {
			return nil, err
		}
		if occ.End, err = parseTime(endStr); err != nil {
			return nil, err
		}
		occurrences = append(occurrences, occ)
	}
	return occurrences, rows.Err()
}

func (r *BookingRepository) loadOccurrences(ctx context.Context, bookingID string) ([]persistence.Occurrence, error) {
	rows, err := r.pool.DB().QueryContext(ctx,
		"SELECT booking_id, seq, start_time, end_time FROM booking_occurrences WHERE booking_id = ? ORDER BY seq",
		bookingID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var occurrences []persistence.Occurrence
	for rows.Next() {
		var occ persistence.Occurrence
		var startStr, endStr string
		if err := rows.Scan(&occ.BookingID, &occ.Sequence, &startStr, &endStr); err != nil {
			return nil, mapError(err)
		}
		if occ.Start, err = parseTime(startStr); err != nil {
			return nil, err
		}
		if occ.End, err = parseTime(endStr); err != nil {
			return nil, err
		}
		occurrences = append(occurrences, occ)
	}
	return occurrences, rows.Err()
}

func insertOccurrences(ctx context.Context, tx *sql.Tx, bookingID string, occurrences []persistence.Occurrence) error {
	if len(occurrences) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO booking_occurrences (booking_id, seq, start_time, end_time) VALUES (?, ?, ?, ?)")
	if err != nil {
		return mapError(err)
	}
	defer stmt.Close()

	for _, occ := range occurrences {
		if _, err := stmt.ExecContext(ctx, bookingID, occ.Sequence, formatTime(occ.Start), formatTime(occ.End)); err != nil {
			return mapError(err)
		}
	}
	return nil
}

const selectBookingColumns = `
	SELECT id, room_id, user_id, title, description,
		start_time, end_time, state, version,
		recur_frequency, recur_interval, recur_end_date, recur_count, recur_weekdays,
		cancel_reason, cancelled_by, cancelled_at,
		created_at, updated_at
	FROM bookings`

func scanBooking(scan func(dest ...any) error) (persistence.Booking, error) {
	var booking persistence.Booking
	var description, recurFrequency, recurWeekdays sql.NullString
	var cancelReason, cancelledBy sql.NullString
	var recurEndDate, cancelledAt sql.NullString
	var recurInterval, recurCount sql.NullInt64
	var startStr, endStr, createdStr, updatedStr string

	err := scan(
		&booking.ID, &booking.RoomID, &booking.UserID, &booking.Title, &description,
		&startStr, &endStr, &booking.State, &booking.Version,
		&recurFrequency, &recurInterval, &recurEndDate, &recurCount, &recurWeekdays,
		&cancelReason, &cancelledBy, &cancelledAt,
		&createdStr, &updatedStr,
	)
	if err != nil {
		return persistence.Booking{}, err
	}

	booking.Description = fromNullString(description)
	booking.CancelReason = fromNullString(cancelReason)
	booking.CancelledBy = fromNullString(cancelledBy)

	if booking.Start, err = parseTime(startStr); err != nil {
		return persistence.Booking{}, err
	}
	if booking.End, err = parseTime(endStr); err != nil {
		return persistence.Booking{}, err
	}
	if booking.CreatedAt, err = parseTime(createdStr); err != nil {
		return persistence.Booking{}, err
	}
	if booking.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return persistence.Booking{}, err
	}
	if cancelledAt.Valid {
		t, err := parseTime(cancelledAt.String)
		if err != nil {
			return persistence.Booking{}, err
		}
		booking.CancelledAt = &t
	}

	if recurFrequency.Valid {
		rule := &persistence.RecurrenceRule{
			Frequency: recurFrequency.String,
			Interval:  int(recurInterval.Int64),
		}
		if recurEndDate.Valid {
			t, err := parseTime(recurEndDate.String)
			if err != nil {
				return persistence.Booking{}, err
			}
			rule.EndDate = &t
		}
		if recurCount.Valid {
			count := int(recurCount.Int64)
			rule.Count = &count
		}
		if recurWeekdays.Valid && recurWeekdays.String != "" {
			weekdays, err := decodeWeekdays(recurWeekdays.String)
			if err != nil {
				return persistence.Booking{}, err
			}
			rule.Weekdays = weekdays
		}
		booking.Recurrence = rule
	}

	return booking, nil
}

// recurrenceArgs flattens the optional rule into the five recur_* columns.
func recurrenceArgs(rule *persistence.RecurrenceRule) []any {
	if rule == nil {
		return []any{nil, nil, nil, nil, nil}
	}
	var endDate any
	if rule.EndDate != nil {
		endDate = formatTime(*rule.EndDate)
	}
	var count any
	if rule.Count != nil {
		count = *rule.Count
	}
	var weekdays any
	if len(rule.Weekdays) > 0 {
		weekdays = encodeWeekdays(rule.Weekdays)
	}
	return []any{rule.Frequency, rule.Interval, endDate, count, weekdays}
}

func encodeWeekdays(weekdays []time.Weekday) string {
	parts := make([]string, len(weekdays))
	for i, day := range weekdays {
		parts[i] = strconv.Itoa(int(day))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(value string) ([]time.Weekday, error) {
	parts := strings.Split(value, ",")
	weekdays := make([]time.Weekday, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday value %q", part)
		}
		weekdays = append(weekdays, time.Weekday(n))
	}
	return weekdays, nil
}

// formatTime stores instants as second-precision UTC RFC3339 strings. The
// fixed width keeps lexicographic ordering equal to chronological ordering,
// which the repository's range predicates rely on.
func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", value, err)
	}
	return t, nil
}

// placeholders returns n comma-separated "?" markers for an IN clause.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func fromNullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}
