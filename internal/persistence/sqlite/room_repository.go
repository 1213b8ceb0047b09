package sqlite

import (
	"context"

	"github.com/example/roombook/internal/persistence"
)

// RoomRepository implements persistence.RoomRepository using SQLite.
type RoomRepository struct {
	pool *ConnectionPool
}

// NewRoomRepository creates a new SQLite room repository.
func NewRoomRepository(pool *ConnectionPool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// CreateRoom inserts a new room into the catalog.
func (r *RoomRepository) CreateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" || room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	query := `
		INSERT INTO rooms (id, name, location, capacity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.pool.DB().ExecContext(ctx, query,
		room.ID,
		room.Name,
		room.Location,
		room.Capacity,
		formatTime(room.CreatedAt),
		formatTime(room.UpdatedAt),
	)
	return mapError(err)
}

// GetRoom retrieves a room by ID.
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	if id == "" {
		return persistence.Room{}, persistence.ErrNotFound
	}

	query := "SELECT id, name, location, capacity, created_at, updated_at FROM rooms WHERE id = ?"

	var room persistence.Room
	var createdStr, updatedStr string
	err := r.pool.DB().QueryRowContext(ctx, query, id).Scan(
		&room.ID, &room.Name, &room.Location, &room.Capacity, &createdStr, &updatedStr)
	if err != nil {
		return persistence.Room{}, mapError(err)
	}
	if room.CreatedAt, err = parseTime(createdStr); err != nil {
		return persistence.Room{}, err
	}
	if room.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return persistence.Room{}, err
	}
	return room, nil
}

// ListRooms returns all rooms ordered by name.
func (r *RoomRepository) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	query := "SELECT id, name, location, capacity, created_at, updated_at FROM rooms ORDER BY name, id"

	rows, err := r.pool.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var rooms []persistence.Room
	for rows.Next() {
		var room persistence.Room
		var createdStr, updatedStr string
		if err := rows.Scan(&room.ID, &room.Name, &room.Location, &room.Capacity, &createdStr, &updatedStr); err != nil {
			return nil, mapError(err)
		}
		if room.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, err
		}
		if room.UpdatedAt, err = parseTime(updatedStr); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ListRoomIDs returns every room identifier, ordered ascending.
func (r *RoomRepository) ListRoomIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.DB().QueryContext(ctx, "SELECT id FROM rooms ORDER BY id")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RoomExists reports whether the room is present in the catalog.
func (r *RoomRepository) RoomExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	var one int
	err := r.pool.DB().QueryRowContext(ctx, "SELECT 1 FROM rooms WHERE id = ?", id).Scan(&one)
	if err != nil {
		mapped := mapError(err)
		if mapped == persistence.ErrNotFound {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}
