package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"

	"marketplace-chat-service/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	GetOrCreate(ctx context.Context, listingID int, userA int, userB int) (models.Room, error)
	Find(ctx context.Context, roomID int) (models.Room, error)
	ListRoomsForUser(ctx context.Context, userID int) ([]models.RoomSummary, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, listing_id, user1_id, user2_id, last_seq, created_at`

// GetOrCreate returns the room for (listing, pair), creating it if absent.
// The pair is sorted before lookup so (A,B) and (B,A) hit the same row, and
// the insert uses ON CONFLICT DO NOTHING so concurrent calls for the same
// key create at most one room.
func (r *RoomRepo) GetOrCreate(ctx context.Context, listingID int, userA int, userB int) (models.Room, error) {
	if userA == userB {
		return models.Room{}, errors.New("cannot create room with self")
	}
	participants := []int{userA, userB}
	sort.Ints(participants)
	user1, user2 := participants[0], participants[1]

	if _, err := r.db.ExecContext(ctx, `INSERT INTO rooms (listing_id, user1_id, user2_id) VALUES ($1, $2, $3)
        ON CONFLICT (listing_id, user1_id, user2_id) DO NOTHING`, listingID, user1, user2); err != nil {
		return models.Room{}, err
	}

	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms
        WHERE listing_id=$1 AND user1_id=$2 AND user2_id=$3`, listingID, user1, user2)
	return room, err
}

// Find fetches a room by id.
func (r *RoomRepo) Find(ctx context.Context, roomID int) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListRoomsForUser returns the rooms the user participates in, newest first.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID int) ([]models.RoomSummary, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+roomColumns+` FROM rooms
        WHERE user1_id=$1 OR user2_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.RoomSummary
	for rows.Next() {
		var room models.Room
		if err := rows.StructScan(&room); err != nil {
			return nil, err
		}
		result = append(result, models.RoomSummary{
			RoomID:    room.ID,
			ListingID: room.ListingID,
			PeerID:    room.Peer(userID),
			CreatedAt: room.CreatedAt,
		})
	}
	return result, rows.Err()
}
