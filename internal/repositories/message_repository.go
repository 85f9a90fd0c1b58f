package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"message-sync/internal/models"
)

// MessageArchive stores confirmed room messages for warm starts.
type MessageArchive interface {
	SaveMessages(ctx context.Context, roomID string, msgs []models.Message) error
	RoomMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed archive.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type archivedRow struct {
	ID      string `db:"id"`
	RoomID  string `db:"room_id"`
	TS      int64  `db:"ts"`
	Payload []byte `db:"payload"`
}

const upsertArchived = `INSERT INTO archived_messages (id, room_id, ts, payload)
        VALUES (:id, :room_id, :ts, :payload)
        ON CONFLICT (id) DO UPDATE SET room_id = EXCLUDED.room_id, ts = EXCLUDED.ts, payload = EXCLUDED.payload, archived_at = NOW()`

// SaveMessages upserts msgs in one transaction. Pending records are skipped.
func (r *MessageRepo) SaveMessages(ctx context.Context, roomID string, msgs []models.Message) error {
	rows, err := toRows(roomID, msgs)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, upsertArchived, row); err != nil {
			return fmt.Errorf("archive message %s: %w", row.ID, err)
		}
	}
	return tx.Commit()
}

// RoomMessages returns the newest limit messages of a room, oldest first.
func (r *MessageRepo) RoomMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	query := `SELECT id, room_id, ts, payload FROM (
            SELECT id, room_id, ts, payload FROM archived_messages
            WHERE room_id=$1
            ORDER BY ts DESC
            LIMIT $2
        ) recent ORDER BY ts ASC`
	var rows []archivedRow
	if err := r.db.SelectContext(ctx, &rows, query, roomID, limit); err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func toRows(roomID string, msgs []models.Message) ([]archivedRow, error) {
	rows := make([]archivedRow, 0, len(msgs))
	for _, m := range msgs {
		if m.Pending || m.ID == "" {
			continue
		}
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		rows = append(rows, archivedRow{ID: m.ID, RoomID: m.RoomID, TS: m.Timestamp, Payload: payload})
	}
	return rows, nil
}

func fromRows(rows []archivedRow) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		var m models.Message
		if err := json.Unmarshal(row.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode archived message %s: %w", row.ID, err)
		}
		if m.ID == "" {
			m.ID = row.ID
		}
		if m.RoomID == "" {
			m.RoomID = row.RoomID
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
