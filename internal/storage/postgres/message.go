package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/duel/internal/chat"
)

// MessageRepository persists global chat messages. It implements chat.Store.
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a MessageRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append stores a chat message and returns it with the sender populated.
//
// Precondition: d.SenderID must reference an existing user.
// Postcondition: Returns the stored Message, chat.ErrEmptyMessage /
// chat.ErrMessageTooLong for an invalid draft, or ErrUserNotFound when the
// sender does not exist.
func (r *MessageRepository) Append(ctx context.Context, d chat.Draft) (chat.Message, error) {
	d, kind, err := d.Normalize()
	if err != nil {
		return chat.Message{}, err
	}
	sender, err := uuid.Parse(d.SenderID)
	if err != nil {
		return chat.Message{}, ErrUserNotFound
	}

	row := r.db.QueryRow(ctx,
		`WITH inserted AS (
			INSERT INTO messages (sender_id, kind, text, image, youtube_id, title)
			SELECT u.id, $2, $3, $4, $5, $6 FROM users u WHERE u.id = $1
			RETURNING id, sender_id, kind, text, image, youtube_id, title, created_at
		)
		SELECT i.id, i.kind, i.text, i.image, i.youtube_id, i.title, i.created_at,
		       u.id, u.username, u.avatar_url, u.role
		FROM inserted i JOIN users u ON u.id = i.sender_id`,
		sender, string(kind),
		chat.OptionalString(d.Text), chat.OptionalString(d.Image),
		chat.OptionalString(d.YouTubeID), chat.OptionalString(d.Title),
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Message{}, ErrUserNotFound
		}
		return chat.Message{}, fmt.Errorf("inserting message: %w", err)
	}
	return msg, nil
}

// Recent returns up to limit of the newest messages, oldest first.
//
// Precondition: limit must be positive; larger values are capped at
// chat.HistoryLimit.
// Postcondition: Returns a non-nil slice ordered by ascending id.
func (r *MessageRepository) Recent(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 || limit > chat.HistoryLimit {
		limit = chat.HistoryLimit
	}

	rows, err := r.db.Query(ctx,
		`SELECT m.id, m.kind, m.text, m.image, m.youtube_id, m.title, m.created_at,
		        u.id, u.username, u.avatar_url, u.role
		 FROM messages m JOIN users u ON u.id = m.sender_id
		 ORDER BY m.id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	out := make([]chat.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanMessage(row pgx.Row) (chat.Message, error) {
	var (
		msg       chat.Message
		id        int64
		kind      string
		senderID  uuid.UUID
		createdAt time.Time
	)
	err := row.Scan(
		&id, &kind, &msg.Text, &msg.Image, &msg.YouTubeID, &msg.Title, &createdAt,
		&senderID, &msg.Sender.Username, &msg.Sender.AvatarURL, &msg.Sender.Role,
	)
	if err != nil {
		return chat.Message{}, err
	}
	msg.ID = strconv.FormatInt(id, 10)
	msg.Kind = chat.Kind(kind)
	msg.Sender.ID = senderID.String()
	msg.CreatedAt = createdAt.UTC()
	return msg, nil
}
