package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"clinicai-triage/pkg"
)

// ErrNotFound is returned when a chat id does not exist.
var ErrNotFound = errors.New("chat not found")

// Store is the persistence contract consumed by the HTTP layer.  Chats are
// stored as whole documents keyed by id; SaveState replaces the session state
// atomically.
type Store interface {
	CreateChat(ctx context.Context, title string) (*pkg.Chat, error)
	GetChat(ctx context.Context, id string) (*pkg.Chat, error)
	ListChats(ctx context.Context) ([]pkg.ChatPreview, error)
	SaveState(ctx context.Context, id string, state pkg.SessionState) error
	DeleteAll(ctx context.Context) error
}

// Repository implements Store over Postgres.  Each chat is one row with its
// session state in a JSONB column.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

// CreateChat inserts a new chat with a fresh session state and returns it.
func (r *Repository) CreateChat(ctx context.Context, title string) (*pkg.Chat, error) {
	chat := &pkg.Chat{
		ID:    uuid.New().String(),
		Title: title,
		State: pkg.NewSessionState(),
	}
	stateJSON, err := json.Marshal(chat.State)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	err = r.DB.QueryRowContext(ctx,
		`INSERT INTO chats (id, title, state)
         VALUES ($1, $2, $3)
         RETURNING created_at`,
		chat.ID, chat.Title, stateJSON,
	).Scan(&chat.CreatedAt)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat loads a chat document by id.  Returns ErrNotFound for unknown ids.
func (r *Repository) GetChat(ctx context.Context, id string) (*pkg.Chat, error) {
	var (
		chat      pkg.Chat
		stateJSON []byte
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, title, created_at, state FROM chats WHERE id = $1`, id,
	).Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &stateJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(stateJSON, &chat.State); err != nil {
		return nil, fmt.Errorf("unmarshal state for chat %s: %w", id, err)
	}
	return &chat, nil
}

// ListChats returns previews of all chats, newest first.
func (r *Repository) ListChats(ctx context.Context) ([]pkg.ChatPreview, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, title, created_at, state FROM chats ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var previews []pkg.ChatPreview
	for rows.Next() {
		var (
			chat      pkg.Chat
			stateJSON []byte
		)
		if err := rows.Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &stateJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stateJSON, &chat.State); err != nil {
			return nil, fmt.Errorf("unmarshal state for chat %s: %w", chat.ID, err)
		}
		previews = append(previews, chat.Preview())
	}
	return previews, rows.Err()
}

// SaveState replaces the whole session state document for a chat.  The single
// UPDATE makes it atomic.
func (r *Repository) SaveState(ctx context.Context, id string, state pkg.SessionState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE chats SET state = $2 WHERE id = $1`, id, stateJSON)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll wipes every chat.  Administrative operation only.
func (r *Repository) DeleteAll(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM chats`)
	return err
}
