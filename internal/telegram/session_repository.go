package telegram

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"smart-meal-manager/internal/session"
)

const timestampLayout = "2006-01-02 15:04:05"

// ChatSessionRepository maps Telegram chats to their active analysis session.
type ChatSessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewChatSessionRepository creates a new ChatSessionRepository instance
func NewChatSessionRepository(db *sql.DB) *ChatSessionRepository {
	return &ChatSessionRepository{db: db, now: time.Now}
}

// Get returns the session bound to chatID; ok is false when there is none.
func (r *ChatSessionRepository) Get(ctx context.Context, chatID int64) (sessionID string, ok bool, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT session_id FROM chat_sessions WHERE chat_id = ?`, chatID,
	).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sessionID, true, nil
}

// Set binds sessionID to chatID, replacing any previous binding.
func (r *ChatSessionRepository) Set(ctx context.Context, chatID int64, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (chat_id, session_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		chatID, sessionID, r.now().UTC().Format(timestampLayout),
	)
	return err
}

// Delete removes the binding for chatID.
func (r *ChatSessionRepository) Delete(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE chat_id = ?`, chatID)
	return err
}

// CleanupStale removes bindings not touched for longer than maxAge and
// returns the chats they belonged to.
func (r *ChatSessionRepository) CleanupStale(ctx context.Context, maxAge time.Duration) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM chat_sessions WHERE updated_at < ? RETURNING chat_id`,
		r.now().UTC().Add(-maxAge).Format(timestampLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chatIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chatIDs = append(chatIDs, id)
	}
	return chatIDs, rows.Err()
}

// chatStore exposes one chat's binding as a session.Store.
type chatStore struct {
	repo   *ChatSessionRepository
	chatID int64
}

var _ session.Store = chatStore{}

func (s chatStore) Get(key string) (string, bool, error) {
	return s.repo.Get(context.Background(), s.chatID)
}

func (s chatStore) Set(key, value string) error {
	return s.repo.Set(context.Background(), s.chatID, value)
}

func (s chatStore) Delete(key string) error {
	return s.repo.Delete(context.Background(), s.chatID)
}
