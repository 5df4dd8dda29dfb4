package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdfchat/internal/models"
)

// SQLStore keeps users, chats and chat messages in a relational database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an opened and migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CreateUser inserts the user record if it does not exist yet.
func (s *SQLStore) CreateUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	exists, err := userExists(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES (?, ?)`,
		userID, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// CheckUser returns ErrUserNotFound when the user record does not exist.
func (s *SQLStore) CheckUser(ctx context.Context, userID string) error {
	exists, err := userExists(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}
	return nil
}

// ListChats returns the chat summaries of a user in creation order.
func (s *SQLStore) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	exists, err := userExists(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, chat_name, created_at FROM chats WHERE user_id = ? ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.ChatSummary, 0)
	for rows.Next() {
		var c models.ChatSummary
		if err := rows.Scan(&c.ChatID, &c.ChatName, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns one chat with its ordered history.
func (s *SQLStore) GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	exists, err := userExists(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	var (
		rowID int64
		chat  models.Chat
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, chat_name, created_at FROM chats WHERE user_id = ? AND chat_id = ?`,
		userID, chatID,
	).Scan(&rowID, &chat.ChatID, &chat.ChatName, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM chat_messages WHERE chat_row_id = ? ORDER BY position ASC`,
		rowID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	chat.History = make([]*models.Message, 0)
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		chat.History = append(chat.History, m)
	}
	return &chat, rows.Err()
}

// SaveChat upserts the chat keyed by (userID, chat.ChatID). An existing chat gets its
// name and full history replaced and keeps its created_at. It reports whether a new
// chat was created.
func (s *SQLStore) SaveChat(ctx context.Context, userID string, chat *models.Chat) (bool, error) {
	if chat == nil || chat.ChatID == "" {
		return false, errors.New("chat id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	exists, err := userExists(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrUserNotFound
	}

	now := time.Now().UTC()
	created := false
	var rowID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM chats WHERE user_id = ? AND chat_id = ?`,
		userID, chat.ChatID,
	).Scan(&rowID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE chats SET chat_name = ?, updated_at = ? WHERE id = ?`,
			chat.ChatName, now, rowID,
		); err != nil {
			return false, fmt.Errorf("update chat: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_row_id = ?`, rowID); err != nil {
			return false, fmt.Errorf("clear chat history: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chats (user_id, chat_id, chat_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			userID, chat.ChatID, chat.ChatName, chat.CreatedAt.UTC(), now,
		)
		if err != nil {
			return false, fmt.Errorf("create chat: %w", err)
		}
		rowID, err = res.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("chat id: %w", err)
		}
		created = true
	default:
		return false, fmt.Errorf("lookup chat: %w", err)
	}

	for i, msg := range chat.History {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (chat_row_id, position, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
			rowID, i, msg.Role, msg.Content, msg.Timestamp.UTC(),
		); err != nil {
			return false, fmt.Errorf("insert chat message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit save chat: %w", err)
	}
	return created, nil
}

// DeleteChat removes a chat and its messages.
func (s *SQLStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	exists, err := userExists(ctx, tx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}

	var rowID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM chats WHERE user_id = ? AND chat_id = ?`,
		userID, chatID,
	).Scan(&rowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChatNotFound
		}
		return fmt.Errorf("lookup chat: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_row_id = ?`, rowID); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, rowID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLStore) Close(context.Context) error {
	return s.db.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func userExists(ctx context.Context, q queryRower, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, nil
	}
	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, userID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("verify user: %w", err)
	}
	return exists, nil
}
