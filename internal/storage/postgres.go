package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xaenox/agent0/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	UseLocal bool
}

// PostgresStore is the server-backed ChatStore variant.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(config DatabaseConfig, logger *zap.Logger) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	store := &PostgresStore{db: db, logger: logger}

	if err := store.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	if title == "" {
		title = DefaultChatTitle
	}

	chat := &models.Chat{
		ID:     uuid.New().String(),
		Title:  title,
		UserID: userID,
	}

	query := `
		INSERT INTO chats (id, title, user_id)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, chat.ID, chat.Title, chat.UserID).
		Scan(&chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating chat: %w", err)
	}

	return chat, nil
}

func (s *PostgresStore) GetChatByID(ctx context.Context, chatID string) (*models.Chat, error) {
	query := `
		SELECT id, title, user_id, created_at, updated_at
		FROM chats
		WHERE id = $1`

	chat := &models.Chat{}
	err := s.db.QueryRowContext(ctx, query, chatID).
		Scan(&chat.ID, &chat.Title, &chat.UserID, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying chat: %w", err)
	}

	return chat, nil
}

func (s *PostgresStore) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	query := `
		SELECT id, title, user_id, created_at, updated_at
		FROM chats
		WHERE user_id = $1
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying chats: %w", err)
	}
	defer rows.Close()

	chats := make([]*models.Chat, 0)
	for rows.Next() {
		chat := &models.Chat{}
		err := rows.Scan(&chat.ID, &chat.Title, &chat.UserID, &chat.CreatedAt, &chat.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning chat: %w", err)
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

func (s *PostgresStore) UpdateChatTitle(ctx context.Context, chatID, title string) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET title = $1, updated_at = now()
		WHERE id = $2
		RETURNING id, title, user_id, created_at, updated_at`

	chat := &models.Chat{}
	err := s.db.QueryRowContext(ctx, query, title, chatID).
		Scan(&chat.ID, &chat.Title, &chat.UserID, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error updating chat title: %w", err)
	}

	return chat, nil
}

func (s *PostgresStore) DeleteChat(ctx context.Context, chatID string) error {
	// Messages go with the chat via ON DELETE CASCADE.
	result, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("error deleting chat: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		s.logger.Debug("Delete of non-existent chat ignored", zap.String("chat_id", chatID))
	}

	return nil
}

func (s *PostgresStore) AddMessageToChat(ctx context.Context, chatID, content string, role models.Role) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	msg := &models.Message{
		ID:      uuid.New().String(),
		Content: content,
		Role:    role,
		ChatID:  chatID,
	}

	query := `
		INSERT INTO messages (id, chat_id, content, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	if err := tx.QueryRowContext(ctx, query, msg.ID, msg.ChatID, msg.Content, msg.Role).
		Scan(&msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("error creating message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, chatID); err != nil {
		return nil, fmt.Errorf("error bumping chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing message: %w", err)
	}

	return msg, nil
}

func (s *PostgresStore) GetChatMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	query := `
		SELECT id, chat_id, content, role, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		msg := &models.Message{}
		err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Content, &msg.Role, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
