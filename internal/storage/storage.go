package storage

import (
	"context"
	"errors"

	"github.com/xaenox/agent0/internal/models"
)

// DefaultChatTitle is used when a chat is created without an explicit title.
const DefaultChatTitle = "New Chat"

// ErrChatNotFound is returned by operations that require an existing chat.
var ErrChatNotFound = errors.New("chat not found")

// ChatStore is the persistence contract shared by both backends. The local
// and postgres variants are drop-in substitutable: same signatures, same
// ordering guarantees, same cascade behavior. Which one is active is decided
// once at composition time, never at call sites.
type ChatStore interface {
	// CreateChat allocates a new chat for userID. An empty title defaults
	// to DefaultChatTitle. Both timestamps are set to creation time.
	CreateChat(ctx context.Context, userID, title string) (*models.Chat, error)

	// GetChatByID returns (nil, nil) when the chat does not exist.
	GetChatByID(ctx context.Context, chatID string) (*models.Chat, error)

	// GetUserChats returns all chats owned by userID, newest activity first
	// (descending UpdatedAt).
	GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error)

	// UpdateChatTitle renames a chat and bumps UpdatedAt. Returns
	// ErrChatNotFound when the chat does not exist.
	UpdateChatTitle(ctx context.Context, chatID, title string) (*models.Chat, error)

	// DeleteChat removes the chat and all of its messages. Deleting a chat
	// that does not exist is a no-op; orphaned messages are never left
	// behind.
	DeleteChat(ctx context.Context, chatID string) error

	// AddMessageToChat appends a message and bumps the parent chat's
	// UpdatedAt.
	AddMessageToChat(ctx context.Context, chatID, content string, role models.Role) (*models.Message, error)

	// GetChatMessages returns the chat's messages in ascending CreatedAt
	// order.
	GetChatMessages(ctx context.Context, chatID string) ([]*models.Message, error)

	Close() error
}
