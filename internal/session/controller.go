// Package session orchestrates the send-message flow for one chat screen:
// credential acquisition, persistence and remote-agent invocation.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/agent0/internal/auth"
	"github.com/xaenox/agent0/internal/models"
	"github.com/xaenox/agent0/internal/storage"
)

// Greeting opens every empty transcript. It is display-only and never
// persisted or counted as a real turn.
const Greeting = "Hello! How can I help you today?"

// errorReply is the fixed assistant turn shown for any send failure. It is
// appended to the transcript but never persisted.
const errorReply = "Sorry, I encountered an error. Please try again."

// ErrBusy rejects a send while another one is in flight for the same chat.
var ErrBusy = errors.New("another send is in flight")

// Agent is the remote agent API as the controller sees it.
type Agent interface {
	Send(ctx context.Context, token string, turns []models.Turn) (string, error)
}

// Controller drives a single chat. A transcript lives in memory and is
// reconciled with the store as turns are confirmed; user turns are appended
// optimistically before any persistence happens.
type Controller struct {
	store  storage.ChatStore
	agent  Agent
	logger *zap.Logger

	mu       sync.Mutex
	userID   string
	chatID   string
	title    string
	messages []*models.Message
	sending  bool
}

// New returns a controller for a chat that does not exist yet. The chat
// record is created lazily on the first send.
func New(store storage.ChatStore, agent Agent, logger *zap.Logger, userID string) *Controller {
	return &Controller{
		store:    store,
		agent:    agent,
		logger:   logger,
		userID:   userID,
		title:    storage.DefaultChatTitle,
		messages: []*models.Message{greeting()},
	}
}

// Load returns a controller for an existing chat, verifying ownership and
// rehydrating the transcript. A chat owned by someone else is reported as
// not found.
func Load(ctx context.Context, store storage.ChatStore, agent Agent, logger *zap.Logger, userID, chatID string) (*Controller, error) {
	chat, err := store.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil || chat.UserID != userID {
		return nil, storage.ErrChatNotFound
	}

	messages, err := store.GetChatMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		messages = []*models.Message{greeting()}
	}

	return &Controller{
		store:    store,
		agent:    agent,
		logger:   logger,
		userID:   userID,
		chatID:   chatID,
		title:    chat.Title,
		messages: messages,
	}, nil
}

func greeting() *models.Message {
	return &models.Message{
		ID:        uuid.New().String(),
		Content:   Greeting,
		Role:      models.RoleAssistant,
		CreatedAt: time.Now(),
	}
}

// Send runs one conversation turn end to end. Empty input is a no-op and an
// unauthenticated caller gets auth.ErrLoginRequired with no state change.
// Network, HTTP and storage failures all surface as the fixed error turn in
// the transcript rather than as a returned error; the controller is always
// back in an interactive state when Send returns.
func (c *Controller) Send(ctx context.Context, tokens auth.TokenSource, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !tokens.Authenticated() {
		return auth.ErrLoginRequired
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.sending = true

	userMsg := &models.Message{
		ID:        uuid.New().String(),
		Content:   text,
		Role:      models.RoleUser,
		CreatedAt: time.Now(),
		ChatID:    c.chatID,
	}
	c.messages = append(c.messages, userMsg)
	c.mu.Unlock()

	// The loading state must clear on every exit path.
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	token, err := tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrLoginRequired) {
			c.logger.Error("Token expired or invalid, login required")
			return auth.ErrLoginRequired
		}
		c.logger.Error("Failed to acquire token", zap.Error(err))
		c.appendErrorReply()
		return nil
	}

	if err := c.ensureChat(ctx, text); err != nil {
		c.logger.Error("Failed to create chat", zap.Error(err), zap.String("user_id", c.userID))
		c.appendErrorReply()
		return nil
	}
	chatID := c.ChatID()

	if _, err := c.store.AddMessageToChat(ctx, chatID, userMsg.Content, models.RoleUser); err != nil {
		c.logger.Error("Failed to save user message", zap.Error(err), zap.String("chat_id", chatID))
		c.appendErrorReply()
		return nil
	}

	reply, err := c.agent.Send(ctx, token, models.TurnsFromMessages(c.Messages()))
	if err != nil {
		c.logger.Error("Error sending message", zap.Error(err), zap.String("chat_id", chatID))
		c.appendErrorReply()
		return nil
	}

	assistantMsg := &models.Message{
		ID:        uuid.New().String(),
		Content:   reply,
		Role:      models.RoleAssistant,
		CreatedAt: time.Now(),
		ChatID:    chatID,
	}
	c.mu.Lock()
	c.messages = append(c.messages, assistantMsg)
	c.mu.Unlock()

	if _, err := c.store.AddMessageToChat(ctx, chatID, reply, models.RoleAssistant); err != nil {
		c.logger.Error("Failed to save assistant message", zap.Error(err), zap.String("chat_id", chatID))
		c.appendErrorReply()
	}

	return nil
}

// ensureChat lazily creates the chat on the first send and titles it from
// the first user message.
func (c *Controller) ensureChat(ctx context.Context, firstMessage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chatID != "" {
		return nil
	}

	chat, err := c.store.CreateChat(ctx, c.userID, "")
	if err != nil {
		return err
	}
	c.chatID = chat.ID
	c.title = chat.Title

	titled, err := c.store.UpdateChatTitle(ctx, chat.ID, TitleFromMessage(firstMessage))
	if err != nil {
		return err
	}
	c.title = titled.Title
	return nil
}

func (c *Controller) appendErrorReply() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, &models.Message{
		ID:        uuid.New().String(),
		Content:   errorReply,
		Role:      models.RoleAssistant,
		CreatedAt: time.Now(),
		ChatID:    c.chatID,
	})
}

// Rename updates the chat title. Empty input and unbound chats are no-ops,
// matching the UI's behavior.
func (c *Controller) Rename(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)

	c.mu.Lock()
	chatID := c.chatID
	c.mu.Unlock()

	if chatID == "" || title == "" {
		return nil
	}

	chat, err := c.store.UpdateChatTitle(ctx, chatID, title)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.title = chat.Title
	c.mu.Unlock()
	return nil
}

// Messages returns a snapshot of the in-memory transcript.
func (c *Controller) Messages() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make([]*models.Message, len(c.messages))
	copy(snapshot, c.messages)
	return snapshot
}

func (c *Controller) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

func (c *Controller) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

func (c *Controller) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}
