package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/agent0/internal/storage"
)

// Manager hands out at most one live controller per chat, so each chat's
// transcript has a single writer.
type Manager struct {
	store  storage.ChatStore
	agent  Agent
	logger *zap.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewManager(store storage.ChatStore, agent Agent, logger *zap.Logger) *Manager {
	return &Manager{
		store:       store,
		agent:       agent,
		logger:      logger,
		controllers: make(map[string]*Controller),
	}
}

// New returns a controller for a chat that does not exist yet. Call
// Remember once the first send has bound it to a chat id.
func (m *Manager) New(userID string) *Controller {
	return New(m.store, m.agent, m.logger, userID)
}

// Get returns the live controller for a chat, loading it from the store on
// first use.
func (m *Manager) Get(ctx context.Context, userID, chatID string) (*Controller, error) {
	m.mu.Lock()
	if c, ok := m.controllers[chatID]; ok && c.userID == userID {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	c, err := Load(ctx, m.store, m.agent, m.logger, userID, chatID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have loaded it first; keep the registered one.
	if existing, ok := m.controllers[chatID]; ok && existing.userID == userID {
		return existing, nil
	}
	m.controllers[chatID] = c
	return c, nil
}

// Remember registers a controller under the chat id it acquired on its
// first send.
func (m *Manager) Remember(c *Controller) {
	chatID := c.ChatID()
	if chatID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers[chatID] = c
}

// Forget drops the live controller for a deleted chat.
func (m *Manager) Forget(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controllers, chatID)
}
