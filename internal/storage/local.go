package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/agent0/internal/models"
)

// Fixed file names for the two persisted JSON arrays.
const (
	chatsFile    = "agent0-chats.json"
	messagesFile = "agent0-messages.json"
)

// LocalStore keeps chats and messages in memory as plain slices, optionally
// mirrored to two JSON array files in a data directory. Every mutation
// rewrites the affected file, so durability is bounded by the last
// successful write. With an empty directory the store is memory-only, which
// is what the tests and the demo mode use.
type LocalStore struct {
	mu       sync.RWMutex
	dir      string
	chats    []*models.Chat
	messages []*models.Message
}

// NewLocalStore loads any previously persisted records from dir. An empty
// dir disables persistence entirely.
func NewLocalStore(dir string) (*LocalStore, error) {
	s := &LocalStore{dir: dir}
	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating data directory: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, chatsFile), &s.chats); err != nil {
		return nil, fmt.Errorf("error loading chats: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, messagesFile), &s.messages); err != nil {
		return nil, fmt.Errorf("error loading messages: %w", err)
	}
	return s, nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *LocalStore) flushChats() error {
	if s.dir == "" {
		return nil
	}
	data, err := json.Marshal(s.chats)
	if err != nil {
		return fmt.Errorf("error serializing chats: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, chatsFile), data, 0o644)
}

func (s *LocalStore) flushMessages() error {
	if s.dir == "" {
		return nil
	}
	data, err := json.Marshal(s.messages)
	if err != nil {
		return fmt.Errorf("error serializing messages: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, messagesFile), data, 0o644)
}

func (s *LocalStore) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	if title == "" {
		title = DefaultChatTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	chat := &models.Chat{
		ID:        uuid.New().String(),
		Title:     title,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats = append(s.chats, chat)
	if err := s.flushChats(); err != nil {
		s.chats = s.chats[:len(s.chats)-1]
		return nil, err
	}

	c := *chat
	return &c, nil
}

func (s *LocalStore) GetChatByID(ctx context.Context, chatID string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, chat := range s.chats {
		if chat.ID == chatID {
			c := *chat
			return &c, nil
		}
	}
	return nil, nil
}

func (s *LocalStore) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := make([]*models.Chat, 0)
	for _, chat := range s.chats {
		if chat.UserID == userID {
			c := *chat
			chats = append(chats, &c)
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (s *LocalStore) UpdateChatTitle(ctx context.Context, chatID, title string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chat := range s.chats {
		if chat.ID == chatID {
			chat.Title = title
			chat.UpdatedAt = time.Now()
			if err := s.flushChats(); err != nil {
				return nil, err
			}
			c := *chat
			return &c, nil
		}
	}
	return nil, ErrChatNotFound
}

func (s *LocalStore) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.chats[:0:0]
	for _, chat := range s.chats {
		if chat.ID != chatID {
			chats = append(chats, chat)
		}
	}
	messages := s.messages[:0:0]
	for _, msg := range s.messages {
		if msg.ChatID != chatID {
			messages = append(messages, msg)
		}
	}
	s.chats, s.messages = chats, messages

	if err := s.flushChats(); err != nil {
		return err
	}
	return s.flushMessages()
}

func (s *LocalStore) AddMessageToChat(ctx context.Context, chatID, content string, role models.Role) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &models.Message{
		ID:        uuid.New().String(),
		Content:   content,
		Role:      role,
		CreatedAt: time.Now(),
		ChatID:    chatID,
	}
	s.messages = append(s.messages, msg)
	if err := s.flushMessages(); err != nil {
		s.messages = s.messages[:len(s.messages)-1]
		return nil, err
	}

	for _, chat := range s.chats {
		if chat.ID == chatID {
			chat.UpdatedAt = time.Now()
			if err := s.flushChats(); err != nil {
				return nil, err
			}
			break
		}
	}

	m := *msg
	return &m, nil
}

func (s *LocalStore) GetChatMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]*models.Message, 0)
	for _, msg := range s.messages {
		if msg.ChatID == chatID {
			m := *msg
			messages = append(messages, &m)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (s *LocalStore) Close() error {
	// Nothing to close; files are rewritten on every mutation.
	return nil
}
