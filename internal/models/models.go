package models

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chat is a titled, user-owned conversation container. UserID is immutable
// after creation; a chat belongs to exactly one user.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one turn in a conversation, authored by either the end user or
// the agent. Messages are append-only and deleted only when their chat is.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	ChatID    string    `json:"chatId"`
}

// Turn is the wire form of a message sent to the agent API. Internal
// identifiers never cross the wire.
type Turn struct {
	Content string `json:"content"`
	Role    Role   `json:"role"`
}

// TurnsFromMessages maps transcript messages to their wire form.
func TurnsFromMessages(messages []*Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, Turn{Content: m.Content, Role: m.Role})
	}
	return turns
}
