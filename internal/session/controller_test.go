package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/agent0/internal/agent"
	"github.com/xaenox/agent0/internal/auth"
	"github.com/xaenox/agent0/internal/models"
	"github.com/xaenox/agent0/internal/storage"
)

const testUser = "auth0|alice"

func newAgentServer(t *testing.T, handler http.HandlerFunc) *agent.Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return agent.NewClient(ts.URL, "", zap.NewNop())
}

func replyWith(t *testing.T, response string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []models.Turn `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotEmpty(t, body.Messages)
		json.NewEncoder(w).Encode(map[string]string{"response": response})
	}
}

func TestSendFirstMessageCreatesChat(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)
	agentClient := newAgentServer(t, replyWith(t, "Hello!"))

	ctrl := New(store, agentClient, zap.NewNop(), testUser)
	require.NoError(t, ctrl.Send(ctx, auth.StaticToken("token"), "Hi"))

	// Exactly one chat, titled after the first message.
	chats, err := store.GetUserChats(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Hi", chats[0].Title)
	assert.Equal(t, chats[0].ID, ctrl.ChatID())
	assert.Equal(t, "Hi", ctrl.Title())

	// Both turns persisted; the greeting is not.
	persisted, err := store.GetChatMessages(ctx, ctrl.ChatID())
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.Equal(t, "Hi", persisted[0].Content)
	assert.Equal(t, models.RoleUser, persisted[0].Role)
	assert.Equal(t, "Hello!", persisted[1].Content)
	assert.Equal(t, models.RoleAssistant, persisted[1].Role)

	// Transcript: greeting, user turn, assistant turn.
	transcript := ctrl.Messages()
	require.Len(t, transcript, 3)
	assert.Equal(t, Greeting, transcript[0].Content)
	assert.Equal(t, "Hi", transcript[1].Content)
	assert.Equal(t, "Hello!", transcript[2].Content)

	assert.False(t, ctrl.Sending())
}

func TestSendLongFirstMessageTruncatesTitle(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)
	agentClient := newAgentServer(t, replyWith(t, "Sure."))

	ctrl := New(store, agentClient, zap.NewNop(), testUser)
	require.NoError(t, ctrl.Send(ctx, auth.StaticToken("token"),
		"Please summarize this very long article for me"))

	assert.Equal(t, "Please summarize this very lon...", ctrl.Title())
}

func TestSendAgentFailureAppendsErrorTurn(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)
	agentClient := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	ctrl := New(store, agentClient, zap.NewNop(), testUser)
	require.NoError(t, ctrl.Send(ctx, auth.StaticToken("token"), "Hi"))

	// The transcript gains exactly one assistant error turn.
	transcript := ctrl.Messages()
	require.Len(t, transcript, 3)
	last := transcript[2]
	assert.Equal(t, models.RoleAssistant, last.Role)
	assert.Equal(t, "Sorry, I encountered an error. Please try again.", last.Content)

	// The user turn was persisted before the call; the error turn is not.
	persisted, err := store.GetChatMessages(ctx, ctrl.ChatID())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, models.RoleUser, persisted[0].Role)

	assert.False(t, ctrl.Sending())
}

func TestSendRequiresAuthentication(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)
	agentClient := newAgentServer(t, replyWith(t, "never reached"))

	ctrl := New(store, agentClient, zap.NewNop(), testUser)
	err = ctrl.Send(ctx, auth.StaticToken(""), "Hi")
	assert.ErrorIs(t, err, auth.ErrLoginRequired)

	// No state change: no chat, no optimistic turn.
	assert.Empty(t, ctrl.ChatID())
	assert.Len(t, ctrl.Messages(), 1)
	chats, err := store.GetUserChats(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestSendEmptyMessageIsNoOp(t *testing.T) {
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)
	agentClient := newAgentServer(t, replyWith(t, "never reached"))

	ctrl := New(store, agentClient, zap.NewNop(), testUser)
	require.NoError(t, ctrl.Send(context.Background(), auth.StaticToken("token"), "   "))
	assert.Empty(t, ctrl.ChatID())
	assert.Len(t, ctrl.Messages(), 1)
}

func TestSecondSendRejectedWhileInFlight(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)

	release := make(chan struct{})
	agentClient := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(map[string]string{"response": "done"})
	})

	ctrl := New(store, agentClient, zap.NewNop(), testUser)

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Send(ctx, auth.StaticToken("token"), "slow one")
	}()

	// Wait for the first send to enter the loading state.
	require.Eventually(t, ctrl.Sending, time.Second, time.Millisecond)

	err = ctrl.Send(ctx, auth.StaticToken("token"), "too eager")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, ctrl.Sending())
}

// failingAssistantStore rejects assistant-turn writes to simulate a
// storage failure after a successful agent call.
type failingAssistantStore struct {
	storage.ChatStore
}

func (s *failingAssistantStore) AddMessageToChat(ctx context.Context, chatID, content string, role models.Role) (*models.Message, error) {
	if role == models.RoleAssistant {
		return nil, errors.New("out of space")
	}
	return s.ChatStore.AddMessageToChat(ctx, chatID, content, role)
}

func TestAssistantPersistFailureAppendsErrorTurn(t *testing.T) {
	ctx := context.Background()
	local, err := storage.NewLocalStore("")
	require.NoError(t, err)
	store := &failingAssistantStore{ChatStore: local}
	agentClient := newAgentServer(t, replyWith(t, "Hello!"))

	ctrl := New(store, agentClient, zap.NewNop(), testUser)
	require.NoError(t, ctrl.Send(ctx, auth.StaticToken("token"), "Hi"))

	// The reply is displayed, followed by the error turn.
	transcript := ctrl.Messages()
	require.Len(t, transcript, 4)
	assert.Equal(t, "Hello!", transcript[2].Content)
	assert.Equal(t, "Sorry, I encountered an error. Please try again.", transcript[3].Content)
	assert.Equal(t, models.RoleAssistant, transcript[3].Role)

	// Only the user turn made it to storage.
	persisted, err := local.GetChatMessages(ctx, ctrl.ChatID())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, models.RoleUser, persisted[0].Role)

	assert.False(t, ctrl.Sending())
}

func TestTranscriptReadableDuringSend(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)

	release := make(chan struct{})
	agentClient := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(map[string]string{"response": "done"})
	})

	ctrl := New(store, agentClient, zap.NewNop(), testUser)

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Send(ctx, auth.StaticToken("token"), "slow one")
	}()
	require.Eventually(t, ctrl.Sending, time.Second, time.Millisecond)

	// Snapshots taken mid-send must be safe to read and encode while the
	// send mutates controller state.
	for i := 0; i < 100; i++ {
		_, err := json.Marshal(ctrl.Messages())
		require.NoError(t, err)
	}

	close(release)
	require.NoError(t, <-done)

	transcript := ctrl.Messages()
	require.Len(t, transcript, 3)
	assert.Equal(t, "done", transcript[2].Content)
}

func TestLoadRejectsForeignChat(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)
	agentClient := newAgentServer(t, replyWith(t, "hi"))

	chat, err := store.CreateChat(ctx, "auth0|bob", "bob's chat")
	require.NoError(t, err)

	_, err = Load(ctx, store, agentClient, zap.NewNop(), testUser, chat.ID)
	assert.ErrorIs(t, err, storage.ErrChatNotFound)

	_, err = Load(ctx, store, agentClient, zap.NewNop(), testUser, "does-not-exist")
	assert.ErrorIs(t, err, storage.ErrChatNotFound)
}

func TestLoadRehydratesTranscript(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)
	agentClient := newAgentServer(t, replyWith(t, "hi"))

	chat, err := store.CreateChat(ctx, testUser, "history")
	require.NoError(t, err)
	_, err = store.AddMessageToChat(ctx, chat.ID, "earlier", models.RoleUser)
	require.NoError(t, err)

	ctrl, err := Load(ctx, store, agentClient, zap.NewNop(), testUser, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "history", ctrl.Title())

	transcript := ctrl.Messages()
	require.Len(t, transcript, 1)
	assert.Equal(t, "earlier", transcript[0].Content)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore("")
	require.NoError(t, err)
	agentClient := newAgentServer(t, replyWith(t, "ok"))

	ctrl := New(store, agentClient, zap.NewNop(), testUser)
	require.NoError(t, ctrl.Send(ctx, auth.StaticToken("token"), "Hi"))

	require.NoError(t, ctrl.Rename(ctx, "  Renamed  "))
	assert.Equal(t, "Renamed", ctrl.Title())

	chat, err := store.GetChatByID(ctx, ctrl.ChatID())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", chat.Title)

	// Blank titles are ignored.
	require.NoError(t, ctrl.Rename(ctx, "   "))
	assert.Equal(t, "Renamed", ctrl.Title())
}
