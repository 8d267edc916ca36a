package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/repo"
)

func decode(t *testing.T, raw []byte) Envelope {
	t.Helper()
	var env struct {
		Type      EventType       `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp time.Time       `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	return Envelope{Type: env.Type, Data: env.Data, Timestamp: env.Timestamp}
}

func TestRouter_NotifyUserEnvelope(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	reg := NewRegistry(time.Second, nil, nil)
	router := NewRouter(reg, repo.NewMemoryStore(nil).Chats, nil, WithClock(func() time.Time { return fixed }))

	user := uuid.New()
	conn := newFakeConn()
	reg.Register(user, conn)

	report, err := router.NotifyUser(context.Background(), user, EventChatCleared, map[string]any{"chat_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	frames := conn.received()
	require.Len(t, frames, 1)
	env := decode(t, frames[0])
	assert.Equal(t, EventChatCleared, env.Type)
	assert.True(t, fixed.Equal(env.Timestamp))
	assert.JSONEq(t, `{"chat_id":"c1"}`, string(env.Data.(json.RawMessage)))
}

func TestRouter_SendToSession(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore(nil)
	reg := NewRegistry(time.Second, nil, nil)
	router := NewRouter(reg, store.Chats, nil)

	u1, u2 := uuid.New(), uuid.New()
	c1, c2 := newFakeConn(), newFakeConn()
	reg.Register(u1, c1)
	reg.Register(u2, c2)

	s, err := store.Chats.CreateSession(ctx, model.ChatSession{User1ID: u1, User2ID: u2})
	require.NoError(t, err)

	router.SendToSession(ctx, s.ID, []byte("all"), nil)
	router.SendToSession(ctx, s.ID, []byte("peer-only"), &u1)

	assert.Len(t, c1.received(), 1)
	assert.Len(t, c2.received(), 2)

	require.NoError(t, store.Chats.DeleteSession(ctx, s.ID))
	reports := router.SendToSession(ctx, s.ID, []byte("late"), nil)
	assert.Nil(t, reports, "a deleted session is a silent no-op")

	router.SendToParticipants(ctx, s, []byte("farewell"), nil)
	assert.Len(t, c1.received(), 2, "a loaded record still reaches both participants")
	assert.Len(t, c2.received(), 3)
}

func TestDecodeInbound(t *testing.T) {
	f, err := DecodeInbound([]byte(`{"type":"message","data":{"chat_id":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventMessage, f.Type)

	_, err = DecodeInbound([]byte(`{"data":{}}`))
	assert.Error(t, err)
	_, err = DecodeInbound([]byte(`not json`))
	assert.Error(t, err)
}
