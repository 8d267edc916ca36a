package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/realtime"
	"github.com/synerchat/server/internal/repo"
)

var baseTime = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recConn records every frame it receives.
type recConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func newRecConn() *recConn { return &recConn{id: uuid.NewString()} }

func (c *recConn) ID() string   { return c.id }
func (c *recConn) Close() error { return nil }

func (c *recConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, payload)
	return nil
}

type frame struct {
	Type      realtime.EventType `json:"type"`
	Data      json.RawMessage    `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

// events returns the data of every received frame of the given type.
func (c *recConn) events(t *testing.T, eventType realtime.EventType) []json.RawMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, raw := range c.frames {
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type == eventType {
			out = append(out, f.Data)
		}
	}
	return out
}

type recNotifier struct {
	mu    sync.Mutex
	users []uuid.UUID
}

func (n *recNotifier) NotifyOffline(_ context.Context, userID, _ uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	return nil
}

type harness struct {
	clock    *fakeClock
	store    repo.Store
	registry *realtime.Registry
	lc       *Lifecycle
	svc      *Service
	consent  *ConsentTracker
	sched    *Scheduler
	notifier *recNotifier

	u1, u2 model.User
	c1, c2 *recConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: baseTime}
	store := repo.NewMemoryStore(clock.Now)
	registry := realtime.NewRegistry(time.Second, nil, nil)
	router := realtime.NewRouter(registry, store.Chats, nil, realtime.WithClock(clock.Now))
	lc := NewLifecycle(store, router, WithClock(clock.Now), WithPolicy(DefaultPolicy()))
	notifier := &recNotifier{}

	h := &harness{
		clock:    clock,
		store:    store,
		registry: registry,
		lc:       lc,
		svc:      NewService(lc, notifier),
		consent:  NewConsentTracker(lc),
		sched:    NewScheduler(lc, time.Minute),
		notifier: notifier,
		c1:       newRecConn(),
		c2:       newRecConn(),
	}

	ctx := context.Background()
	var err error
	h.u1, err = store.Users.Create(ctx, "alice@example.com", "alice", "")
	require.NoError(t, err)
	h.u2, err = store.Users.Create(ctx, "bob@example.com", "bob", "")
	require.NoError(t, err)

	registry.Register(h.u1.ID, h.c1)
	registry.Register(h.u2.ID, h.c2)
	return h
}

// openSession stores a session last verified at baseTime. user1's code is
// AAAA and user2's code is BBBB.
func (h *harness) openSession(t *testing.T) model.ChatSession {
	t.Helper()
	return h.openSessionWith(t, h.u2.ID)
}

// openSessionWith is openSession between u1 and peer. A pair holds at most
// one session, so tests needing several use a fresh peer each.
func (h *harness) openSessionWith(t *testing.T, peer uuid.UUID) model.ChatSession {
	t.Helper()
	s, err := h.store.Chats.CreateSession(context.Background(), model.ChatSession{
		User1ID:            h.u1.ID,
		User2ID:            peer,
		User1Code:          "AAAA",
		User2Code:          "BBBB",
		LastVerifiedAt:     baseTime,
		NextVerificationAt: baseTime.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	return s
}

func decodeInto[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
