package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/synerchat/server/internal/auth"
	"github.com/synerchat/server/internal/chat"
	httphandler "github.com/synerchat/server/internal/http"
	"github.com/synerchat/server/internal/http/handlers"
	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/observability"
	"github.com/synerchat/server/internal/realtime"
	"github.com/synerchat/server/internal/repo"
)

const testJWTSecret = "test-jwt-secret-at-least-32-characters-long"

var baseTime = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testServer runs the full HTTP stack on httptest
type testServer struct {
	Server    *httptest.Server
	Store     repo.Store
	Registry  *realtime.Registry
	Scheduler *chat.Scheduler
	Clock     *testClock
	jwt       *auth.JWTService
}

// newTestServer wires store into the same stack cmd/api builds. Session
// timing follows Clock; the scheduler is driven by calling Sweep.
func newTestServer(t *testing.T, store repo.Store, clock *testClock) *testServer {
	t.Helper()

	metrics := observability.NewMetrics()
	registry := realtime.NewRegistry(time.Second, nil, metrics)
	router := realtime.NewRouter(registry, store.Chats, nil, realtime.WithClock(clock.Now))
	lc := chat.NewLifecycle(store, router, chat.WithClock(clock.Now), chat.WithMetrics(metrics))
	svc := chat.NewService(lc, nil)
	jwtService := auth.NewJWTService(testJWTSecret)

	handler := httphandler.NewRouter(httphandler.Deps{
		ChatHandler: handlers.NewChatHandler(svc, chat.NewConsentTracker(lc), nil),
		WSHandler:   handlers.NewWSHandler(svc, router, nil),
		JWTService:  jwtService,
		UserRepo:    store.Users,
		Metrics:     metrics,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		// Same order as cmd/api: stop accepting, drain, then close.
		server.Listener.Close()
		registry.CloseAll()
		server.Close()
	})

	return &testServer{
		Server:    server,
		Store:     store,
		Registry:  registry,
		Scheduler: chat.NewScheduler(lc, time.Minute),
		Clock:     clock,
		jwt:       jwtService,
	}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// client is one signed-in user talking to the server
type client struct {
	t     *testing.T
	srv   *testServer
	User  model.User
	token string
	ws    *websocket.Conn
}

func (s *testServer) newClient(t *testing.T, email string) *client {
	t.Helper()
	user, err := s.Store.Users.Create(testContext(t), email, strings.Split(email, "@")[0], "")
	require.NoError(t, err)
	token, err := s.jwt.SignAccessToken(user.ID, user.Email, time.Hour)
	require.NoError(t, err)
	return &client{t: t, srv: s, User: user, token: token}
}

// call sends an authenticated JSON request and decodes the response into
// out when it is non-nil. It returns the status code.
func (c *client) call(method, path string, body, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.srv.BaseURL()+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.srv.Server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	raw := readBody(resp)
	if out != nil {
		require.NoError(c.t, json.Unmarshal([]byte(raw), out), "body: %s", raw)
	}
	return resp.StatusCode
}

// connect opens the realtime channel with the token query parameter.
func (c *client) connect() {
	c.t.Helper()
	url := "ws" + strings.TrimPrefix(c.srv.BaseURL(), "http") + "/ws?token=" + c.token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(c.t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c.t.Cleanup(func() { conn.Close() })
	c.ws = conn
	require.Eventually(c.t, func() bool { return c.srv.Registry.Online(c.User.ID) }, 2*time.Second, 10*time.Millisecond)
}

type envelope struct {
	Type realtime.EventType `json:"type"`
	Data json.RawMessage    `json:"data"`
}

// expect reads frames until one of eventType arrives and decodes its data.
// Frames of other types are skipped.
func (c *client) expect(eventType realtime.EventType, data any) {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(c.t, c.ws.SetReadDeadline(deadline))
		var env envelope
		require.NoError(c.t, c.ws.ReadJSON(&env), "waiting for %s", eventType)
		if env.Type != eventType {
			continue
		}
		if data != nil {
			require.NoError(c.t, json.Unmarshal(env.Data, data))
		}
		return
	}
}

func (c *client) send(frame any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(frame))
}

// openChat runs request and accept between from and to and returns the chat id.
func openChat(t *testing.T, from, to *client, fromCode, toCode string) uuid.UUID {
	t.Helper()
	var sent struct {
		RequestID uuid.UUID `json:"request_id"`
	}
	require.Equal(t, http.StatusOK, from.call(http.MethodPost, "/chat/request", map[string]string{
		"to_user_id":        to.User.ID.String(),
		"verification_code": fromCode,
	}, &sent))

	var accepted struct {
		ChatID uuid.UUID `json:"chat_id"`
	}
	require.Equal(t, http.StatusOK, to.call(http.MethodPost, "/chat/accept", map[string]string{
		"request_id":        sent.RequestID.String(),
		"verification_code": toCode,
	}, &accepted))
	return accepted.ChatID
}

func readBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
