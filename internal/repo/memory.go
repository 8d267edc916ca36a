package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synerchat/server/internal/model"
)

// memoryData backs the in-memory store. All four repositories share one
// mutex so a session delete and its message cascade are atomic.
type memoryData struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[uuid.UUID]model.User
	requests map[uuid.UUID]model.ChatRequest
	sessions map[uuid.UUID]model.ChatSession
	messages map[uuid.UUID][]model.Message
}

// NewMemoryStore returns a Store kept entirely in process memory. It is used
// for development and tests; nothing survives a restart. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) Store {
	if now == nil {
		now = time.Now
	}
	d := &memoryData{
		now:      now,
		users:    make(map[uuid.UUID]model.User),
		requests: make(map[uuid.UUID]model.ChatRequest),
		sessions: make(map[uuid.UUID]model.ChatSession),
		messages: make(map[uuid.UUID][]model.Message),
	}
	return Store{
		Users:    &memUsers{d},
		Requests: &memRequests{d},
		Chats:    &memChats{d},
		Messages: &memMessages{d},
	}
}

type memUsers struct{ d *memoryData }

func (r *memUsers) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	u, ok := r.d.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (r *memUsers) Create(_ context.Context, email, username, profilePicture string) (model.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, u := range r.d.users {
		if strings.EqualFold(u.Email, email) {
			return model.User{}, fmt.Errorf("user with email %q already exists", email)
		}
	}
	u := model.User{
		ID:             uuid.New(),
		Email:          email,
		Username:       username,
		ProfilePicture: profilePicture,
		CreatedAt:      r.d.now(),
	}
	r.d.users[u.ID] = u
	return u, nil
}

func (r *memUsers) Search(_ context.Context, query string, excludeID uuid.UUID, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.ToLower(strings.TrimSpace(query))
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.User
	for _, u := range r.d.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Email), q) || strings.Contains(strings.ToLower(u.Username), q) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRequests struct{ d *memoryData }

func (r *memRequests) Create(_ context.Context, fromUserID, toUserID uuid.UUID, code string, expiresAt time.Time) (model.ChatRequest, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	req := model.ChatRequest{
		ID:               uuid.New(),
		FromUserID:       fromUserID,
		ToUserID:         toUserID,
		VerificationCode: code,
		Status:           model.RequestPending,
		ExpiresAt:        expiresAt,
		CreatedAt:        r.d.now(),
	}
	r.d.requests[req.ID] = req
	return req, nil
}

func (r *memRequests) GetByID(_ context.Context, id uuid.UUID) (model.ChatRequest, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	req, ok := r.d.requests[id]
	if !ok {
		return model.ChatRequest{}, fmt.Errorf("chat request %s: %w", id, ErrNotFound)
	}
	return req, nil
}

func (r *memRequests) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.RequestStatus) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	req, ok := r.d.requests[id]
	if !ok {
		return fmt.Errorf("chat request %s: %w", id, ErrNotFound)
	}
	if req.Status != from {
		return ErrStatusConflict
	}
	req.Status = to
	r.d.requests[id] = req
	return nil
}

func (r *memRequests) ListPendingForUser(_ context.Context, toUserID uuid.UUID) ([]model.ChatRequest, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.ChatRequest
	for _, req := range r.d.requests {
		if req.ToUserID == toUserID && req.Status == model.RequestPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRequests) HasPendingBetween(_ context.Context, userA, userB uuid.UUID) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	now := r.d.now()
	for _, req := range r.d.requests {
		if samePair(req.FromUserID, req.ToUserID, userA, userB) &&
			req.Status == model.RequestPending && req.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

type memChats struct{ d *memoryData }

func (r *memChats) GetSessionByID(_ context.Context, id uuid.UUID) (model.ChatSession, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s, ok := r.d.sessions[id]
	if !ok {
		return model.ChatSession{}, fmt.Errorf("chat session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func samePair(a1, a2, b1, b2 uuid.UUID) bool {
	return (a1 == b1 && a2 == b2) || (a1 == b2 && a2 == b1)
}

func (r *memChats) CreateSession(_ context.Context, s model.ChatSession) (model.ChatSession, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, existing := range r.d.sessions {
		if samePair(existing.User1ID, existing.User2ID, s.User1ID, s.User2ID) {
			return model.ChatSession{}, fmt.Errorf("chat session between %s and %s: %w", s.User1ID, s.User2ID, ErrDuplicate)
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = r.d.now()
	s.VerificationPending = false
	s.VerificationDeadline = nil
	s.User1WantsDelete = false
	s.User2WantsDelete = false
	r.d.sessions[s.ID] = s
	return s, nil
}

func (r *memChats) DeleteSession(_ context.Context, id uuid.UUID) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.sessions[id]; !ok {
		return fmt.Errorf("chat session %s: %w", id, ErrNotFound)
	}
	delete(r.d.sessions, id)
	delete(r.d.messages, id)
	return nil
}

func (r *memChats) UpdateSessionVerification(_ context.Context, id uuid.UUID, verifiedAt, nextAt time.Time) error {
	return r.update(id, func(s *model.ChatSession) {
		s.LastVerifiedAt = verifiedAt
		s.NextVerificationAt = nextAt
		s.VerificationPending = false
		s.VerificationDeadline = nil
	})
}

func (r *memChats) SetVerificationPending(_ context.Context, id uuid.UUID, deadline time.Time) error {
	return r.update(id, func(s *model.ChatSession) {
		s.VerificationPending = true
		s.VerificationDeadline = &deadline
	})
}

func (r *memChats) SetWantsDelete(_ context.Context, id, userID uuid.UUID) (model.ChatSession, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s, ok := r.d.sessions[id]
	if !ok || !s.IsParticipant(userID) {
		return model.ChatSession{}, fmt.Errorf("chat session %s: %w", id, ErrNotFound)
	}
	if userID == s.User1ID {
		s.User1WantsDelete = true
	} else {
		s.User2WantsDelete = true
	}
	r.d.sessions[id] = s
	return s, nil
}

func (r *memChats) update(id uuid.UUID, fn func(*model.ChatSession)) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s, ok := r.d.sessions[id]
	if !ok {
		return fmt.Errorf("chat session %s: %w", id, ErrNotFound)
	}
	fn(&s)
	r.d.sessions[id] = s
	return nil
}

func (r *memChats) ListNonDestroyedSessions(_ context.Context) ([]model.ChatSession, error) {
	return r.list(func(model.ChatSession) bool { return true }, false), nil
}

func (r *memChats) ListSessionsForUser(_ context.Context, userID uuid.UUID) ([]model.ChatSession, error) {
	return r.list(func(s model.ChatSession) bool { return s.IsParticipant(userID) }, true), nil
}

func (r *memChats) FindSessionBetween(_ context.Context, a, b uuid.UUID) (model.ChatSession, error) {
	found := r.list(func(s model.ChatSession) bool {
		return (s.User1ID == a && s.User2ID == b) || (s.User1ID == b && s.User2ID == a)
	}, false)
	if len(found) == 0 {
		return model.ChatSession{}, ErrNotFound
	}
	return found[0], nil
}

func (r *memChats) list(keep func(model.ChatSession) bool, newestFirst bool) []model.ChatSession {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.ChatSession
	for _, s := range r.d.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type memMessages struct{ d *memoryData }

func (r *memMessages) CreateMessage(_ context.Context, sessionID, senderID uuid.UUID, content, messageType string) (model.Message, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.sessions[sessionID]; !ok {
		return model.Message{}, fmt.Errorf("chat session %s: %w", sessionID, ErrNotFound)
	}
	msg := model.Message{
		ID:               uuid.New(),
		SessionID:        sessionID,
		SenderID:         senderID,
		EncryptedContent: content,
		MessageType:      messageType,
		CreatedAt:        r.d.now(),
	}
	r.d.messages[sessionID] = append(r.d.messages[sessionID], msg)
	return msg, nil
}

func (r *memMessages) DeleteMessagesForSession(_ context.Context, sessionID uuid.UUID) (int64, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	n := int64(len(r.d.messages[sessionID]))
	delete(r.d.messages, sessionID)
	return n, nil
}

func (r *memMessages) ListMessages(_ context.Context, sessionID uuid.UUID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	all := r.d.messages[sessionID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]model.Message, len(all))
	copy(out, all)
	return out, nil
}
