package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/repo"
)

// SessionLookup resolves session participants.
type SessionLookup interface {
	GetSessionByID(ctx context.Context, id uuid.UUID) (model.ChatSession, error)
}

// Router fans events out to users and session participants.
type Router struct {
	registry *Registry
	sessions SessionLookup
	now      func() time.Time
	logger   *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithClock overrides the clock used to stamp envelopes.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a Router over registry.
func NewRouter(registry *Registry, sessions SessionLookup, logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		registry: registry,
		sessions: sessions,
		now:      time.Now,
		logger:   logger.With("component", "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the underlying connection registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Encode builds an envelope stamped with the router clock.
func (r *Router) Encode(eventType EventType, data any) ([]byte, error) {
	return Encode(eventType, data, r.now())
}

// NotifyUser sends one event to every connection of userID.
func (r *Router) NotifyUser(ctx context.Context, userID uuid.UUID, eventType EventType, data any) (DeliveryReport, error) {
	payload, err := r.Encode(eventType, data)
	if err != nil {
		return DeliveryReport{UserID: userID}, err
	}
	return r.registry.SendToUser(ctx, userID, payload), nil
}

// SendToSession resolves the participants of sessionID through the store and
// delivers payload to both, skipping exclude. A session that no longer
// exists is a silent no-op.
func (r *Router) SendToSession(ctx context.Context, sessionID uuid.UUID, payload []byte, exclude *uuid.UUID) []DeliveryReport {
	session, err := r.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			r.logger.Warn("resolve session participants", "chat_id", sessionID, "error", err)
		}
		return nil
	}
	return r.SendToParticipants(ctx, session, payload, exclude)
}

// SendToParticipants delivers payload to the participants of an already
// loaded session. It works after the record has been deleted.
func (r *Router) SendToParticipants(ctx context.Context, session model.ChatSession, payload []byte, exclude *uuid.UUID) []DeliveryReport {
	reports := make([]DeliveryReport, 0, 2)
	for _, userID := range session.Participants() {
		if exclude != nil && *exclude == userID {
			continue
		}
		reports = append(reports, r.registry.SendToUser(ctx, userID, payload))
	}
	return reports
}

// Broadcast encodes one event and sends it to the participants of session.
func (r *Router) Broadcast(ctx context.Context, session model.ChatSession, eventType EventType, data any, exclude *uuid.UUID) error {
	payload, err := r.Encode(eventType, data)
	if err != nil {
		return err
	}
	r.SendToParticipants(ctx, session, payload, exclude)
	return nil
}
