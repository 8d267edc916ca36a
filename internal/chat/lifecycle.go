package chat

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/synerchat/server/internal/apperr"
	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/observability"
	"github.com/synerchat/server/internal/realtime"
	"github.com/synerchat/server/internal/repo"
)

// Transition names a session lifecycle change.
type Transition string

const (
	TransitionNone      Transition = ""
	TransitionPending   Transition = "verification_pending"
	TransitionVerified  Transition = "verified"
	TransitionDestroyed Transition = "destroyed"
	TransitionDeleted   Transition = "deleted"
)

// Destroy reasons.
const (
	ReasonVerificationTimeout = "verification timeout"
	ReasonMutualConsent       = "mutual consent"
)

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithPolicy sets the timing policy; zero fields keep their defaults.
func WithPolicy(p Policy) Option {
	return func(l *Lifecycle) { l.policy = p.withDefaults() }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Lifecycle) { l.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(l *Lifecycle) { l.tracer = t }
}

// Lifecycle owns the ChatSession state machine. Every transition runs under
// the session's lock on a record loaded inside that lock, and its broadcast
// is sent before the lock is released, so transitions of one session are
// totally ordered.
type Lifecycle struct {
	store   repo.Store
	router  *realtime.Router
	locks   *keyedLocker
	policy  Policy
	now     func() time.Time
	base    *slog.Logger
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewLifecycle creates the session state machine over store and router.
func NewLifecycle(store repo.Store, router *realtime.Router, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:  store,
		router: router,
		locks:  newKeyedLocker(),
		policy: DefaultPolicy(),
		now:    time.Now,
		logger: slog.Default(),
		tracer: observability.Tracer(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.base = l.logger
	l.logger = l.logger.With("component", "chat")
	return l
}

// Policy returns the active timing policy.
func (l *Lifecycle) Policy() Policy {
	return l.policy
}

// storeErr maps repository errors onto the public taxonomy.
func storeErr(op string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.ErrSessionNotFound
	}
	return apperr.Internal(op, err)
}

// loadSession reads the record and re-derives next_verification from the
// last verification so a changed interval applies to existing sessions.
func (l *Lifecycle) loadSession(ctx context.Context, id uuid.UUID) (model.ChatSession, error) {
	s, err := l.store.Chats.GetSessionByID(ctx, id)
	if err != nil {
		return model.ChatSession{}, storeErr("load chat", err)
	}
	s.NextVerificationAt = s.DueAt(l.policy.LivenessInterval)
	return s, nil
}

// withSession runs fn on a freshly loaded record while holding the session lock.
func (l *Lifecycle) withSession(ctx context.Context, id uuid.UUID, fn func(model.ChatSession) error) error {
	release, err := l.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	s, err := l.loadSession(ctx, id)
	if err != nil {
		return err
	}
	return fn(s)
}

// withParticipant is withSession plus a participant check.
func (l *Lifecycle) withParticipant(ctx context.Context, id, userID uuid.UUID, fn func(model.ChatSession) error) error {
	return l.withSession(ctx, id, func(s model.ChatSession) error {
		if !s.IsParticipant(userID) {
			return apperr.ErrNotParticipant
		}
		return fn(s)
	})
}

func (l *Lifecycle) broadcast(ctx context.Context, s model.ChatSession, eventType realtime.EventType, data any) {
	if err := l.router.Broadcast(ctx, s, eventType, data, nil); err != nil {
		l.logger.Error("broadcast failed", "chat_id", s.ID, "event", eventType, "error", err)
	}
}

// Session returns the session if userID participates in it.
func (l *Lifecycle) Session(ctx context.Context, sessionID, userID uuid.UUID) (model.ChatSession, error) {
	s, err := l.loadSession(ctx, sessionID)
	if err != nil {
		return model.ChatSession{}, err
	}
	if !s.IsParticipant(userID) {
		return model.ChatSession{}, apperr.ErrNotParticipant
	}
	return s, nil
}

// Verify checks code against the peer's code and, on a match, restarts the
// liveness timer and broadcasts chat_verified. A mismatch changes nothing.
func (l *Lifecycle) Verify(ctx context.Context, sessionID, userID uuid.UUID, code string) (model.ChatSession, error) {
	if !model.ValidCodeLength(code) {
		return model.ChatSession{}, apperr.ErrCodeLength
	}

	var out model.ChatSession
	err := observability.WithSpan(ctx, l.tracer, "chat.verify", func(ctx context.Context, _ trace.Span) error {
		return l.withSession(ctx, sessionID, func(s model.ChatSession) error {
			expected, ok := s.PeerCode(userID)
			if !ok {
				return apperr.ErrNotParticipant
			}
			if subtle.ConstantTimeCompare([]byte(code), []byte(expected)) != 1 {
				l.logger.Info("verification rejected", "chat_id", s.ID, "user_id", userID)
				return apperr.ErrInvalidCode
			}

			now := l.now()
			next := now.Add(l.policy.LivenessInterval)
			if err := l.store.Chats.UpdateSessionVerification(ctx, s.ID, now, next); err != nil {
				return storeErr("record verification", err)
			}
			s.LastVerifiedAt = now
			s.NextVerificationAt = next
			s.VerificationPending = false
			s.VerificationDeadline = nil

			l.metrics.RecordTransition(string(TransitionVerified))
			l.logger.Info("chat verified", "chat_id", s.ID, "verified_by", userID, "next_verification", next)
			l.broadcast(ctx, s, realtime.EventChatVerified, ChatVerifiedEvent{ChatID: s.ID, VerifiedBy: userID})
			out = s
			return nil
		})
	}, trace.WithAttributes(attribute.String("chat_id", sessionID.String())))
	return out, err
}

// Advance applies the time-driven transition due for a session, if any:
// ACTIVE past its due time becomes VERIFICATION_PENDING, and a pending
// session past its deadline is destroyed. A session that vanished is not an
// error.
func (l *Lifecycle) Advance(ctx context.Context, sessionID uuid.UUID) (Transition, error) {
	t := TransitionNone
	err := l.withSession(ctx, sessionID, func(s model.ChatSession) error {
		now := l.now()
		switch {
		case s.VerificationPending:
			if now.Before(s.DestroyAt(l.policy.LivenessInterval, l.policy.GraceWindow)) {
				return nil
			}
			if err := l.destroy(ctx, s, realtime.EventChatDestroyed, ReasonVerificationTimeout); err != nil {
				return err
			}
			t = TransitionDestroyed

		case !now.Before(s.DueAt(l.policy.LivenessInterval)):
			deadline := now.Add(l.policy.GraceWindow)
			if err := l.store.Chats.SetVerificationPending(ctx, s.ID, deadline); err != nil {
				return storeErr("mark verification pending", err)
			}
			l.metrics.RecordTransition(string(TransitionPending))
			l.logger.Info("verification required", "chat_id", s.ID, "deadline", deadline)
			l.broadcast(ctx, s, realtime.EventVerificationRequired, VerificationRequiredEvent{ChatID: s.ID, Deadline: deadline.UTC()})
			t = TransitionPending
		}
		return nil
	})
	if errors.Is(err, apperr.ErrSessionNotFound) {
		return TransitionNone, nil
	}
	return t, err
}

// destroy deletes the record of s in one statement; its messages go with it
// (ON DELETE CASCADE in Postgres, the same delete in the memory store). Both
// participants are then notified from the already loaded record. Callers
// hold the session lock.
func (l *Lifecycle) destroy(ctx context.Context, s model.ChatSession, eventType realtime.EventType, reason string) error {
	if err := l.store.Chats.DeleteSession(ctx, s.ID); err != nil {
		return storeErr("delete chat", err)
	}

	var data any = ChatDestroyedEvent{ChatID: s.ID, Reason: reason}
	transition := TransitionDestroyed
	if eventType == realtime.EventChatDeleted {
		data = ChatDeletedEvent{ChatID: s.ID}
		transition = TransitionDeleted
	}
	l.metrics.RecordTransition(string(transition))
	l.logger.Info("chat destroyed", "chat_id", s.ID, "reason", reason)
	l.broadcast(ctx, s, eventType, data)
	return nil
}
