package chat

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/observability"
	"github.com/synerchat/server/internal/realtime"
)

// ConsentTracker implements the two-party protocol for destructive actions.
type ConsentTracker struct {
	lc *Lifecycle
}

// NewConsentTracker creates a tracker sharing the session locks of lc.
func NewConsentTracker(lc *Lifecycle) *ConsentTracker {
	return &ConsentTracker{lc: lc}
}

// RequestDeletion records that userID wants the session gone. Once both
// participants agree the session is destroyed in the same call and deleted
// is true; otherwise both participants receive delete_requested.
func (c *ConsentTracker) RequestDeletion(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	var deleted bool
	err := observability.WithSpan(ctx, c.lc.tracer, "chat.request_deletion", func(ctx context.Context, _ trace.Span) error {
		return c.lc.withParticipant(ctx, sessionID, userID, func(s model.ChatSession) error {
			updated, err := c.lc.store.Chats.SetWantsDelete(ctx, s.ID, userID)
			if err != nil {
				return storeErr("record delete consent", err)
			}

			if updated.BothWantDelete() {
				if err := c.lc.destroy(ctx, updated, realtime.EventChatDeleted, ReasonMutualConsent); err != nil {
					return err
				}
				deleted = true
				return nil
			}

			c.lc.logger.Info("deletion requested", "chat_id", s.ID, "requester_id", userID)
			c.lc.broadcast(ctx, updated, realtime.EventDeleteRequested, DeleteRequestedEvent{ChatID: s.ID, RequesterID: userID})
			return nil
		})
	}, trace.WithAttributes(attribute.String("chat_id", sessionID.String())))
	return deleted, err
}

// ClearMessages deletes every message of the session. The session record
// and its timers are untouched.
func (c *ConsentTracker) ClearMessages(ctx context.Context, sessionID, userID uuid.UUID) error {
	return observability.WithSpan(ctx, c.lc.tracer, "chat.clear_messages", func(ctx context.Context, _ trace.Span) error {
		return c.lc.withParticipant(ctx, sessionID, userID, func(s model.ChatSession) error {
			removed, err := c.lc.store.Messages.DeleteMessagesForSession(ctx, s.ID)
			if err != nil {
				return storeErr("clear messages", err)
			}
			c.lc.logger.Info("chat cleared", "chat_id", s.ID, "by", userID, "messages_removed", removed)
			c.lc.broadcast(ctx, s, realtime.EventChatCleared, ChatClearedEvent{ChatID: s.ID})
			return nil
		})
	}, trace.WithAttributes(attribute.String("chat_id", sessionID.String())))
}
