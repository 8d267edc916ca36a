package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/synerchat/server/internal/apperr"
	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/realtime"
	"github.com/synerchat/server/internal/repo"
)

// DefaultMessageLimit caps message history reads.
const DefaultMessageLimit = 100

// ActiveChat is a session as listed for one participant.
type ActiveChat struct {
	model.ChatSession
	State     model.SessionState `json:"state"`
	OtherUser model.User         `json:"other_user"`
}

// PendingRequest is a request awaiting an answer, with its requester.
type PendingRequest struct {
	model.ChatRequest
	FromUser model.User `json:"from_user"`
}

// Service implements the request flow, message relay and read operations.
// Session transitions go through the shared Lifecycle.
type Service struct {
	lc           *Lifecycle
	requestLocks *keyedLocker
	pairLocks    *keyedLocker
	notifier     Notifier
}

// NewService creates a Service. A nil notifier logs only.
func NewService(lc *Lifecycle, notifier Notifier) *Service {
	if notifier == nil {
		notifier = LogNotifier{Logger: lc.logger}
	}
	return &Service{
		lc:           lc,
		requestLocks: newKeyedLocker(),
		pairLocks:    newKeyedLocker(),
		notifier:     notifier,
	}
}

func validCode(code string) error {
	if !model.ValidCodeLength(code) {
		return apperr.ErrCodeLength
	}
	return nil
}

func (s *Service) user(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := s.lc.store.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, apperr.ErrUserNotFound
		}
		return model.User{}, apperr.Internal("load user", err)
	}
	return u, nil
}

// SearchUsers finds other users by email or username.
func (s *Service) SearchUsers(ctx context.Context, userID uuid.UUID, query string) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.InvalidArg("query is required")
	}
	users, err := s.lc.store.Users.Search(ctx, query, userID, 10)
	if err != nil {
		return nil, apperr.Internal("search users", err)
	}
	return users, nil
}

// CreateRequest proposes a chat to toUserID, carrying the requester's code,
// and notifies the recipient with chat_request.
func (s *Service) CreateRequest(ctx context.Context, fromUserID, toUserID uuid.UUID, code string) (model.ChatRequest, error) {
	if err := validCode(code); err != nil {
		return model.ChatRequest{}, err
	}
	if fromUserID == toUserID {
		return model.ChatRequest{}, apperr.ErrSelfRequest
	}

	// Requests and accepts between the same two users, in either direction,
	// are serialized so at most one pending request or session exists.
	release, err := s.pairLocks.Acquire(ctx, pairKey(fromUserID, toUserID))
	if err != nil {
		return model.ChatRequest{}, err
	}
	defer release()

	sender, err := s.user(ctx, fromUserID)
	if err != nil {
		return model.ChatRequest{}, err
	}
	if _, err := s.user(ctx, toUserID); err != nil {
		return model.ChatRequest{}, err
	}

	_, err = s.lc.store.Chats.FindSessionBetween(ctx, fromUserID, toUserID)
	switch {
	case err == nil:
		return model.ChatRequest{}, apperr.ErrActiveChatExists
	case !errors.Is(err, repo.ErrNotFound):
		return model.ChatRequest{}, apperr.Internal("check active chat", err)
	}

	pending, err := s.lc.store.Requests.HasPendingBetween(ctx, fromUserID, toUserID)
	if err != nil {
		return model.ChatRequest{}, apperr.Internal("check pending request", err)
	}
	if pending {
		return model.ChatRequest{}, apperr.ErrPendingRequestExists
	}

	req, err := s.lc.store.Requests.Create(ctx, fromUserID, toUserID, code, s.lc.now().Add(s.lc.policy.RequestTTL))
	if err != nil {
		return model.ChatRequest{}, apperr.Internal("create chat request", err)
	}

	s.lc.logger.Info("chat request created", "request_id", req.ID, "from", fromUserID, "to", toUserID)
	if _, err := s.lc.router.NotifyUser(ctx, toUserID, realtime.EventChatRequest, ChatRequestEvent{
		RequestID:        req.ID,
		FromUser:         sender,
		VerificationCode: code,
	}); err != nil {
		s.lc.logger.Error("notify chat request", "request_id", req.ID, "error", err)
	}
	return req, nil
}

// expire moves a lapsed request to expired. Losing the race to another
// resolution is fine.
func (s *Service) expire(ctx context.Context, req model.ChatRequest) {
	err := s.lc.store.Requests.UpdateStatus(ctx, req.ID, model.RequestPending, model.RequestExpired)
	if err != nil && !errors.Is(err, repo.ErrStatusConflict) {
		s.lc.logger.Warn("expire chat request", "request_id", req.ID, "error", err)
	}
}

// PendingRequests lists the requests userID can still answer, each with its
// requester. Lapsed requests are expired on the way.
func (s *Service) PendingRequests(ctx context.Context, userID uuid.UUID) ([]PendingRequest, error) {
	reqs, err := s.lc.store.Requests.ListPendingForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("list chat requests", err)
	}
	now := s.lc.now()
	out := make([]PendingRequest, 0, len(reqs))
	for _, req := range reqs {
		if req.Lapsed(now) {
			s.expire(ctx, req)
			continue
		}
		from, err := s.user(ctx, req.FromUserID)
		if err != nil {
			s.lc.logger.Warn("load requester", "request_id", req.ID, "user_id", req.FromUserID, "error", err)
			from = model.User{ID: req.FromUserID}
		}
		out = append(out, PendingRequest{ChatRequest: req, FromUser: from})
	}
	return out, nil
}

// loadAnswerable loads a request the caller may resolve. It must run under
// the request lock.
func (s *Service) loadAnswerable(ctx context.Context, requestID, userID uuid.UUID) (model.ChatRequest, error) {
	req, err := s.lc.store.Requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.ChatRequest{}, apperr.ErrRequestNotFound
		}
		return model.ChatRequest{}, apperr.Internal("load chat request", err)
	}
	if req.ToUserID != userID {
		return model.ChatRequest{}, apperr.ErrNotRecipient
	}
	if req.Status.Terminal() {
		return model.ChatRequest{}, apperr.ErrRequestResolved
	}
	if req.Lapsed(s.lc.now()) {
		s.expire(ctx, req)
		return model.ChatRequest{}, apperr.ErrRequestExpired
	}
	return req, nil
}

func (s *Service) resolve(ctx context.Context, req model.ChatRequest, to model.RequestStatus) error {
	err := s.lc.store.Requests.UpdateStatus(ctx, req.ID, model.RequestPending, to)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrStatusConflict):
		return apperr.ErrRequestResolved
	case errors.Is(err, repo.ErrNotFound):
		return apperr.ErrRequestNotFound
	default:
		return apperr.Internal("update chat request", err)
	}
}

// AcceptRequest lets the recipient accept with their own code. The new
// session stores the requester's code for user1 and the acceptor's code for
// user2; both participants receive chat_accepted.
func (s *Service) AcceptRequest(ctx context.Context, requestID, userID uuid.UUID, code string) (model.ChatSession, error) {
	if err := validCode(code); err != nil {
		return model.ChatSession{}, err
	}

	release, err := s.requestLocks.Acquire(ctx, requestID)
	if err != nil {
		return model.ChatSession{}, err
	}
	defer release()

	req, err := s.loadAnswerable(ctx, requestID, userID)
	if err != nil {
		return model.ChatSession{}, err
	}

	releasePair, err := s.pairLocks.Acquire(ctx, pairKey(req.FromUserID, req.ToUserID))
	if err != nil {
		return model.ChatSession{}, err
	}
	defer releasePair()

	_, err = s.lc.store.Chats.FindSessionBetween(ctx, req.FromUserID, req.ToUserID)
	switch {
	case err == nil:
		return model.ChatSession{}, apperr.ErrActiveChatExists
	case !errors.Is(err, repo.ErrNotFound):
		return model.ChatSession{}, apperr.Internal("check active chat", err)
	}

	if err := s.resolve(ctx, req, model.RequestAccepted); err != nil {
		return model.ChatSession{}, err
	}

	now := s.lc.now()
	session, err := s.lc.store.Chats.CreateSession(ctx, model.ChatSession{
		User1ID:            req.FromUserID,
		User2ID:            req.ToUserID,
		User1Code:          req.VerificationCode,
		User2Code:          code,
		LastVerifiedAt:     now,
		NextVerificationAt: now.Add(s.lc.policy.LivenessInterval),
	})
	if err != nil {
		if rerr := s.lc.store.Requests.UpdateStatus(ctx, req.ID, model.RequestAccepted, model.RequestPending); rerr != nil {
			s.lc.logger.Error("revert accepted request", "request_id", req.ID, "error", rerr)
		}
		if errors.Is(err, repo.ErrDuplicate) {
			return model.ChatSession{}, apperr.ErrActiveChatExists
		}
		return model.ChatSession{}, apperr.Internal("create chat", err)
	}

	s.lc.logger.Info("chat request accepted", "request_id", req.ID, "chat_id", session.ID)
	s.lc.broadcast(ctx, session, realtime.EventChatAccepted, ChatAcceptedEvent{ChatID: session.ID, Chat: session})
	return session, nil
}

// RejectRequest lets the recipient decline a pending request.
func (s *Service) RejectRequest(ctx context.Context, requestID, userID uuid.UUID) error {
	release, err := s.requestLocks.Acquire(ctx, requestID)
	if err != nil {
		return err
	}
	defer release()

	req, err := s.loadAnswerable(ctx, requestID, userID)
	if err != nil {
		return err
	}
	if err := s.resolve(ctx, req, model.RequestRejected); err != nil {
		return err
	}
	s.lc.logger.Info("chat request rejected", "request_id", req.ID)
	return nil
}

// SendMessage stores an opaque message and relays it to both participants.
// A recipient with no live connection is handed to the Notifier.
func (s *Service) SendMessage(ctx context.Context, sessionID, senderID uuid.UUID, content, messageType string) (model.Message, error) {
	if content == "" {
		return model.Message{}, apperr.ErrEmptyContent
	}
	if messageType == "" {
		messageType = model.DefaultMessageType
	}
	sender, err := s.user(ctx, senderID)
	if err != nil {
		return model.Message{}, err
	}

	var msg model.Message
	err = s.lc.withParticipant(ctx, sessionID, senderID, func(sess model.ChatSession) error {
		stored, err := s.lc.store.Messages.CreateMessage(ctx, sess.ID, senderID, content, messageType)
		if err != nil {
			return storeErr("store message", err)
		}
		msg = stored
		s.lc.broadcast(ctx, sess, realtime.EventMessage, MessageEvent{Message: stored, Sender: sender})

		peer, _ := sess.PeerOf(senderID)
		if !s.lc.router.Registry().Online(peer) {
			if err := s.notifier.NotifyOffline(ctx, peer, sess.ID); err != nil {
				s.lc.logger.Warn("offline notification failed", "user_id", peer, "error", err)
			}
		}
		return nil
	})
	return msg, err
}

// Messages returns the latest messages of a session the caller participates in.
func (s *Service) Messages(ctx context.Context, sessionID, userID uuid.UUID, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > DefaultMessageLimit {
		limit = DefaultMessageLimit
	}
	if _, err := s.lc.Session(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.lc.store.Messages.ListMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	return msgs, nil
}

// ActiveChats lists the sessions of userID with the other participant.
func (s *Service) ActiveChats(ctx context.Context, userID uuid.UUID) ([]ActiveChat, error) {
	sessions, err := s.lc.store.Chats.ListSessionsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("list chats", err)
	}
	out := make([]ActiveChat, 0, len(sessions))
	for _, sess := range sessions {
		sess.NextVerificationAt = sess.DueAt(s.lc.policy.LivenessInterval)
		peerID, _ := sess.PeerOf(userID)
		peer, err := s.user(ctx, peerID)
		if err != nil {
			s.lc.logger.Warn("load chat peer", "chat_id", sess.ID, "user_id", peerID, "error", err)
			peer = model.User{ID: peerID}
		}
		out = append(out, ActiveChat{ChatSession: sess, State: sess.State(), OtherUser: peer})
	}
	return out, nil
}

// Verify proves knowledge of the peer's code. See Lifecycle.Verify.
func (s *Service) Verify(ctx context.Context, sessionID, userID uuid.UUID, code string) (model.ChatSession, error) {
	return s.lc.Verify(ctx, sessionID, userID, code)
}
