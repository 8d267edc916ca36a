package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/synerchat/server/internal/apperr"
	"github.com/synerchat/server/internal/chat"
	"github.com/synerchat/server/internal/middleware"
	"github.com/synerchat/server/internal/realtime"
)

// inboundMessage is the payload of a client "message" frame.
type inboundMessage struct {
	ChatID           string `json:"chat_id"`
	EncryptedContent string `json:"encrypted_content"`
	MessageType      string `json:"message_type"`
}

// WSHandler upgrades authenticated clients to the realtime channel.
type WSHandler struct {
	svc    *chat.Service
	router *realtime.Router
	logger *slog.Logger
}

// NewWSHandler creates a new WSHandler
func NewWSHandler(svc *chat.Service, router *realtime.Router, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{svc: svc, router: router, logger: logger.With("component", "ws_handler")}
}

// ServeHTTP handles GET /ws. The connection is registered for the caller
// until it closes; inbound frames are dispatched in arrival order.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ws, err := realtime.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	conn := realtime.NewWSConn(ws, h.logger)
	registry := h.router.Registry()
	registry.Register(userID, conn)
	go conn.WritePump()

	// The request context ends with the hijacked connection's handler, so
	// frames are served on their own context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.logger.Info("client connected", "user_id", userID, "conn_id", conn.ID())
	err = conn.ReadPump(func(raw []byte) {
		h.handleFrame(ctx, userID, conn, raw)
	})
	registry.Unregister(userID, conn)
	if err != nil {
		h.logger.Debug("client read error", "user_id", userID, "conn_id", conn.ID(), "error", err)
	}
	h.logger.Info("client disconnected", "user_id", userID, "conn_id", conn.ID())
}

func (h *WSHandler) handleFrame(ctx context.Context, userID uuid.UUID, conn realtime.Conn, raw []byte) {
	frame, err := realtime.DecodeInbound(raw)
	if err != nil {
		h.replyError(ctx, conn, apperr.InvalidArg("invalid frame"))
		return
	}

	switch frame.Type {
	case realtime.EventMessage:
		msg, err := decodeInboundMessage(frame, raw)
		if err != nil {
			h.replyError(ctx, conn, err)
			return
		}
		chatID, err := uuid.Parse(msg.ChatID)
		if err != nil {
			h.replyError(ctx, conn, apperr.InvalidArg("chat_id must be a valid id"))
			return
		}
		if _, err := h.svc.SendMessage(ctx, chatID, userID, msg.EncryptedContent, msg.MessageType); err != nil {
			h.replyError(ctx, conn, err)
		}
	default:
		h.replyError(ctx, conn, apperr.InvalidArg("unsupported frame type: "+string(frame.Type)))
	}
}

// decodeInboundMessage reads the message from data, or from the top level
// of the frame for clients that send it flat.
func decodeInboundMessage(frame realtime.InboundFrame, raw []byte) (inboundMessage, error) {
	var msg inboundMessage
	src := []byte(frame.Data)
	if len(frame.Data) == 0 || string(frame.Data) == "null" {
		src = raw
	}
	if err := json.Unmarshal(src, &msg); err != nil {
		return inboundMessage{}, apperr.InvalidArg("invalid message payload")
	}
	return msg, nil
}

// replyError answers the offending connection only. The send is bounded by
// the registry's send timeout so a stalled client cannot hold up its reader.
func (h *WSHandler) replyError(ctx context.Context, conn realtime.Conn, err error) {
	if apperr.CodeOf(err) == apperr.CodeInternal {
		h.logger.Error("frame failed", "conn_id", conn.ID(), "error", err)
	}
	payload, encErr := h.router.Encode(realtime.EventError, chat.ErrorEvent{
		Message: apperr.PublicMessage(err),
		Code:    string(apperr.CodeOf(err)),
	})
	if encErr != nil {
		h.logger.Error("encode error event", "error", encErr)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, h.router.Registry().SendTimeout())
	defer cancel()
	if sendErr := conn.Send(sendCtx, payload); sendErr != nil {
		h.logger.Debug("error event not delivered", "conn_id", conn.ID(), "error", sendErr)
	}
}
