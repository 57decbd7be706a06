package websocket

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"habitat/pkg/types"
)

// Inbound receives decoded client frames and disconnect notices. The hub
// implements it.
type Inbound interface {
	SendMessage(message *types.Message, connID string) error
	UnregisterConnection(connID string) error
}

// HandlerOptions configures the upgrade and heartbeat.
type HandlerOptions struct {
	AllowedOrigins []string // empty allows every origin
	ReadLimit      int64
	PingInterval   time.Duration
	PongWait       time.Duration
}

func DefaultHandlerOptions() HandlerOptions {
	return HandlerOptions{
		ReadLimit:    64 * 1024,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// Handler upgrades HTTP requests and pumps frames from each socket into the
// hub.
type Handler struct {
	registry *Registry
	inbound  Inbound
	opts     HandlerOptions
	upgrader websocket.Upgrader
	now      func() time.Time
	logger   zerolog.Logger
}

func NewHandler(registry *Registry, inbound Inbound, opts HandlerOptions, logger zerolog.Logger) *Handler {
	h := &Handler{
		registry: registry,
		inbound:  inbound,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With().Str("component", "websocket").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, r.Header.Get("Origin"))
}

// HandleWebSocket upgrades the request and registers the connection under a
// fresh id. The player joins a session later with create_session or
// join_session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	wsConn := NewConnection(conn, uuid.NewString())
	if err := h.registry.Register(wsConn); err != nil {
		h.logger.Error().Err(err).Msg("register connection")
		_ = wsConn.Close()
		return
	}
	h.logger.Debug().Str("conn", wsConn.GetConnID()).Str("remote", r.RemoteAddr).Msg("connection opened")

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump and heartbeat for one socket.
func (h *Handler) handleConnection(conn *Connection) {
	connID := conn.GetConnID()
	defer func() {
		if err := h.inbound.UnregisterConnection(connID); err != nil {
			h.registry.Unregister(conn)
		}
		_ = conn.Close()
		h.logger.Debug().Str("conn", connID).Msg("connection closed")
	}()

	if h.opts.ReadLimit > 0 {
		conn.conn.SetReadLimit(h.opts.ReadLimit)
	}
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	go h.ping(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("conn", connID).Msg("read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			h.reply(conn, "", types.ErrInvalidPayload)
			continue
		}
		if err := h.inbound.SendMessage(&msg, connID); err != nil {
			h.logger.Warn().Err(err).Str("conn", connID).Str("type", msg.Type).Msg("message not queued")
			h.reply(conn, msg.Type, err)
		}
	}
}

func (h *Handler) ping(conn *Connection) {
	if h.opts.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) reply(conn *Connection, inboundType string, err error) {
	payload := types.ErrorPayload{Reason: types.ReasonOf(err), Message: err.Error(), For: inboundType}
	if werr := conn.WriteJSON(types.NewOutbound(types.EventError, payload, h.now())); werr != nil {
		h.logger.Debug().Err(werr).Str("conn", conn.GetConnID()).Msg("error reply failed")
	}
}
