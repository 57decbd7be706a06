package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"habitat/internal/websocket"
	"habitat/pkg/types"
)

// Router is the command dispatcher the hub feeds.
type Router interface {
	RouteMessage(ctx context.Context, message *types.Message) error
	HandleDisconnect(ctx context.Context, connID, sessionID string)
	Cleanup() int
}

// Options sizes the hub queues.
type Options struct {
	MessageBuffer    int
	UnregisterBuffer int
	CleanupInterval  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MessageBuffer:    1000,
		UnregisterBuffer: 100,
		CleanupInterval:  time.Minute,
	}
}

// Hub serializes every inbound command and disconnect through one goroutine
// before handing it to the router.
type Hub struct {
	messageChannel    chan *MessageContext
	unregisterChannel chan string
	shutdownChannel   chan struct{}
	done              chan struct{}

	registry *websocket.Registry
	router   Router
	opts     Options
	now      func() time.Time
	logger   zerolog.Logger

	running bool
	mu      sync.RWMutex
}

// MessageContext is a queued command with its sender.
type MessageContext struct {
	Message   *types.Message
	SenderID  string
	SessionID string
	Timestamp time.Time
}

func NewHub(registry *websocket.Registry, router Router, opts Options, logger zerolog.Logger) *Hub {
	def := DefaultOptions()
	if opts.MessageBuffer <= 0 {
		opts.MessageBuffer = def.MessageBuffer
	}
	if opts.UnregisterBuffer <= 0 {
		opts.UnregisterBuffer = def.UnregisterBuffer
	}
	return &Hub{
		messageChannel:    make(chan *MessageContext, opts.MessageBuffer),
		unregisterChannel: make(chan string, opts.UnregisterBuffer),
		shutdownChannel:   make(chan struct{}),
		done:              make(chan struct{}),
		registry:          registry,
		router:            router,
		opts:              opts,
		now:               time.Now,
		logger:            logger.With().Str("component", "hub").Logger(),
	}
}

// Start launches the hub goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info().Msg("starting message hub")
	go h.run(ctx)
	return nil
}

// Stop signals the hub goroutine to exit and waits for it.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	<-h.done
	return nil
}

// Done is closed once the hub goroutine has exited.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// SendMessage queues a command from connID.
func (h *Hub) SendMessage(message *types.Message, connID string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	sender, exists := h.registry.Lookup(connID)
	if !exists {
		return ErrSenderNotConnected
	}

	messageCtx := &MessageContext{
		Message:   message,
		SenderID:  connID,
		SessionID: sender.GetSessionID(),
		Timestamp: h.now(),
	}

	select {
	case h.messageChannel <- messageCtx:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

// UnregisterConnection queues the cleanup of a closed connection. Cleanup
// runs after every command the connection queued before closing.
func (h *Hub) UnregisterConnection(connID string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.unregisterChannel <- connID:
		return nil
	default:
		return ErrUnregisterChannelFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer h.logger.Info().Msg("hub processing stopped")

	var cleanup <-chan time.Time
	if h.opts.CleanupInterval > 0 {
		ticker := time.NewTicker(h.opts.CleanupInterval)
		defer ticker.Stop()
		cleanup = ticker.C
	}

	for {
		select {
		case messageCtx := <-h.messageChannel:
			h.handleMessage(ctx, messageCtx)

		case connID := <-h.unregisterChannel:
			h.drainMessages(ctx)
			h.handleDeregistration(ctx, connID)

		case <-cleanup:
			if n := h.router.Cleanup(); n > 0 {
				h.logger.Debug().Int("removed", n).Msg("rate limiter cleanup")
			}

		case <-h.shutdownChannel:
			h.logger.Info().Msg("hub shutdown requested")
			return

		case <-ctx.Done():
			h.logger.Info().Msg("hub context cancelled")
			return
		}
	}
}

// drainMessages routes commands already queued so a disconnect is handled
// after them.
func (h *Hub) drainMessages(ctx context.Context) {
	for {
		select {
		case messageCtx := <-h.messageChannel:
			h.handleMessage(ctx, messageCtx)
		default:
			return
		}
	}
}

func (h *Hub) handleMessage(ctx context.Context, messageCtx *MessageContext) {
	messageCtx.Message.FromConn = messageCtx.SenderID
	messageCtx.Message.SessionID = messageCtx.SessionID

	if err := h.router.RouteMessage(ctx, messageCtx.Message); err != nil {
		h.sendErrorToSender(messageCtx.SenderID, messageCtx.Message.Type, err)
		return
	}
	h.logger.Trace().
		Str("type", messageCtx.Message.Type).
		Str("conn", messageCtx.SenderID).
		Str("session", messageCtx.Message.SessionID).
		Msg("message routed")
}

func (h *Hub) handleDeregistration(ctx context.Context, connID string) {
	conn, exists := h.registry.Lookup(connID)
	if !exists {
		h.logger.Debug().Str("conn", connID).Msg("connection already deregistered")
		h.router.HandleDisconnect(ctx, connID, "")
		return
	}
	h.router.HandleDisconnect(ctx, connID, conn.GetSessionID())
	h.registry.Unregister(conn)
	h.logger.Debug().Str("conn", connID).Msg("connection deregistered")
}

// sendErrorToSender replies to the originating connection only. The frame
// type follows the command family.
func (h *Hub) sendErrorToSender(connID, inboundType string, routingErr error) {
	sender, exists := h.registry.Lookup(connID)
	if !exists {
		return
	}

	payload := types.ErrorPayload{
		Reason:  types.ReasonOf(routingErr),
		Message: routingErr.Error(),
		For:     inboundType,
	}
	if err := sender.WriteJSON(types.NewOutbound(errorFrameType(inboundType), payload, h.now())); err != nil {
		h.logger.Debug().Err(err).Str("conn", connID).Msg("error reply failed")
	}
}

func errorFrameType(inboundType string) string {
	switch inboundType {
	case types.MessageTypePlaceArea, types.MessageTypeUpdateArea, types.MessageTypeRemoveArea,
		types.MessageTypeUndo, types.MessageTypeRedo:
		return types.EventPlaceError
	case types.MessageTypeCreateSession, types.MessageTypeJoinSession:
		return types.EventJoinError
	default:
		return types.EventError
	}
}
