package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classhub/internal/room"
	"classhub/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the deployment's edge proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// HandlerOptions carries the timing knobs for websocket connections.
type HandlerOptions struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PresenceTimeout time.Duration
}

// DefaultHandlerOptions mirror the config defaults.
func DefaultHandlerOptions() HandlerOptions {
	return HandlerOptions{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		PresenceTimeout: room.DefaultCountTimeout,
	}
}

// Handler upgrades HTTP requests to websocket connections and runs
// their lifecycle: register, join, notify the room, heartbeat, and
// clean up on disconnect.
type Handler struct {
	registry *Registry
	opts     HandlerOptions
	logger   *slog.Logger
}

// NewHandler creates a websocket handler bound to a registry.
func NewHandler(registry *Registry, opts HandlerOptions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PingInterval <= 0 {
		opts = DefaultHandlerOptions()
	}
	return &Handler{
		registry: registry,
		opts:     opts,
		logger:   logger.With("component", "ws"),
	}
}

// ServeHTTP handles GET /ws?room={roomKey}&identity={optional}.
//
// Validation runs before the upgrade so rejected requests get plain
// HTTP errors. An absent identity gets a fresh opaque one; clients
// that reconnect with the same identity replace their old connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomKey := r.URL.Query().Get("room")
	if !types.IsValidRoomKey(roomKey) {
		http.Error(w, "invalid or missing room parameter", http.StatusBadRequest)
		return
	}

	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = uuid.NewString()
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "room", roomKey, "error", err)
		return
	}

	conn := NewConn(ws, identity, h.opts.WriteTimeout)

	if err := h.registry.Register(conn); err != nil {
		h.logger.Warn("connection rejected", "identity", identity, "error", err)
		_ = conn.Close()
		return
	}
	if err := h.registry.Join(identity, roomKey); err != nil {
		h.logger.Warn("room join failed", "identity", identity, "room", roomKey, "error", err)
		h.registry.Unregister(conn)
		_ = conn.Close()
		return
	}

	h.logger.Info("participant connected", "identity", identity, "room", roomKey)

	ch := room.NewChannel(h.registry, roomKey,
		room.WithCountTimeout(h.opts.PresenceTimeout),
		room.WithLogger(h.logger))

	ctx := r.Context()
	ch.BroadcastExcluding(ctx, identity, types.EventParticipantJoined,
		map[string]string{"identity": identity})
	ch.Unicast(ctx, identity, types.EventPresence,
		map[string]int{"peers": ch.PeerCount(ctx, identity)})

	go h.runConnection(conn, ch)
}

// runConnection owns the read side of one connection until it drops.
func (h *Handler) runConnection(conn *Conn, ch room.Channel) {
	identity := conn.Identity()
	defer func() {
		h.registry.Leave(identity, ch.Key())
		h.registry.Unregister(conn)
		_ = conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
		defer cancel()
		ch.Broadcast(ctx, types.EventParticipantLeft,
			map[string]string{"identity": identity})

		h.logger.Info("participant disconnected", "identity", identity, "room", ch.Key())
	}()

	if err := conn.ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.opts.WriteTimeout)
				if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read loop ended", "identity", identity, "error", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			h.logger.Debug("client message ignored", "identity", identity, "bytes", len(data))
		}
	}
}
