// Package room provides the channel through which server-side events
// reach the members of one live session.
package room

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultCountTimeout bounds member-count queries when no timeout is
// configured.
const DefaultCountTimeout = 2 * time.Second

// Namespace is the transport contract a channel needs. Membership is
// owned entirely by the namespace; it may be an in-process registry or
// span processes, the channel never assumes a representation.
type Namespace interface {
	EmitTo(ctx context.Context, roomKey, identity, event string, payload interface{}) error
	EmitToRoom(ctx context.Context, roomKey, event string, payload interface{}) error
	EmitToRoomExcept(ctx context.Context, roomKey, sender, event string, payload interface{}) error
	CountMembers(ctx context.Context, roomKey string) (int, error)
}

// Channel addresses one (namespace, roomKey) pair. It is a stateless
// value: any number of channels for the same room can exist
// concurrently, and none of them caches membership. Deliveries are
// fire-and-forget; presence counts are best-effort display data, never
// admission control.
type Channel struct {
	ns           Namespace
	key          string
	countTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithCountTimeout overrides the member-count timeout.
func WithCountTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.countTimeout = d
		}
	}
}

// WithLogger sets the logger used for dropped-delivery traces.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChannel builds a channel for one room.
func NewChannel(ns Namespace, roomKey string, opts ...Option) Channel {
	c := Channel{
		ns:           ns,
		key:          roomKey,
		countTimeout: DefaultCountTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.logger = c.logger.With("component", "room", "room", roomKey)
	return c
}

// Key returns the room key this channel addresses.
func (c Channel) Key() string { return c.key }

// Unicast delivers an event to one member. A target that is no longer
// in the room is a no-op: membership can legitimately change between
// the caller's decision to send and delivery, so that is never an
// error.
func (c Channel) Unicast(ctx context.Context, identity, event string, payload interface{}) {
	err := c.ns.EmitTo(ctx, c.key, identity, event, payload)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotMember):
		c.logger.Debug("unicast skipped, target left room", "identity", identity, "event", event)
	default:
		c.logger.Warn("unicast dropped", "identity", identity, "event", event, "error", err)
	}
}

// Broadcast delivers an event to every current member of the room.
func (c Channel) Broadcast(ctx context.Context, event string, payload interface{}) {
	if err := c.ns.EmitToRoom(ctx, c.key, event, payload); err != nil {
		c.logger.Warn("broadcast dropped", "event", event, "error", err)
	}
}

// BroadcastExcluding delivers an event to every member except the
// sender, for notifications the sender already knows about.
func (c Channel) BroadcastExcluding(ctx context.Context, sender, event string, payload interface{}) {
	if err := c.ns.EmitToRoomExcept(ctx, c.key, sender, event, payload); err != nil {
		c.logger.Warn("broadcast dropped", "event", event, "sender", sender, "error", err)
	}
}

// MemberCount returns the number of distinct connected identities in
// the room. It runs as an independently cancelable query with its own
// timeout, and both timeout and transport failure degrade to 0: the
// count is a point-in-time snapshot for display, not a correctness
// guarantee.
func (c Channel) MemberCount(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, c.countTimeout)
	defer cancel()

	type result struct {
		n   int
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		n, err := c.ns.CountMembers(ctx, c.key)
		resultCh <- result{n, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			c.logger.Debug("member count unavailable", "error", res.err)
			return 0
		}
		return res.n
	case <-ctx.Done():
		c.logger.Debug("member count timed out")
		return 0
	}
}

// PeerCount returns the member count excluding the calling connection
// itself, matching "other participants" display semantics.
func (c Channel) PeerCount(ctx context.Context, self string) int {
	n := c.MemberCount(ctx)
	if self != "" && n > 0 {
		n--
	}
	return n
}
