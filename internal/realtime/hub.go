package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"panel-service/internal/auth"
)

// PresenceTracker is notified when an authenticated user gains or loses a
// connection. Implementations must tolerate repeated calls.
type PresenceTracker interface {
	Connected(ctx context.Context, userID string) error
	Disconnected(ctx context.Context, userID string) error
}

type clientCommand struct {
	client *Client
	frame  *CommandFrame
}

// Hub owns the connection lifecycle: it registers transport clients with the
// registry, dispatches client command frames and runs disconnect cleanup. A
// single run loop consumes all three channels.
type Hub struct {
	registry      *Registry
	broadcaster   *Broadcaster
	authenticator auth.Authenticator
	presence      PresenceTracker // optional
	metrics       *Metrics

	register   chan *Client
	unregister chan *Client
	commands   chan *clientCommand

	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

func NewHub(registry *Registry, broadcaster *Broadcaster, authenticator auth.Authenticator, presence PresenceTracker, metrics *Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:      registry,
		broadcaster:   broadcaster,
		authenticator: authenticator,
		presence:      presence,
		metrics:       metrics,
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		commands:      make(chan *clientCommand, 64),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Broadcaster() *Broadcaster {
	return h.broadcaster
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case cmd := <-h.commands:
			h.handleCommand(cmd.client, cmd.frame)

		case <-h.ctx.Done():
			h.logger.Info("realtime hub shutting down")
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) registerClient(c *Client) {
	h.registry.RegisterConnection(c.id, c)
	h.metrics.ConnectionOpened()

	// Transport-level handshake: a credential validated during the upgrade
	// pre-populates authenticated state. Its absence is not an error.
	if c.handshakeIdentity != nil {
		h.markAuthenticated(c, c.handshakeIdentity)
	}

	h.logger.Info("client registered", "connID", c.id)
}

func (h *Hub) unregisterClient(c *Client) {
	userID, _, wasAuthenticated := h.connIdentity(c)

	// Cleanup runs before the transport releases the id, so no later
	// operation can reference a connection that is mid-teardown.
	h.registry.RemoveConnection(c.id)
	h.metrics.ConnectionClosed()
	c.close()

	if wasAuthenticated && h.presence != nil && len(h.registry.UserConnections(userID)) == 0 {
		if err := h.presence.Disconnected(h.ctx, userID); err != nil {
			h.logger.Error("failed to mark user offline", "userID", userID, "error", err)
		}
	}

	h.logger.Info("client unregistered", "connID", c.id)
}

func (h *Hub) connIdentity(c *Client) (userID, username string, ok bool) {
	conn, found := h.registry.Connection(c.id)
	if !found {
		return "", "", false
	}
	return conn.Identity()
}

func (h *Hub) handleCommand(c *Client, frame *CommandFrame) {
	h.registry.Touch(c.id)
	h.metrics.CommandHandled()

	switch frame.Destination {
	case CommandAuthenticate:
		h.handleAuthenticate(c, frame.Payload)
	case CommandSubscribeGuild:
		var payload SubscribeGuildPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.GuildID == "" {
			h.logger.Debug("invalid subscribe/guild payload", "connID", c.id, "error", err)
			return
		}
		h.subscribe(c, GuildTopic(payload.GuildID))
	case CommandSubscribeChannel:
		var payload SubscribeChannelPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.ChannelID == "" {
			h.logger.Debug("invalid subscribe/channel payload", "connID", c.id, "error", err)
			return
		}
		h.subscribe(c, ChannelTopic(payload.ChannelID))
	case CommandSubscribeDM:
		var payload SubscribeDMPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.UserID == "" {
			h.logger.Debug("invalid subscribe/dm payload", "connID", c.id, "error", err)
			return
		}
		h.subscribe(c, DMPeerTopic(payload.UserID))
	case CommandPing:
		c.Push(&PushFrame{Destination: DestinationPong, Event: NewPongEvent()})
	case CommandLogout:
		h.handleLogout(c)
	default:
		h.logger.Debug("unknown command destination", "connID", c.id, "destination", frame.Destination)
	}
}

// handleAuthenticate is the in-band authentication path. Unlike the silent
// transport-level handshake it always answers on the auth reply destination,
// so the client can retry or surface the failure.
func (h *Hub) handleAuthenticate(c *Client, raw json.RawMessage) {
	var payload AuthenticatePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Token == "" {
		h.pushAuthError(c, "missing token")
		return
	}

	identity, err := h.authenticator.Validate(payload.Token)
	if err != nil {
		h.metrics.AuthFailure()
		h.logger.Info("in-band authentication failed", "connID", c.id, "error", err)
		h.pushAuthError(c, "invalid or expired token")
		return
	}

	h.markAuthenticated(c, identity)
	c.Push(&PushFrame{
		Destination: DestinationAuth,
		Event: NewEvent(EventAuthSuccess, AuthResultData{
			UserID:   identity.UserID,
			Username: identity.Username,
		}),
	})
}

func (h *Hub) pushAuthError(c *Client, reason string) {
	c.Push(&PushFrame{
		Destination: DestinationAuth,
		Event:       NewEvent(EventAuthError, AuthResultData{Error: reason}),
	})
}

func (h *Hub) markAuthenticated(c *Client, identity *auth.Identity) {
	prevUserID, _, wasAuthenticated := h.connIdentity(c)

	h.registry.MarkAuthenticated(c.id, identity.UserID, identity.Username)
	h.logger.Info("client authenticated", "connID", c.id, "userID", identity.UserID, "username", identity.Username)

	// Re-authenticating as a different principal is last-write-wins; if this
	// was the old principal's only connection they just went offline.
	if wasAuthenticated && prevUserID != identity.UserID && h.presence != nil &&
		len(h.registry.UserConnections(prevUserID)) == 0 {
		if err := h.presence.Disconnected(h.ctx, prevUserID); err != nil {
			h.logger.Error("failed to mark user offline", "userID", prevUserID, "error", err)
		}
	}

	if h.presence != nil {
		if err := h.presence.Connected(h.ctx, identity.UserID); err != nil {
			h.logger.Error("failed to mark user online", "userID", identity.UserID, "error", err)
		}
	}
}

func (h *Hub) subscribe(c *Client, topic Topic) {
	if err := h.registry.Subscribe(topic, c.id); err != nil {
		h.logger.Debug("subscribe failed", "connID", c.id, "topic", topic, "error", err)
		return
	}
	h.logger.Debug("client subscribed", "connID", c.id, "topic", topic)
	c.Push(&PushFrame{
		Destination: DestinationNotifications,
		Event:       NewEvent(EventSubscriptionAck, SubscriptionAckData{Topic: topic.String()}),
	})
}

func (h *Hub) handleLogout(c *Client) {
	userID, _, wasAuthenticated := h.connIdentity(c)
	h.registry.Logout(c.id)

	if wasAuthenticated && h.presence != nil && len(h.registry.UserConnections(userID)) == 0 {
		if err := h.presence.Disconnected(h.ctx, userID); err != nil {
			h.logger.Error("failed to mark user offline", "userID", userID, "error", err)
		}
	}

	c.Push(&PushFrame{
		Destination: DestinationAuth,
		Event:       NewEvent(EventLogoutSuccess, LogoutSuccessData{}),
	})
	h.logger.Info("client logged out", "connID", c.id)
}
