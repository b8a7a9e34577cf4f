// Package wsclient is the connection manager for the panel's realtime
// endpoint: it owns one logical connection, keeps it alive with heartbeats,
// reconnects with jittered backoff, refreshes the credential before expiry
// and re-issues subscriptions for the current UI context after a reconnect.
//
// All state lives on a single event loop goroutine; public methods post
// commands to it, so heartbeat, reconnect and refresh handling never run
// concurrently with each other.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"panel-service/internal/realtime"
)

// State of the logical connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateDegraded means the connection was lost and a reconnect attempt
	// is pending.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Status is emitted on every state transition. Terminal is set once the
// retry budget is exhausted; no further automatic attempt follows until
// Connect is called again.
type Status struct {
	State    State
	Attempt  int
	Err      error
	Terminal bool
}

var (
	ErrHeartbeatTimeout = errors.New("heartbeat timed out")
	ErrRefreshFailed    = errors.New("credential refresh failed")
	ErrClosed           = errors.New("manager closed")
)

// RefreshFunc exchanges the current credential for a fresh one over the
// refresh side channel (an ordinary HTTP call, not the realtime transport).
type RefreshFunc func(ctx context.Context, current string) (string, error)

type Config struct {
	// Endpoint is the ws:// or wss:// URL of the realtime endpoint.
	Endpoint string
	// Token is the initial credential, attached to the handshake as a query
	// parameter and presented again in-band after every reconnect.
	Token string
	// Refresh is optional; nil disables the credential refresh loop.
	Refresh RefreshFunc

	HeartbeatInterval time.Duration // default 30s
	HeartbeatTimeout  time.Duration // default 10s
	RefreshInterval   time.Duration // refresh check cycle, default 30s
	MinRefreshMargin  time.Duration // absolute refresh floor, default 30s

	Backoff Backoff
	Dialer  *websocket.Dialer
	Logger  *slog.Logger
}

func (c *Config) withDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.MinRefreshMargin == 0 {
		c.MinRefreshMargin = 30 * time.Second
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type Manager struct {
	cfg    Config
	logger *slog.Logger

	cmds   chan func()
	frames chan *realtime.PushFrame
	events chan *realtime.PushFrame
	status chan Status

	done      chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the run loop.
	state       State
	token       string
	conn        *websocket.Conn
	attempts    int
	lastPongAt  time.Time
	refreshing  bool
	pongTimer   *time.Timer
	reconnTimer *time.Timer

	// UI context: at most one guild+channel pair or one DM peer.
	guildID   string
	channelID string
	dmPeerID  string
	// Topics already requested on the current physical connection.
	// Subscriptions are additive: switching context subscribes to the new
	// topics but never retracts the old ones.
	subscribed map[realtime.Topic]bool
}

func NewManager(cfg Config) *Manager {
	cfg.withDefaults()
	m := &Manager{
		cfg:        cfg,
		logger:     cfg.Logger,
		cmds:       make(chan func(), 16),
		events:     make(chan *realtime.PushFrame, 64),
		status:     make(chan Status, 16),
		done:       make(chan struct{}),
		state:      StateDisconnected,
		token:      cfg.Token,
		subscribed: make(map[realtime.Topic]bool),
	}
	go m.run()
	return m
}

// Events yields every push frame received except heartbeat acknowledgements.
func (m *Manager) Events() <-chan *realtime.PushFrame {
	return m.events
}

// Status yields connection state transitions.
func (m *Manager) Status() <-chan Status {
	return m.status
}

// Connect opens the transport. Calling it while a reconnect attempt is
// pending cancels the timer and dials immediately; it also resets the
// attempt counter after a terminal reconnect failure.
func (m *Manager) Connect() error {
	return m.post(func() {
		if m.reconnTimer != nil {
			m.reconnTimer.Stop()
			m.reconnTimer = nil
		}
		m.attempts = 0
		if m.state == StateConnected {
			return
		}
		m.dial()
	})
}

// SetGuildContext switches the UI context to a guild and channel and
// subscribes to the corresponding topics.
func (m *Manager) SetGuildContext(guildID, channelID string) error {
	return m.post(func() {
		m.guildID, m.channelID, m.dmPeerID = guildID, channelID, ""
		m.subscribeContext()
	})
}

// SetDMContext switches the UI context to a direct-message peer.
func (m *Manager) SetDMContext(peerID string) error {
	return m.post(func() {
		m.guildID, m.channelID, m.dmPeerID = "", "", peerID
		m.subscribeContext()
	})
}

// Close tears the connection down and stops the event loop.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

func (m *Manager) post(fn func()) error {
	select {
	case m.cmds <- fn:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

func (m *Manager) run() {
	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	refresh := time.NewTicker(m.cfg.RefreshInterval)
	defer heartbeat.Stop()
	defer refresh.Stop()

	for {
		var pongC, reconnC <-chan time.Time
		if m.pongTimer != nil {
			pongC = m.pongTimer.C
		}
		if m.reconnTimer != nil {
			reconnC = m.reconnTimer.C
		}

		select {
		case fn := <-m.cmds:
			fn()

		case frame, ok := <-m.frames:
			if !ok {
				m.frames = nil
				m.connectionLost(errors.New("connection closed"))
				continue
			}
			m.handleFrame(frame)

		case <-heartbeat.C:
			m.onHeartbeat()

		case <-pongC:
			m.pongTimer = nil
			m.onHeartbeatTimeout()

		case <-reconnC:
			m.reconnTimer = nil
			m.dial()

		case <-refresh.C:
			m.onRefreshCheck()

		case <-m.done:
			m.teardown()
			m.setState(StateDisconnected, nil, false)
			return
		}
	}
}

func (m *Manager) dial() {
	m.setState(StateConnecting, nil, false)

	endpoint, err := m.endpointWithToken()
	if err != nil {
		m.scheduleReconnect(err)
		return
	}

	conn, resp, err := m.cfg.Dialer.Dial(endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.logger.Info("dial failed", "error", err)
		m.scheduleReconnect(err)
		return
	}

	m.conn = conn
	m.attempts = 0
	m.lastPongAt = time.Now()
	m.subscribed = make(map[realtime.Topic]bool)
	m.frames = make(chan *realtime.PushFrame, 64)
	go readFrames(conn, m.frames, m.logger)

	m.setState(StateConnected, nil, false)
	m.logger.Info("connected", "endpoint", m.cfg.Endpoint)

	// The handshake already carried the credential, but the in-band path
	// gets an explicit acknowledgement the silent handshake does not.
	m.sendCommand(realtime.CommandAuthenticate, realtime.AuthenticatePayload{Token: m.token})
	m.subscribeContext()
}

func (m *Manager) endpointWithToken() (string, error) {
	u, err := url.Parse(m.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", m.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// subscribeContext issues subscribe commands for every topic of the current
// UI context that has not been requested on this connection yet.
func (m *Manager) subscribeContext() {
	if m.state != StateConnected {
		return
	}
	if m.dmPeerID != "" {
		m.subscribeOnce(realtime.DMPeerTopic(m.dmPeerID), realtime.CommandSubscribeDM,
			realtime.SubscribeDMPayload{UserID: m.dmPeerID})
		return
	}
	if m.guildID != "" {
		m.subscribeOnce(realtime.GuildTopic(m.guildID), realtime.CommandSubscribeGuild,
			realtime.SubscribeGuildPayload{GuildID: m.guildID})
	}
	if m.channelID != "" {
		m.subscribeOnce(realtime.ChannelTopic(m.channelID), realtime.CommandSubscribeChannel,
			realtime.SubscribeChannelPayload{ChannelID: m.channelID})
	}
}

func (m *Manager) subscribeOnce(topic realtime.Topic, destination string, payload any) {
	if m.subscribed[topic] {
		return
	}
	m.subscribed[topic] = true
	m.sendCommand(destination, payload)
}

func (m *Manager) handleFrame(frame *realtime.PushFrame) {
	if frame.Event == nil {
		return
	}

	if frame.Destination == realtime.DestinationPong && frame.Event.Type == realtime.EventPong {
		// Acknowledgement cancels the pending heartbeat timeout.
		if m.pongTimer != nil {
			m.pongTimer.Stop()
			m.pongTimer = nil
		}
		m.lastPongAt = time.Now()
		return
	}

	select {
	case m.events <- frame:
	default:
		m.logger.Warn("event buffer full, dropping", "type", frame.Event.Type)
	}
}

func (m *Manager) onHeartbeat() {
	if m.state != StateConnected {
		return
	}
	m.sendCommand(realtime.CommandPing, struct{}{})
	if m.pongTimer == nil {
		m.pongTimer = time.NewTimer(m.cfg.HeartbeatTimeout)
	}
}

func (m *Manager) onHeartbeatTimeout() {
	if m.state != StateConnected {
		return
	}
	m.logger.Warn("heartbeat timed out, tearing connection down")
	m.connectionLost(ErrHeartbeatTimeout)
}

func (m *Manager) onRefreshCheck() {
	if m.state != StateConnected || m.cfg.Refresh == nil || m.refreshing {
		return
	}
	if !needsRefresh(m.token, time.Now(), m.cfg.MinRefreshMargin) {
		return
	}

	// One request per check cycle. The request itself is not cancellable;
	// a late response after a reconnect is accepted, the swap is idempotent.
	m.refreshing = true
	current := m.token
	go func() {
		token, err := m.cfg.Refresh(context.Background(), current)
		m.post(func() {
			m.refreshing = false
			if err != nil {
				m.logger.Error("credential refresh failed", "error", err)
				m.connectionLost(ErrRefreshFailed)
				return
			}
			// Swap in place without tearing the transport down; the server
			// treats re-authentication as last-write-wins.
			m.token = token
			if m.state == StateConnected {
				m.sendCommand(realtime.CommandAuthenticate, realtime.AuthenticatePayload{Token: token})
			}
			m.logger.Debug("credential refreshed")
		})
	}()
}

func (m *Manager) sendCommand(destination string, payload any) {
	if m.conn == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("failed to marshal command payload", "destination", destination, "error", err)
		return
	}
	frame := realtime.CommandFrame{Destination: destination, Payload: raw}
	data, err := json.Marshal(frame)
	if err != nil {
		m.logger.Error("failed to marshal command frame", "destination", destination, "error", err)
		return
	}

	m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Warn("write failed", "destination", destination, "error", err)
		m.connectionLost(err)
	}
}

// connectionLost tears the current transport down and schedules exactly one
// reconnect attempt.
func (m *Manager) connectionLost(cause error) {
	if m.state == StateDisconnected && m.conn == nil && m.reconnTimer == nil {
		return
	}
	m.teardown()
	m.scheduleReconnect(cause)
}

func (m *Manager) teardown() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.frames != nil {
		// The reader may be blocked handing over a frame; drain until it
		// notices the closed transport and exits.
		go drainFrames(m.frames)
		m.frames = nil
	}
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
	m.subscribed = make(map[realtime.Topic]bool)
}

func (m *Manager) scheduleReconnect(cause error) {
	if m.reconnTimer != nil {
		return
	}
	m.attempts++
	if m.cfg.Backoff.Exhausted(m.attempts) {
		m.logger.Error("reconnect attempts exhausted", "attempts", m.attempts-1, "cause", cause)
		m.setState(StateDisconnected, cause, true)
		return
	}
	delay := m.cfg.Backoff.Delay(m.attempts)
	m.logger.Info("scheduling reconnect", "attempt", m.attempts, "delay", delay, "cause", cause)
	m.setState(StateDegraded, cause, false)
	m.reconnTimer = time.NewTimer(delay)
}

func (m *Manager) setState(state State, err error, terminal bool) {
	m.state = state
	status := Status{State: state, Attempt: m.attempts, Err: err, Terminal: terminal}
	select {
	case m.status <- status:
	default:
		// Slow consumers lose intermediate transitions, never the loop.
	}
}

func readFrames(conn *websocket.Conn, out chan<- *realtime.PushFrame, logger *slog.Logger) {
	defer close(out)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame realtime.PushFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warn("malformed push frame", "error", err)
			continue
		}
		out <- &frame
	}
}

func drainFrames(ch <-chan *realtime.PushFrame) {
	for range ch {
	}
}
