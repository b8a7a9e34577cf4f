package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"panel-service/internal/auth"
)

type fakeAuthenticator struct {
	identities map[string]*auth.Identity
}

func (a *fakeAuthenticator) Validate(token string) (*auth.Identity, error) {
	if identity, ok := a.identities[token]; ok {
		return identity, nil
	}
	return nil, auth.ErrInvalidToken
}

type fakePresence struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (p *fakePresence) Connected(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = append(p.online, userID)
	return nil
}

func (p *fakePresence) Disconnected(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = append(p.offline, userID)
	return nil
}

func (p *fakePresence) offlineCount(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, id := range p.offline {
		if id == userID {
			n++
		}
	}
	return n
}

type hubFixture struct {
	hub      *Hub
	registry *Registry
	presence *fakePresence
	server   *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	registry := NewRegistry()
	metrics := NewMetrics()
	broadcaster := NewBroadcaster(registry, metrics, slog.Default())
	authenticator := &fakeAuthenticator{identities: map[string]*auth.Identity{
		"alice-token": {UserID: "alice", Username: "Alice"},
		"bob-token":   {UserID: "bob", Username: "Bob"},
	}}
	presence := &fakePresence{}

	hub := NewHub(registry, broadcaster, authenticator, presence, metrics, slog.Default())
	go hub.Run()
	t.Cleanup(hub.Stop)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail-open transport-level handshake.
		var identity *auth.Identity
		if token := r.URL.Query().Get("token"); token != "" {
			if validated, err := authenticator.Validate(token); err == nil {
				identity = validated
			}
		}
		ServeWS(hub, w, r, identity)
	}))
	t.Cleanup(server.Close)

	return &hubFixture{hub: hub, registry: registry, presence: presence, server: server}
}

func (f *hubFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, destination string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(CommandFrame{Destination: destination, Payload: raw})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *PushFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame PushFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal frame %q: %v", raw, err)
	}
	return &frame
}

// waitForCondition polls until the hub's run loop has applied the expected
// state change.
func waitForCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *hubFixture) singleConnID(t *testing.T) string {
	t.Helper()
	var connID string
	waitForCondition(t, "connection registration", func() bool {
		conns := f.registry.Connections()
		if len(conns) != 1 {
			return false
		}
		connID = conns[0].ID
		return true
	})
	return connID
}

func TestHubInBandAuthentication(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")
	connID := f.singleConnID(t)

	if f.registry.IsAuthenticated(connID) {
		t.Error("connection authenticated before any credential was presented")
	}

	sendCommand(t, conn, CommandAuthenticate, AuthenticatePayload{Token: "alice-token"})
	frame := readFrame(t, conn)

	if frame.Destination != DestinationAuth {
		t.Errorf("destination = %q, want %q", frame.Destination, DestinationAuth)
	}
	if frame.Event.Type != EventAuthSuccess {
		t.Fatalf("event type = %v, want %v", frame.Event.Type, EventAuthSuccess)
	}
	result, ok := frame.Event.Data.(AuthResultData)
	if !ok {
		t.Fatalf("event data is %T, want AuthResultData", frame.Event.Data)
	}
	if result.UserID != "alice" || result.Username != "Alice" {
		t.Errorf("identity = %+v, want alice/Alice", result)
	}
	if !f.registry.IsAuthenticated(connID) {
		t.Error("registry does not reflect the authentication")
	}
}

func TestHubRejectsBadCredential(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")
	connID := f.singleConnID(t)

	sendCommand(t, conn, CommandAuthenticate, AuthenticatePayload{Token: "forged"})
	frame := readFrame(t, conn)

	if frame.Destination != DestinationAuth {
		t.Errorf("destination = %q, want %q", frame.Destination, DestinationAuth)
	}
	if frame.Event.Type != EventAuthError {
		t.Fatalf("event type = %v, want %v", frame.Event.Type, EventAuthError)
	}
	if f.registry.IsAuthenticated(connID) {
		t.Error("rejected credential still authenticated the connection")
	}

	// The connection stays usable: a valid retry succeeds.
	sendCommand(t, conn, CommandAuthenticate, AuthenticatePayload{Token: "alice-token"})
	if frame := readFrame(t, conn); frame.Event.Type != EventAuthSuccess {
		t.Errorf("retry event type = %v, want %v", frame.Event.Type, EventAuthSuccess)
	}
}

func TestHubHandshakePreAuthentication(t *testing.T) {
	f := newHubFixture(t)
	f.dial(t, "?token=alice-token")
	connID := f.singleConnID(t)

	waitForCondition(t, "handshake authentication", func() bool {
		return f.registry.IsAuthenticated(connID)
	})
	if userID, _ := f.registry.UserIDOf(connID); userID != "alice" {
		t.Errorf("userID = %q, want %q", userID, "alice")
	}
}

func TestHubHandshakeFailsOpen(t *testing.T) {
	f := newHubFixture(t)
	f.dial(t, "?token=garbage")
	connID := f.singleConnID(t)

	// The invalid handshake credential is ignored, not fatal.
	if f.registry.IsAuthenticated(connID) {
		t.Error("invalid handshake credential authenticated the connection")
	}
}

func TestHubSubscribeAndBroadcast(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "?token=alice-token")
	connID := f.singleConnID(t)

	sendCommand(t, conn, CommandSubscribeChannel, SubscribeChannelPayload{ChannelID: "42"})
	ack := readFrame(t, conn)
	if ack.Event.Type != EventSubscriptionAck {
		t.Fatalf("event type = %v, want %v", ack.Event.Type, EventSubscriptionAck)
	}
	ackData := ack.Event.Data.(SubscriptionAckData)
	if ackData.Topic != "channel:42" {
		t.Errorf("ack topic = %q, want %q", ackData.Topic, "channel:42")
	}
	if topics := f.registry.TopicsOf(connID); len(topics) != 1 || topics[0] != ChannelTopic("42") {
		t.Errorf("registry topics = %v, want [channel:42]", topics)
	}

	f.hub.Broadcaster().BroadcastToTopic(ChannelTopic("42"), EventMessageCreate, MessageData{
		MessageID: "m1", ChannelID: "42", AuthorID: "bob", Content: "hello",
	})
	frame := readFrame(t, conn)
	if frame.Destination != "channel:42" {
		t.Errorf("destination = %q, want %q", frame.Destination, "channel:42")
	}
	msg, ok := frame.Event.Data.(MessageData)
	if !ok {
		t.Fatalf("event data is %T, want MessageData", frame.Event.Data)
	}
	if msg.Content != "hello" {
		t.Errorf("content = %q, want %q", msg.Content, "hello")
	}
}

func TestHubPing(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")
	f.singleConnID(t)

	sendCommand(t, conn, CommandPing, struct{}{})
	frame := readFrame(t, conn)
	if frame.Destination != DestinationPong {
		t.Errorf("destination = %q, want %q", frame.Destination, DestinationPong)
	}
	if frame.Event.Type != EventPong {
		t.Errorf("event type = %v, want %v", frame.Event.Type, EventPong)
	}
}

func TestHubLogout(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "?token=alice-token")
	connID := f.singleConnID(t)
	waitForCondition(t, "handshake authentication", func() bool {
		return f.registry.IsAuthenticated(connID)
	})

	sendCommand(t, conn, CommandSubscribeGuild, SubscribeGuildPayload{GuildID: "7"})
	readFrame(t, conn) // subscription ack

	sendCommand(t, conn, CommandLogout, struct{}{})
	frame := readFrame(t, conn)
	if frame.Event.Type != EventLogoutSuccess {
		t.Fatalf("event type = %v, want %v", frame.Event.Type, EventLogoutSuccess)
	}

	// The record survives logout but carries no state.
	if _, ok := f.registry.Connection(connID); !ok {
		t.Error("logout removed the connection record")
	}
	if f.registry.IsAuthenticated(connID) {
		t.Error("connection still authenticated after logout")
	}
	if topics := f.registry.TopicsOf(connID); len(topics) != 0 {
		t.Errorf("topics survived logout: %v", topics)
	}
	if f.presence.offlineCount("alice") != 1 {
		t.Error("presence was not told the user went offline")
	}
}

func TestHubDisconnectCleansUp(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "?token=alice-token")
	connID := f.singleConnID(t)

	sendCommand(t, conn, CommandSubscribeChannel, SubscribeChannelPayload{ChannelID: "42"})
	readFrame(t, conn)

	conn.Close()

	waitForCondition(t, "disconnect cleanup", func() bool {
		_, ok := f.registry.Connection(connID)
		return !ok
	})
	if subs := f.registry.SubscribersOf(ChannelTopic("42")); len(subs) != 0 {
		t.Errorf("topic still has %d subscribers after disconnect", len(subs))
	}
	waitForCondition(t, "presence offline", func() bool {
		return f.presence.offlineCount("alice") == 1
	})
}

func TestHubPresenceOnPrincipalChange(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")
	connID := f.singleConnID(t)

	sendCommand(t, conn, CommandAuthenticate, AuthenticatePayload{Token: "alice-token"})
	if frame := readFrame(t, conn); frame.Event.Type != EventAuthSuccess {
		t.Fatalf("event type = %v, want %v", frame.Event.Type, EventAuthSuccess)
	}

	// Last-write-wins re-authentication as a different operator: the old
	// principal's last connection is gone, so they must go offline.
	sendCommand(t, conn, CommandAuthenticate, AuthenticatePayload{Token: "bob-token"})
	if frame := readFrame(t, conn); frame.Event.Type != EventAuthSuccess {
		t.Fatalf("event type = %v, want %v", frame.Event.Type, EventAuthSuccess)
	}

	if userID, _ := f.registry.UserIDOf(connID); userID != "bob" {
		t.Errorf("userID = %q, want %q", userID, "bob")
	}
	if conns := f.registry.UserConnections("alice"); len(conns) != 0 {
		t.Fatalf("alice still has %d indexed connections", len(conns))
	}
	if f.presence.offlineCount("alice") != 1 {
		t.Error("previous principal was never marked offline")
	}
	if f.presence.offlineCount("bob") != 0 {
		t.Error("new principal was marked offline")
	}
}

func TestHubDropsMalformedFrames(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")
	f.singleConnID(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The garbage gets no reply; the next well-formed command is answered
	// first.
	sendCommand(t, conn, CommandPing, struct{}{})
	frame := readFrame(t, conn)
	if frame.Destination != DestinationPong || frame.Event.Type != EventPong {
		t.Errorf("got %q/%v, want a pong reply", frame.Destination, frame.Event.Type)
	}
}

func TestHubPresenceLastConnectionWins(t *testing.T) {
	f := newHubFixture(t)
	conn1 := f.dial(t, "?token=alice-token")
	waitForCondition(t, "first registration", func() bool {
		return len(f.registry.UserConnections("alice")) == 1
	})
	f.dial(t, "?token=alice-token")
	waitForCondition(t, "second registration", func() bool {
		return len(f.registry.UserConnections("alice")) == 2
	})

	// Dropping one of two connections keeps the user online.
	conn1.Close()
	waitForCondition(t, "first connection cleanup", func() bool {
		return len(f.registry.UserConnections("alice")) == 1
	})
	if f.presence.offlineCount("alice") != 0 {
		t.Error("user marked offline while a connection remained")
	}
}
