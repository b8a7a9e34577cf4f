package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakePusher records delivered frames and can be told to fail.
type fakePusher struct {
	mu     sync.Mutex
	frames []*PushFrame
	err    error
}

func (p *fakePusher) Push(frame *PushFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.frames = append(p.frames, frame)
	return nil
}

func (p *fakePusher) received() []*PushFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PushFrame, len(p.frames))
	copy(out, p.frames)
	return out
}

func containsConn(conns []*Connection, connID string) bool {
	for _, c := range conns {
		if c.ID == connID {
			return true
		}
	}
	return false
}

func containsTopic(topics []Topic, topic Topic) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

func TestRegistrySubscribeIndexesBothDirections(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("c1", &fakePusher{})

	topic := ChannelTopic("42")
	if err := r.Subscribe(topic, "c1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if subs := r.SubscribersOf(topic); !containsConn(subs, "c1") {
		t.Error("topic index is missing the subscriber")
	}
	if topics := r.TopicsOf("c1"); !containsTopic(topics, topic) {
		t.Error("connection index is missing the topic")
	}
}

func TestRegistrySubscribeUnknownConnection(t *testing.T) {
	r := NewRegistry()
	if err := r.Subscribe(ChannelTopic("42"), "ghost"); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("got %v, want ErrUnknownConnection", err)
	}
}

func TestRegistryDuplicateSubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("c1", &fakePusher{})

	topic := GuildTopic("7")
	r.Subscribe(topic, "c1")
	r.Subscribe(topic, "c1")

	if subs := r.SubscribersOf(topic); len(subs) != 1 {
		t.Errorf("got %d subscribers, want 1", len(subs))
	}
	if topics := r.TopicsOf("c1"); len(topics) != 1 {
		t.Errorf("got %d topics, want 1", len(topics))
	}
}

func TestRegistryUnsubscribePrunesEmptyTopics(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("c1", &fakePusher{})

	topic := ChannelTopic("42")
	r.Subscribe(topic, "c1")
	r.Unsubscribe(topic, "c1")

	if subs := r.SubscribersOf(topic); len(subs) != 0 {
		t.Errorf("got %d subscribers after unsubscribe, want 0", len(subs))
	}
	// The last member leaving must delete the set itself, not leave an
	// empty one behind.
	if _, ok := r.topics.Load(topic); ok {
		t.Error("empty topic set was not pruned")
	}

	// Unknown edges are no-ops.
	r.Unsubscribe(topic, "c1")
	r.Unsubscribe(GuildTopic("nope"), "c1")
}

func TestRegistrySubscribersOfNeverNil(t *testing.T) {
	r := NewRegistry()
	subs := r.SubscribersOf(ChannelTopic("missing"))
	if subs == nil {
		t.Fatal("SubscribersOf returned nil for an unknown topic")
	}
	if len(subs) != 0 {
		t.Errorf("got %d subscribers, want 0", len(subs))
	}
}

func TestRegistryMarkAuthenticated(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("c1", &fakePusher{})

	if r.IsAuthenticated("c1") {
		t.Error("fresh connection must start unauthenticated")
	}

	r.MarkAuthenticated("c1", "alice", "Alice")
	if !r.IsAuthenticated("c1") {
		t.Error("connection not authenticated after MarkAuthenticated")
	}
	if userID, ok := r.UserIDOf("c1"); !ok || userID != "alice" {
		t.Errorf("UserIDOf = %q, %v; want %q, true", userID, ok, "alice")
	}
	if conns := r.UserConnections("alice"); !containsConn(conns, "c1") {
		t.Error("user index is missing the connection")
	}

	// Re-authentication as a different principal moves the user index.
	r.MarkAuthenticated("c1", "bob", "Bob")
	if conns := r.UserConnections("alice"); len(conns) != 0 {
		t.Error("old principal still indexed after re-authentication")
	}
	if conns := r.UserConnections("bob"); !containsConn(conns, "c1") {
		t.Error("new principal not indexed after re-authentication")
	}
}

func TestRegistryRemoveConnection(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("c1", &fakePusher{})
	r.MarkAuthenticated("c1", "alice", "Alice")
	topic := ChannelTopic("42")
	r.Subscribe(topic, "c1")

	r.RemoveConnection("c1")

	if _, ok := r.Connection("c1"); ok {
		t.Error("connection record survived removal")
	}
	if subs := r.SubscribersOf(topic); len(subs) != 0 {
		t.Error("topic index still references the removed connection")
	}
	if conns := r.UserConnections("alice"); len(conns) != 0 {
		t.Error("user index still references the removed connection")
	}

	// Removal is idempotent.
	r.RemoveConnection("c1")
	r.RemoveConnection("ghost")
}

func TestRegistryOperationsAfterRemovalAreNoOps(t *testing.T) {
	r := NewRegistry()
	c := r.RegisterConnection("c1", &fakePusher{})
	r.RemoveConnection("c1")

	if err := r.Subscribe(ChannelTopic("42"), "c1"); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("Subscribe after removal: got %v, want ErrUnknownConnection", err)
	}
	r.MarkAuthenticated("c1", "alice", "Alice")
	if c.Authenticated() {
		t.Error("removed connection became authenticated")
	}
	if conns := r.UserConnections("alice"); len(conns) != 0 {
		t.Error("removed connection entered the user index")
	}
}

func TestRegistryLogoutKeepsRecord(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("c1", &fakePusher{})
	r.MarkAuthenticated("c1", "alice", "Alice")
	topic := GuildTopic("7")
	r.Subscribe(topic, "c1")

	r.Logout("c1")

	if _, ok := r.Connection("c1"); !ok {
		t.Fatal("logout must keep the connection record")
	}
	if r.IsAuthenticated("c1") {
		t.Error("connection still authenticated after logout")
	}
	if subs := r.SubscribersOf(topic); len(subs) != 0 {
		t.Error("subscriptions survived logout")
	}
	if conns := r.UserConnections("alice"); len(conns) != 0 {
		t.Error("user index survived logout")
	}

	// The same record can authenticate and subscribe again.
	r.MarkAuthenticated("c1", "alice", "Alice")
	if err := r.Subscribe(topic, "c1"); err != nil {
		t.Fatalf("re-subscribe after logout: %v", err)
	}
}

func TestRegistryMultipleConnectionsPerUser(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("c1", &fakePusher{})
	r.RegisterConnection("c2", &fakePusher{})
	r.MarkAuthenticated("c1", "alice", "Alice")
	r.MarkAuthenticated("c2", "alice", "Alice")

	if conns := r.UserConnections("alice"); len(conns) != 2 {
		t.Fatalf("got %d connections for alice, want 2", len(conns))
	}

	r.RemoveConnection("c1")
	conns := r.UserConnections("alice")
	if len(conns) != 1 || conns[0].ID != "c2" {
		t.Errorf("got %v, want only c2", conns)
	}
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	topic := ChannelTopic("42")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", i)
			for j := 0; j < 100; j++ {
				r.RegisterConnection(connID, &fakePusher{})
				r.MarkAuthenticated(connID, fmt.Sprintf("u%d", i%4), "user")
				r.Subscribe(topic, connID)
				r.SubscribersOf(topic)
				r.Unsubscribe(topic, connID)
				r.RemoveConnection(connID)
			}
		}(i)
	}
	wg.Wait()

	if subs := r.SubscribersOf(topic); len(subs) != 0 {
		t.Errorf("got %d leftover subscribers, want 0", len(subs))
	}
	if conns := r.Connections(); len(conns) != 0 {
		t.Errorf("got %d leftover connections, want 0", len(conns))
	}
}
