package realtime

import (
	"errors"
	"sync"
	"time"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Pusher delivers one frame to a connection's outbound queue. Implementations
// must not block on network I/O.
type Pusher interface {
	Push(frame *PushFrame) error
}

// Connection is the registry's record for one logical real-time channel
// between a browser tab and the server.
type Connection struct {
	ID string

	pusher Pusher

	mu            sync.Mutex
	authenticated bool
	userID        string
	username      string
	createdAt     time.Time
	lastActivity  time.Time
	topics        map[Topic]struct{}
	removed       bool
}

func (c *Connection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Identity returns the authenticated principal, if any.
func (c *Connection) Identity() (userID, username string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.username, c.authenticated
}

func (c *Connection) Topics() []Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]Topic, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	return topics
}

func (c *Connection) CreatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAt
}

func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// subscriberSet is the per-topic (or per-user) membership record. Each set
// carries its own lock so operations on disjoint topics never contend.
type subscriberSet struct {
	mu      sync.RWMutex
	members map[string]*Connection
	gone    bool // pruned from the owning map; lookups must retry
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{members: make(map[string]*Connection)}
}

func addMember(m *sync.Map, key any, c *Connection) {
	for {
		v, _ := m.LoadOrStore(key, newSubscriberSet())
		s := v.(*subscriberSet)
		s.mu.Lock()
		if s.gone {
			s.mu.Unlock()
			continue
		}
		s.members[c.ID] = c
		s.mu.Unlock()
		return
	}
}

func removeMember(m *sync.Map, key any, connID string) {
	v, ok := m.Load(key)
	if !ok {
		return
	}
	s := v.(*subscriberSet)
	s.mu.Lock()
	delete(s.members, connID)
	// Removing the last member prunes the set so empty topics never accumulate.
	if len(s.members) == 0 {
		s.gone = true
		m.Delete(key)
	}
	s.mu.Unlock()
}

func snapshotMembers(m *sync.Map, key any) []*Connection {
	v, ok := m.Load(key)
	if !ok {
		return []*Connection{}
	}
	s := v.(*subscriberSet)
	s.mu.RLock()
	out := make([]*Connection, 0, len(s.members))
	for _, c := range s.members {
		out = append(out, c)
	}
	s.mu.RUnlock()
	return out
}

// Registry is the in-memory bidirectional index between connections and the
// topics they observe, plus per-connection authentication state. All methods
// are safe for arbitrary concurrent use; the two index directions are kept
// mutually consistent by serializing every edge mutation under the owning
// connection's lock (connection lock is always taken before a set lock).
type Registry struct {
	conns  sync.Map // connection id -> *Connection
	topics sync.Map // Topic -> *subscriberSet
	users  sync.Map // user id -> *subscriberSet
}

func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterConnection creates an unauthenticated connection record. Callers
// must call it exactly once per physical connection; a second call for the
// same id replaces the record and orphans the first one's subscriptions.
func (r *Registry) RegisterConnection(connID string, p Pusher) *Connection {
	now := time.Now()
	c := &Connection{
		ID:           connID,
		pusher:       p,
		createdAt:    now,
		lastActivity: now,
		topics:       make(map[Topic]struct{}),
	}
	r.conns.Store(connID, c)
	return c
}

// MarkAuthenticated sets the connection's principal and indexes it under the
// user id. Calling again with different values is last-write-wins, which
// models token refresh without reconnect.
func (r *Registry) MarkAuthenticated(connID, userID, username string) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return
	}
	c := v.(*Connection)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return
	}
	if c.authenticated && c.userID != userID {
		removeMember(&r.users, c.userID, connID)
	}
	c.authenticated = true
	c.userID = userID
	c.username = username
	c.lastActivity = time.Now()
	addMember(&r.users, userID, c)
}

// Subscribe adds one interest edge. Duplicate subscriptions are no-ops.
func (r *Registry) Subscribe(topic Topic, connID string) error {
	v, ok := r.conns.Load(connID)
	if !ok {
		return ErrUnknownConnection
	}
	c := v.(*Connection)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return ErrUnknownConnection
	}
	if _, dup := c.topics[topic]; dup {
		return nil
	}
	c.topics[topic] = struct{}{}
	c.lastActivity = time.Now()
	addMember(&r.topics, topic, c)
	return nil
}

// Unsubscribe removes one interest edge. Unknown edges are no-ops.
func (r *Registry) Unsubscribe(topic Topic, connID string) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return
	}
	c := v.(*Connection)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, subscribed := c.topics[topic]; !subscribed {
		return
	}
	delete(c.topics, topic)
	removeMember(&r.topics, topic, connID)
}

// SubscribersOf returns a read-only snapshot of the topic's subscribers.
// Unknown topics yield an empty slice, never nil.
func (r *Registry) SubscribersOf(topic Topic) []*Connection {
	return snapshotMembers(&r.topics, topic)
}

// UserConnections returns a snapshot of the authenticated connections
// indexed under the user id.
func (r *Registry) UserConnections(userID string) []*Connection {
	return snapshotMembers(&r.users, userID)
}

// RemoveConnection tears down every subscription the connection held, drops
// it from its user's index and deletes the record. Safe to call more than
// once; the second call is a no-op. The cost is proportional to the
// connection's own subscriptions.
func (r *Registry) RemoveConnection(connID string) {
	v, ok := r.conns.LoadAndDelete(connID)
	if !ok {
		return
	}
	c := v.(*Connection)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return
	}
	c.removed = true
	for topic := range c.topics {
		removeMember(&r.topics, topic, connID)
	}
	c.topics = make(map[Topic]struct{})
	if c.authenticated {
		removeMember(&r.users, c.userID, connID)
		c.authenticated = false
	}
}

// Logout clears the connection's subscriptions and authentication state but
// keeps the record alive, so the same transport connection can authenticate
// again later.
func (r *Registry) Logout(connID string) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return
	}
	c := v.(*Connection)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return
	}
	for topic := range c.topics {
		removeMember(&r.topics, topic, connID)
	}
	c.topics = make(map[Topic]struct{})
	if c.authenticated {
		removeMember(&r.users, c.userID, connID)
		c.authenticated = false
		c.userID = ""
		c.username = ""
	}
}

func (r *Registry) IsAuthenticated(connID string) bool {
	v, ok := r.conns.Load(connID)
	if !ok {
		return false
	}
	return v.(*Connection).Authenticated()
}

func (r *Registry) UserIDOf(connID string) (string, bool) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return "", false
	}
	userID, _, authenticated := v.(*Connection).Identity()
	if !authenticated {
		return "", false
	}
	return userID, true
}

// Connection returns the live record for a connection id.
func (r *Registry) Connection(connID string) (*Connection, bool) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Connections returns a snapshot of every registered connection.
func (r *Registry) Connections() []*Connection {
	out := []*Connection{}
	r.conns.Range(func(_, v any) bool {
		out = append(out, v.(*Connection))
		return true
	})
	return out
}

// TopicsOf returns the topics the connection currently observes.
func (r *Registry) TopicsOf(connID string) []Topic {
	v, ok := r.conns.Load(connID)
	if !ok {
		return []Topic{}
	}
	return v.(*Connection).Topics()
}

// Touch records activity on the connection.
func (r *Registry) Touch(connID string) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return
	}
	c := v.(*Connection)
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}
