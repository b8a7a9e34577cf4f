package realtime

import "sync/atomic"

// Metrics tracks connection and delivery counters for the realtime layer.
// All counters are updated atomically and safe for concurrent use.
type Metrics struct {
	connectionsTotal  atomic.Int64
	connectionsActive atomic.Int64
	eventsDelivered   atomic.Int64
	eventsDropped     atomic.Int64
	authFailures      atomic.Int64
	commandsHandled   atomic.Int64
}

// MetricsSnapshot is the JSON shape served on the stats endpoint.
type MetricsSnapshot struct {
	ConnectionsTotal  int64 `json:"connectionsTotal"`
	ConnectionsActive int64 `json:"connectionsActive"`
	EventsDelivered   int64 `json:"eventsDelivered"`
	EventsDropped     int64 `json:"eventsDropped"`
	AuthFailures      int64 `json:"authFailures"`
	CommandsHandled   int64 `json:"commandsHandled"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(1)
	m.connectionsActive.Add(1)
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Add(-1)
}

func (m *Metrics) EventDelivered() {
	if m == nil {
		return
	}
	m.eventsDelivered.Add(1)
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Add(1)
}

func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Add(1)
}

func (m *Metrics) CommandHandled() {
	if m == nil {
		return
	}
	m.commandsHandled.Add(1)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		ConnectionsTotal:  m.connectionsTotal.Load(),
		ConnectionsActive: m.connectionsActive.Load(),
		EventsDelivered:   m.eventsDelivered.Load(),
		EventsDropped:     m.eventsDropped.Load(),
		AuthFailures:      m.authFailures.Load(),
		CommandsHandled:   m.commandsHandled.Load(),
	}
}
