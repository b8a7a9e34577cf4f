package realtime

import "log/slog"

// Broadcaster pushes typed domain events to matching connections, consulting
// the registry for the target set. Delivery to one recipient is independent
// of the rest: a failed push is logged and counted, never propagated.
//
// Target sets use snapshot semantics: connections that subscribe after a call
// started are not guaranteed that particular event. There is no replay buffer.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
}

func NewBroadcaster(registry *Registry, metrics *Metrics, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, metrics: metrics, logger: logger}
}

// BroadcastAll delivers to every currently-connected session regardless of
// subscription. Used for global announcements such as BOT_READY.
func (b *Broadcaster) BroadcastAll(eventType EventType, data EventData) {
	frame := &PushFrame{Destination: DestinationBroadcast, Event: NewEvent(eventType, data)}
	for _, c := range b.registry.Connections() {
		b.push(c, frame)
	}
}

// BroadcastToTopic delivers to exactly the subscribers of the topic at the
// moment of the call.
func (b *Broadcaster) BroadcastToTopic(topic Topic, eventType EventType, data EventData) {
	frame := &PushFrame{Destination: topic.String(), Event: NewEvent(eventType, data)}
	for _, c := range b.registry.SubscribersOf(topic) {
		b.push(c, frame)
	}
}

// SendToConnection delivers one event to a single connection on a private
// reply destination. Unknown connections are ignored.
func (b *Broadcaster) SendToConnection(connID, destination string, eventType EventType, data EventData) {
	c, ok := b.registry.Connection(connID)
	if !ok {
		return
	}
	b.push(c, &PushFrame{Destination: destination, Event: NewEvent(eventType, data)})
}

// SendToUser delivers one event to every authenticated connection of the
// user. Reaching no connection is not an error.
func (b *Broadcaster) SendToUser(userID string, eventType EventType, data EventData) {
	frame := &PushFrame{Destination: DestinationNotifications, Event: NewEvent(eventType, data)}
	for _, c := range b.registry.UserConnections(userID) {
		b.push(c, frame)
	}
}

func (b *Broadcaster) push(c *Connection, frame *PushFrame) {
	if err := c.pusher.Push(frame); err != nil {
		// A recipient can legitimately disconnect between snapshot and send.
		b.metrics.EventDropped()
		b.logger.Debug("event delivery failed",
			"connID", c.ID, "destination", frame.Destination, "type", frame.Event.Type, "error", err)
		return
	}
	b.metrics.EventDelivered()
}
