// Package gateway adapts the upstream Discord event source to the realtime
// broadcaster: one inbound channel of tagged events, one dispatcher loop that
// derives the broadcast scope from the typed payload and fans out.
package gateway

import (
	"context"
	"log/slog"

	"panel-service/internal/realtime"
)

type Dispatcher struct {
	broadcaster *realtime.Broadcaster
	events      chan *realtime.Event
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(broadcaster *realtime.Broadcaster, buffer int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		broadcaster: broadcaster,
		events:      make(chan *realtime.Event, buffer),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Publish hands one domain event to the dispatcher loop. It blocks while the
// buffer is full so producers observe backpressure rather than losing events.
func (d *Dispatcher) Publish(ctx context.Context, evt *realtime.Event) error {
	select {
	case d.events <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

func (d *Dispatcher) Run() {
	defer close(d.done)
	for {
		select {
		case evt := <-d.events:
			d.dispatch(evt)
		case <-d.ctx.Done():
			d.logger.Info("gateway dispatcher shutting down")
			return
		}
	}
}

func (d *Dispatcher) Stop() {
	d.cancel()
	<-d.done
}

// dispatch routes one event to its broadcast scope. The switch covers the
// full closed EventType set; protocol-control types never originate upstream
// and are dropped.
func (d *Dispatcher) dispatch(evt *realtime.Event) {
	switch data := evt.Data.(type) {
	case realtime.BotReadyData:
		d.broadcaster.BroadcastAll(evt.Type, data)

	case realtime.GuildData:
		d.broadcaster.BroadcastToTopic(realtime.GuildTopic(data.GuildID), evt.Type, data)
	case realtime.GuildUpdateNameData:
		d.broadcaster.BroadcastToTopic(realtime.GuildTopic(data.GuildID), evt.Type, data)
	case realtime.GuildUpdateIconData:
		d.broadcaster.BroadcastToTopic(realtime.GuildTopic(data.GuildID), evt.Type, data)
	case realtime.GuildMemberData:
		d.broadcaster.BroadcastToTopic(realtime.GuildTopic(data.GuildID), evt.Type, data)
	case realtime.GuildMemberNicknameData:
		d.broadcaster.BroadcastToTopic(realtime.GuildTopic(data.GuildID), evt.Type, data)

	case realtime.UserUpdateNameData:
		d.broadcaster.BroadcastToTopic(realtime.DMPeerTopic(data.UserID), evt.Type, data)
	case realtime.UserUpdateAvatarData:
		d.broadcaster.BroadcastToTopic(realtime.DMPeerTopic(data.UserID), evt.Type, data)
	case realtime.UserUpdateStatusData:
		d.broadcaster.BroadcastToTopic(realtime.DMPeerTopic(data.UserID), evt.Type, data)
	case realtime.UserActivityData:
		d.broadcaster.BroadcastToTopic(realtime.DMPeerTopic(data.UserID), evt.Type, data)

	case realtime.MessageData:
		if data.RecipientID != "" {
			// Direct message: both peers' subscribers see it.
			d.broadcaster.BroadcastToTopic(realtime.DMPeerTopic(data.AuthorID), evt.Type, data)
			d.broadcaster.BroadcastToTopic(realtime.DMPeerTopic(data.RecipientID), evt.Type, data)
			return
		}
		d.broadcaster.BroadcastToTopic(realtime.ChannelTopic(data.ChannelID), evt.Type, data)
	case realtime.MessageDeleteData:
		d.broadcaster.BroadcastToTopic(realtime.ChannelTopic(data.ChannelID), evt.Type, data)
	case realtime.MessageReactionData:
		d.broadcaster.BroadcastToTopic(realtime.ChannelTopic(data.ChannelID), evt.Type, data)

	case realtime.AuthResultData, realtime.AuthStatusData, realtime.SubscriptionAckData,
		realtime.PongData, realtime.LogoutSuccessData:
		// Protocol-control events are replies, never upstream input.
		d.logger.Warn("dropping protocol-control event from gateway", "type", evt.Type)

	default:
		d.logger.Warn("dropping event with unknown payload", "type", evt.Type)
	}
}
