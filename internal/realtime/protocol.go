package realtime

import "encoding/json"

// Client-initiated command destinations.
const (
	CommandAuthenticate     = "authenticate"
	CommandSubscribeGuild   = "subscribe/guild"
	CommandSubscribeChannel = "subscribe/channel"
	CommandSubscribeDM      = "subscribe/dm"
	CommandPing             = "ping"
	CommandLogout           = "logout"
)

// Server push destinations. Topic destinations use the topic name itself;
// the rest are private per-connection reply destinations.
const (
	DestinationBroadcast     = "broadcast"
	DestinationAuth          = "auth"
	DestinationNotifications = "notifications"
	DestinationPong          = "pong"
)

// CommandFrame is one client-to-server request on the sub-protocol.
type CommandFrame struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// PushFrame is one server-to-client delivery: a destination plus the
// event envelope.
type PushFrame struct {
	Destination string `json:"destination"`
	Event       *Event `json:"event"`
}

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type SubscribeGuildPayload struct {
	GuildID string `json:"guildId"`
}

type SubscribeChannelPayload struct {
	ChannelID string `json:"channelId"`
}

type SubscribeDMPayload struct {
	UserID string `json:"userId"`
}
