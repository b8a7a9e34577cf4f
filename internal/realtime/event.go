package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed set of push notification types. Downstream
// consumers switch on it, so new values must be added to IsValid and
// decodePayload together.
type EventType string

const (
	// Connection lifecycle
	EventBotReady EventType = "BOT_READY"

	// Guild lifecycle
	EventGuildJoin                 EventType = "GUILD_JOIN"
	EventGuildLeave                EventType = "GUILD_LEAVE"
	EventGuildUpdateName           EventType = "GUILD_UPDATE_NAME"
	EventGuildUpdateIcon           EventType = "GUILD_UPDATE_ICON"
	EventGuildMemberJoin           EventType = "GUILD_MEMBER_JOIN"
	EventGuildMemberRemove         EventType = "GUILD_MEMBER_REMOVE"
	EventGuildMemberUpdateNickname EventType = "GUILD_MEMBER_UPDATE_NICKNAME"

	// User lifecycle
	EventUserUpdateName    EventType = "USER_UPDATE_NAME"
	EventUserUpdateAvatar  EventType = "USER_UPDATE_AVATAR"
	EventUserUpdateStatus  EventType = "USER_UPDATE_STATUS"
	EventUserActivityStart EventType = "USER_ACTIVITY_START"
	EventUserActivityEnd   EventType = "USER_ACTIVITY_END"

	// Message lifecycle
	EventMessageCreate         EventType = "MESSAGE_CREATE"
	EventMessageUpdate         EventType = "MESSAGE_UPDATE"
	EventMessageDelete         EventType = "MESSAGE_DELETE"
	EventMessageReactionAdd    EventType = "MESSAGE_REACTION_ADD"
	EventMessageReactionRemove EventType = "MESSAGE_REACTION_REMOVE"

	// Protocol control
	EventAuthSuccess     EventType = "AUTH_SUCCESS"
	EventAuthError       EventType = "AUTH_ERROR"
	EventAuthStatus      EventType = "AUTH_STATUS"
	EventSubscriptionAck EventType = "SubscriptionAck"
	EventPong            EventType = "pong"
	EventLogoutSuccess   EventType = "LOGOUT_SUCCESS"
)

func (t EventType) String() string {
	return string(t)
}

// IsValid checks that the EventType is a member of the closed set.
func (t EventType) IsValid() bool {
	switch t {
	case EventBotReady,
		EventGuildJoin, EventGuildLeave, EventGuildUpdateName, EventGuildUpdateIcon,
		EventGuildMemberJoin, EventGuildMemberRemove, EventGuildMemberUpdateNickname,
		EventUserUpdateName, EventUserUpdateAvatar, EventUserUpdateStatus,
		EventUserActivityStart, EventUserActivityEnd,
		EventMessageCreate, EventMessageUpdate, EventMessageDelete,
		EventMessageReactionAdd, EventMessageReactionRemove,
		EventAuthSuccess, EventAuthError, EventAuthStatus,
		EventSubscriptionAck, EventPong, EventLogoutSuccess:
		return true
	default:
		return false
	}
}

// EventData is the sealed payload union. Every concrete payload type lives in
// this package and implements the unexported marker, so a switch over payloads
// can be made exhaustive.
type EventData interface {
	isEventData()
}

type BotReadyData struct {
	BotID    string `json:"botId"`
	Username string `json:"username"`
}

type GuildData struct {
	GuildID string `json:"guildId"`
	Name    string `json:"name,omitempty"`
}

type GuildUpdateNameData struct {
	GuildID string `json:"guildId"`
	Name    string `json:"name"`
}

type GuildUpdateIconData struct {
	GuildID string `json:"guildId"`
	IconURL string `json:"iconUrl"`
}

type GuildMemberData struct {
	GuildID  string `json:"guildId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type GuildMemberNicknameData struct {
	GuildID  string `json:"guildId"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

type UserUpdateNameData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type UserUpdateAvatarData struct {
	UserID    string `json:"userId"`
	AvatarURL string `json:"avatarUrl"`
}

type UserUpdateStatusData struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type UserActivityData struct {
	UserID   string `json:"userId"`
	Activity string `json:"activity,omitempty"`
}

type MessageData struct {
	MessageID   string `json:"messageId"`
	ChannelID   string `json:"channelId"`
	GuildID     string `json:"guildId,omitempty"`
	AuthorID    string `json:"authorId"`
	RecipientID string `json:"recipientId,omitempty"` // set for direct messages
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

type MessageDeleteData struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
	GuildID   string `json:"guildId,omitempty"`
}

type MessageReactionData struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
	GuildID   string `json:"guildId,omitempty"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

type AuthResultData struct {
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

type AuthStatusData struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	Username      string `json:"username,omitempty"`
}

type SubscriptionAckData struct {
	Topic string `json:"topic"`
}

type PongData struct {
	Timestamp int64 `json:"timestamp"`
}

type LogoutSuccessData struct{}

func (BotReadyData) isEventData()            {}
func (GuildData) isEventData()               {}
func (GuildUpdateNameData) isEventData()     {}
func (GuildUpdateIconData) isEventData()     {}
func (GuildMemberData) isEventData()         {}
func (GuildMemberNicknameData) isEventData() {}
func (UserUpdateNameData) isEventData()      {}
func (UserUpdateAvatarData) isEventData()    {}
func (UserUpdateStatusData) isEventData()    {}
func (UserActivityData) isEventData()        {}
func (MessageData) isEventData()             {}
func (MessageDeleteData) isEventData()       {}
func (MessageReactionData) isEventData()     {}
func (AuthResultData) isEventData()          {}
func (AuthStatusData) isEventData()          {}
func (SubscriptionAckData) isEventData()     {}
func (PongData) isEventData()                {}
func (LogoutSuccessData) isEventData()       {}

// Event is the immutable broadcast unit. The wire shape is {"type": ..., "data": {...}}
// and the broadcaster never mutates a delivered envelope per recipient.
type Event struct {
	Type EventType `json:"type"`
	Data EventData `json:"data"`
}

func NewEvent(eventType EventType, data EventData) *Event {
	return &Event{Type: eventType, Data: data}
}

func NewPongEvent() *Event {
	return &Event{Type: EventPong, Data: PongData{Timestamp: time.Now().UnixMilli()}}
}

// UnmarshalJSON decodes the envelope into the typed payload for its tag.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type EventType       `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data, err := decodePayload(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	e.Type = raw.Type
	e.Data = data
	return nil
}

func decodeAs[T EventData](eventType EventType, raw json.RawMessage) (EventData, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return v, nil
}

// decodePayload maps an EventType to its concrete payload struct. The switch
// must cover the full closed set.
func decodePayload(eventType EventType, raw json.RawMessage) (EventData, error) {
	switch eventType {
	case EventBotReady:
		return decodeAs[BotReadyData](eventType, raw)
	case EventGuildJoin, EventGuildLeave:
		return decodeAs[GuildData](eventType, raw)
	case EventGuildUpdateName:
		return decodeAs[GuildUpdateNameData](eventType, raw)
	case EventGuildUpdateIcon:
		return decodeAs[GuildUpdateIconData](eventType, raw)
	case EventGuildMemberJoin, EventGuildMemberRemove:
		return decodeAs[GuildMemberData](eventType, raw)
	case EventGuildMemberUpdateNickname:
		return decodeAs[GuildMemberNicknameData](eventType, raw)
	case EventUserUpdateName:
		return decodeAs[UserUpdateNameData](eventType, raw)
	case EventUserUpdateAvatar:
		return decodeAs[UserUpdateAvatarData](eventType, raw)
	case EventUserUpdateStatus:
		return decodeAs[UserUpdateStatusData](eventType, raw)
	case EventUserActivityStart, EventUserActivityEnd:
		return decodeAs[UserActivityData](eventType, raw)
	case EventMessageCreate, EventMessageUpdate:
		return decodeAs[MessageData](eventType, raw)
	case EventMessageDelete:
		return decodeAs[MessageDeleteData](eventType, raw)
	case EventMessageReactionAdd, EventMessageReactionRemove:
		return decodeAs[MessageReactionData](eventType, raw)
	case EventAuthSuccess, EventAuthError:
		return decodeAs[AuthResultData](eventType, raw)
	case EventAuthStatus:
		return decodeAs[AuthStatusData](eventType, raw)
	case EventSubscriptionAck:
		return decodeAs[SubscriptionAckData](eventType, raw)
	case EventPong:
		return decodeAs[PongData](eventType, raw)
	case EventLogoutSuccess:
		return decodeAs[LogoutSuccessData](eventType, raw)
	default:
		return nil, fmt.Errorf("unknown event type: %q", eventType)
	}
}
