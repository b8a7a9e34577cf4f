package realtime

import "strings"

// Topic is a named interest category used to scope broadcast delivery.
// Three kinds exist: guild, channel and direct-message peer.
type Topic string

const (
	topicPrefixGuild   = "guild:"
	topicPrefixChannel = "channel:"
	topicPrefixDMPeer  = "dm-peer:"
)

func GuildTopic(guildID string) Topic {
	return Topic(topicPrefixGuild + guildID)
}

func ChannelTopic(channelID string) Topic {
	return Topic(topicPrefixChannel + channelID)
}

func DMPeerTopic(userID string) Topic {
	return Topic(topicPrefixDMPeer + userID)
}

func (t Topic) String() string {
	return string(t)
}

// IsValid reports whether the topic carries a known prefix and a non-empty id.
func (t Topic) IsValid() bool {
	for _, prefix := range []string{topicPrefixGuild, topicPrefixChannel, topicPrefixDMPeer} {
		if strings.HasPrefix(string(t), prefix) && len(t) > len(prefix) {
			return true
		}
	}
	return false
}
