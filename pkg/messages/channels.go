package messages

import "fmt"

// NATS subject layout. All subjects live under the boardroom.> namespace so
// one JetStream stream covers the whole bus.
const (
	ChannelBroadcast = "boardroom.broadcast"
	ChannelHead      = "boardroom.tier.head"
	ChannelClevel    = "boardroom.tier.clevel"
	channelAgentFmt  = "boardroom.agents.%s"
)

// AgentChannel returns the per-agent subject for a concrete agent id.
func AgentChannel(agentID string) string {
	return fmt.Sprintf(channelAgentFmt, agentID)
}

// ChannelFor resolves the To field of an envelope to a bus channel.
func ChannelFor(to string) string {
	switch to {
	case ToAll, "":
		return ChannelBroadcast
	case TierHead:
		return ChannelHead
	case TierClevel:
		return ChannelClevel
	default:
		return AgentChannel(to)
	}
}
