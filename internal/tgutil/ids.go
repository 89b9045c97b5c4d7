// Package tgutil holds small helpers shared by every package that talks to
// the Telegram API: chat id conventions, flood-wait handling, update parsing
// and the client rate limiter.
package tgutil

import (
	"math/rand/v2"

	"github.com/gotd/td/tg"
)

// ChannelIDOffset converts between bare channel ids and -100-prefixed chat ids.
const ChannelIDOffset int64 = 1_000_000_000_000

// ChatKind is the addressing class of a chat id.
type ChatKind int

const (
	KindUser ChatKind = iota + 1
	KindBasicGroup
	KindChannel
)

func (k ChatKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindBasicGroup:
		return "group"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// KindOf classifies a chat id: positive ids are users, ids at or below
// -ChannelIDOffset are channels and supergroups, the rest are basic groups.
func KindOf(chatID int64) ChatKind {
	switch {
	case chatID > 0:
		return KindUser
	case chatID <= -ChannelIDOffset:
		return KindChannel
	default:
		return KindBasicGroup
	}
}

// ChannelChatID returns the chat id of a bare channel id.
func ChannelChatID(channelID int64) int64 {
	return -(ChannelIDOffset + channelID)
}

// ChannelIDOf returns the bare channel id of a channel chat id.
func ChannelIDOf(chatID int64) (int64, bool) {
	if KindOf(chatID) != KindChannel {
		return 0, false
	}

	return -chatID - ChannelIDOffset, true
}

// BasicGroupIDOf returns the bare chat id of a basic group chat id.
func BasicGroupIDOf(chatID int64) (int64, bool) {
	if KindOf(chatID) != KindBasicGroup {
		return 0, false
	}

	return -chatID, true
}

// PeerChatID maps a protocol peer to a chat id.
func PeerChatID(p tg.PeerClass) int64 {
	switch peer := p.(type) {
	case *tg.PeerUser:
		return peer.UserID
	case *tg.PeerChat:
		return -peer.ChatID
	case *tg.PeerChannel:
		return ChannelChatID(peer.ChannelID)
	default:
		return 0
	}
}

// RandomID returns a random_id for send and forward requests.
func RandomID() int64 {
	return rand.Int64()
}
