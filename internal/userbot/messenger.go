package userbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/lueurxax/telegram-backup-bot/internal/peers"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

// maxMessageRunes is the server limit for a text message.
const maxMessageRunes = 4096

// MessagingAPI is the subset of the Telegram API used for replies.
type MessagingAPI interface {
	MessagesSendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	MessagesEditMessage(ctx context.Context, request *tg.MessagesEditMessageRequest) (tg.UpdatesClass, error)
	MessagesDeleteMessages(ctx context.Context, request *tg.MessagesDeleteMessagesRequest) (*tg.MessagesAffectedMessages, error)
	ChannelsDeleteMessages(ctx context.Context, request *tg.ChannelsDeleteMessagesRequest) (*tg.MessagesAffectedMessages, error)
}

type PeerLookup interface {
	Lookup(ctx context.Context, chatID int64) (peers.Peer, bool)
	InputPeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error)
}

// Messenger sends plain-text replies and status messages.
type Messenger struct {
	api    MessagingAPI
	peers  PeerLookup
	flood  tgutil.FloodSleeper
	logger *zerolog.Logger
}

func NewMessenger(api MessagingAPI, peers PeerLookup, flood tgutil.FloodSleeper, logger *zerolog.Logger) *Messenger {
	return &Messenger{api: api, peers: peers, flood: flood, logger: logger}
}

// Send posts text to chatID, split into several messages when it exceeds
// the server limit. Only the first part replies to replyTo. It returns the
// id of the first message.
func (m *Messenger) Send(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	peer, err := m.peers.InputPeer(ctx, chatID)
	if err != nil {
		return 0, err
	}

	first := 0

	for i, part := range SplitText(text, maxMessageRunes) {
		req := &tg.MessagesSendMessageRequest{
			Peer:      peer,
			Message:   part,
			RandomID:  tgutil.RandomID(),
			NoWebpage: true,
		}

		if i == 0 && replyTo != 0 {
			req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
		}

		var upd tg.UpdatesClass

		err := m.flood.Retry(ctx, "reply", func(ctx context.Context) error {
			var err error

			upd, err = m.api.MessagesSendMessage(ctx, req)

			return err
		})
		if err != nil {
			return first, fmt.Errorf("send message: %w", err)
		}

		if i == 0 {
			first, _ = tgutil.SentMessageID(upd)
		}
	}

	return first, nil
}

// Post sends a standalone message.
func (m *Messenger) Post(ctx context.Context, chatID int64, text string) (int, error) {
	return m.Send(ctx, chatID, 0, text)
}

func (m *Messenger) Edit(ctx context.Context, chatID int64, msgID int, text string) error {
	peer, err := m.peers.InputPeer(ctx, chatID)
	if err != nil {
		return err
	}

	_, err = m.api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:      peer,
		ID:        msgID,
		Message:   text,
		NoWebpage: true,
	})
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}

	return nil
}

// Delete removes messages for everyone. Channels and supergroups need the
// channel form of the call.
func (m *Messenger) Delete(ctx context.Context, chatID int64, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}

	if p, ok := m.peers.Lookup(ctx, chatID); ok {
		if ch, isChannel := p.InputChannel(); isChannel {
			if _, err := m.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{Channel: ch, ID: ids}); err != nil {
				return fmt.Errorf("delete channel messages: %w", err)
			}

			return nil
		}
	}

	if _, err := m.api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{Revoke: true, ID: ids}); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	return nil
}

// SplitText cuts text into parts of at most limit runes, preferring line
// breaks as cut points.
func SplitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string

	for len(runes) > limit {
		cut := limit

		if nl := lastNewline(runes[:limit]); nl > 0 {
			cut = nl
		}

		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]

		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}

	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}

	return parts
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}

	return -1
}
