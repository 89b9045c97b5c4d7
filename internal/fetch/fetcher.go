// Package fetch retrieves single messages by (chat, id) and reports the
// outcome as an explicit result instead of an error for absence.
package fetch

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/core/fallback"
	"github.com/lueurxax/telegram-backup-bot/internal/peers"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

// Status is the outcome class of a fetch.
type Status int

const (
	StatusFound Status = iota + 1
	StatusNotFound
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is Found(message), NotFound or Failed(err).
type Result struct {
	Status  Status
	Message *tg.Message
	Err     error
}

func (r Result) Found() bool {
	return r.Status == StatusFound && r.Message != nil
}

func found(m *tg.Message) Result { return Result{Status: StatusFound, Message: m} }

// API is the subset of the Telegram API the fetcher calls.
type API interface {
	ChannelsGetMessages(ctx context.Context, request *tg.ChannelsGetMessagesRequest) (tg.MessagesMessagesClass, error)
	MessagesGetMessages(ctx context.Context, id []tg.InputMessageClass) (tg.MessagesMessagesClass, error)
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
}

// PeerSource resolves chat ids to addressable peers.
type PeerSource interface {
	Lookup(ctx context.Context, chatID int64) (peers.Peer, bool)
	Cache() *peers.Cache
}

type Fetcher struct {
	api    API
	peers  PeerSource
	flood  tgutil.FloodSleeper
	logger *zerolog.Logger
}

func New(api API, source PeerSource, flood tgutil.FloodSleeper, logger *zerolog.Logger) *Fetcher {
	return &Fetcher{api: api, peers: source, flood: flood, logger: logger}
}

// Fetch tries a by-id lookup first and, when the message comes back absent
// or empty, a one-message history window ending at id. Errors other than
// flood waits end the attempt; the caller decides whether to skip.
func (f *Fetcher) Fetch(ctx context.Context, chatID int64, id int) Result {
	peer, ok := f.peers.Lookup(ctx, chatID)
	if !ok {
		return Result{Status: StatusFailed, Err: fmt.Errorf("%w: %d", errs.ErrPeerNotResolved, chatID)}
	}

	res, err := fallback.New("fetch_message", f.logger,
		fallback.Stage[*tg.Message]{Name: "by_id", Run: func(ctx context.Context) (*tg.Message, error) {
			return f.byID(ctx, peer, id)
		}},
		fallback.Stage[*tg.Message]{Name: "history", Run: func(ctx context.Context) (*tg.Message, error) {
			return f.fromHistory(ctx, peer, id)
		}},
	).Run(ctx)
	if err == nil {
		return found(res.Value)
	}

	if errs.Is(err, errs.ErrMessageNotFound) {
		return Result{Status: StatusNotFound, Err: err}
	}

	return Result{Status: StatusFailed, Err: err}
}

// Raw calls messages.getMessages (or channels.getMessages for channels)
// directly, bypassing the history fallback.
func (f *Fetcher) Raw(ctx context.Context, chatID int64, id int) Result {
	peer, ok := f.peers.Lookup(ctx, chatID)
	if !ok {
		return Result{Status: StatusFailed, Err: fmt.Errorf("%w: %d", errs.ErrPeerNotResolved, chatID)}
	}

	m, err := f.byID(ctx, peer, id)

	switch {
	case err == nil:
		return found(m)
	case errs.Is(err, errs.ErrMessageNotFound):
		return Result{Status: StatusNotFound, Err: err}
	default:
		return Result{Status: StatusFailed, Err: err}
	}
}

func (f *Fetcher) byID(ctx context.Context, peer peers.Peer, id int) (*tg.Message, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: id}}

	var res tg.MessagesMessagesClass

	err := f.flood.Retry(ctx, "fetch_by_id", func(ctx context.Context) error {
		var err error

		if ch, ok := peer.InputChannel(); ok {
			res, err = f.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{Channel: ch, ID: ids})
		} else {
			res, err = f.api.MessagesGetMessages(ctx, ids)
		}

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}

	return f.pick(res, id)
}

func (f *Fetcher) fromHistory(ctx context.Context, peer peers.Peer, id int) (*tg.Message, error) {
	var res tg.MessagesMessagesClass

	err := f.flood.Retry(ctx, "fetch_history", func(ctx context.Context) error {
		var err error

		res, err = f.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer.Input,
			OffsetID: id + 1,
			Limit:    1,
		})

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get history around %d: %w", id, err)
	}

	return f.pick(res, id)
}

func (f *Fetcher) pick(res tg.MessagesMessagesClass, id int) (*tg.Message, error) {
	if _, notModified := res.(*tg.MessagesMessagesNotModified); notModified {
		return nil, fmt.Errorf("%w: messages not modified", errs.ErrUnexpectedType)
	}

	msgs, chats, users := Unpack(res)

	if cache := f.peers.Cache(); cache != nil {
		cache.PutChats(chats)
		cache.PutUsers(users)
	}

	for _, m := range msgs {
		if msg, ok := m.(*tg.Message); ok && msg.ID == id {
			return msg, nil
		}
	}

	return nil, fmt.Errorf("%w: id %d", errs.ErrMessageNotFound, id)
}

// Unpack flattens any messages.Messages variant.
func Unpack(res tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.ChatClass, []tg.UserClass) {
	switch v := res.(type) {
	case *tg.MessagesMessages:
		return v.Messages, v.Chats, v.Users
	case *tg.MessagesMessagesSlice:
		return v.Messages, v.Chats, v.Users
	case *tg.MessagesChannelMessages:
		return v.Messages, v.Chats, v.Users
	default:
		return nil, nil, nil
	}
}
