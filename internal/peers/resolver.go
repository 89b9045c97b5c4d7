package peers

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/core/fallback"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/observability"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

const (
	stageDirect      = "direct"
	stageDialogs     = "dialogs"
	stageFullChannel = "full_channel"

	defaultScanLimit = 2000
)

// API is the subset of the Telegram API the resolver calls.
type API interface {
	ChannelsGetChannels(ctx context.Context, id []tg.InputChannelClass) (tg.MessagesChatsClass, error)
	MessagesGetChats(ctx context.Context, id []int64) (tg.MessagesChatsClass, error)
	ChannelsGetFullChannel(ctx context.Context, channel tg.InputChannelClass) (*tg.MessagesChatFull, error)
	ContactsResolveUsername(ctx context.Context, request *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
}

// Dialogs enumerates the session's chats. fn returns false to stop early.
type Dialogs interface {
	Scan(ctx context.Context, limit int, fn func(Peer) bool) error
}

type Resolver struct {
	api       API
	dialogs   Dialogs
	cache     *Cache
	flood     tgutil.FloodSleeper
	scanLimit int
	logger    *zerolog.Logger
}

func NewResolver(api API, dialogs Dialogs, cache *Cache, flood tgutil.FloodSleeper, scanLimit int, logger *zerolog.Logger) *Resolver {
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}

	return &Resolver{
		api:       api,
		dialogs:   dialogs,
		cache:     cache,
		flood:     flood,
		scanLimit: scanLimit,
		logger:    logger,
	}
}

// Cache exposes the peer cache to collaborators that learn peers on their own.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Ensure warms the session for chatID in escalating stages and reports
// whether the chat is now addressable. It never fails loudly; callers must
// tolerate false.
func (r *Resolver) Ensure(ctx context.Context, chatID int64) bool {
	if _, ok := r.cache.Get(chatID); ok {
		return true
	}

	chain := fallback.New("ensure_peer", r.logger,
		fallback.Stage[struct{}]{Name: stageDirect, Run: r.stage(chatID, r.direct)},
		fallback.Stage[struct{}]{Name: stageDialogs, Run: r.stage(chatID, r.scanFor)},
		fallback.Stage[struct{}]{Name: stageFullChannel, Run: r.stage(chatID, r.fullChannel)},
	).Observe(func(stage string, err error) {
		observability.PeerResolutions.WithLabelValues(stage, observability.ResultLabel(err)).Inc()
	})

	res, err := chain.Run(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("peer could not be resolved")
		return false
	}

	r.logger.Debug().Int64("chat_id", chatID).Str("stage", res.Stage).Msg("peer resolved")

	return true
}

// Lookup ensures and returns the cached peer.
func (r *Resolver) Lookup(ctx context.Context, chatID int64) (Peer, bool) {
	if !r.Ensure(ctx, chatID) {
		return Peer{}, false
	}

	return r.cache.Get(chatID)
}

// InputPeer returns an addressable peer or ErrPeerNotResolved.
func (r *Resolver) InputPeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	p, ok := r.Lookup(ctx, chatID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrPeerNotResolved, chatID)
	}

	return p.Input, nil
}

// ResolveUsername resolves a public username and caches everything returned.
func (r *Resolver) ResolveUsername(ctx context.Context, username string) (Peer, error) {
	if p, ok := r.cache.GetByUsername(username); ok {
		return p, nil
	}

	var res *tg.ContactsResolvedPeer

	err := r.flood.Retry(ctx, "resolve_username", func(ctx context.Context) error {
		var err error

		res, err = r.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})

		return err
	})
	if err != nil {
		return Peer{}, fmt.Errorf("resolve username %s: %w", username, err)
	}

	r.cache.PutChats(res.Chats)
	r.cache.PutUsers(res.Users)

	p, ok := r.cache.Get(tgutil.PeerChatID(res.Peer))
	if !ok {
		return Peer{}, fmt.Errorf("%w: %s", errs.ErrChannelNotFound, username)
	}

	return p, nil
}

// ListChats scans dialogs and returns up to limit channels and groups.
func (r *Resolver) ListChats(ctx context.Context, limit int) ([]Peer, error) {
	var out []Peer

	err := r.dialogs.Scan(ctx, r.scanLimit, func(p Peer) bool {
		r.cache.Put(p)

		if p.Kind == tgutil.KindUser {
			return true
		}

		out = append(out, p)

		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return out, fmt.Errorf("scan dialogs: %w", err)
	}

	return out, nil
}

// Warm loads the dialog list into the cache. Used once at startup.
func (r *Resolver) Warm(ctx context.Context) (int, error) {
	n := 0

	err := r.dialogs.Scan(ctx, r.scanLimit, func(p Peer) bool {
		r.cache.Put(p)
		n++

		return true
	})
	if err != nil {
		return n, fmt.Errorf("warm dialogs: %w", err)
	}

	return n, nil
}

func (r *Resolver) stage(chatID int64, fn func(ctx context.Context, chatID int64) error) func(ctx context.Context) (struct{}, error) {
	return func(ctx context.Context) (struct{}, error) {
		if err := fn(ctx, chatID); err != nil {
			return struct{}{}, err
		}

		if _, ok := r.cache.Get(chatID); !ok {
			return struct{}{}, fmt.Errorf("%w: %d", errs.ErrPeerNotResolved, chatID)
		}

		return struct{}{}, nil
	}
}

func (r *Resolver) direct(ctx context.Context, chatID int64) error {
	switch tgutil.KindOf(chatID) {
	case tgutil.KindChannel:
		channelID, _ := tgutil.ChannelIDOf(chatID)

		return r.flood.Retry(ctx, stageDirect, func(ctx context.Context) error {
			res, err := r.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
				&tg.InputChannel{ChannelID: channelID, AccessHash: 0},
			})
			if err != nil {
				return fmt.Errorf("channels.getChannels: %w", err)
			}

			r.putChatsResult(res)

			return nil
		})
	case tgutil.KindBasicGroup:
		groupID, _ := tgutil.BasicGroupIDOf(chatID)

		return r.flood.Retry(ctx, stageDirect, func(ctx context.Context) error {
			res, err := r.api.MessagesGetChats(ctx, []int64{groupID})
			if err != nil {
				return fmt.Errorf("messages.getChats: %w", err)
			}

			r.putChatsResult(res)

			return nil
		})
	default:
		return fmt.Errorf("%w: users need an access hash", errs.ErrPeerNotResolved)
	}
}

func (r *Resolver) scanFor(ctx context.Context, chatID int64) error {
	found := false

	err := r.dialogs.Scan(ctx, r.scanLimit, func(p Peer) bool {
		r.cache.Put(p)

		if p.ChatID == chatID {
			found = true
		}

		return !found
	})
	if err != nil {
		return fmt.Errorf("scan dialogs: %w", err)
	}

	if !found {
		return fmt.Errorf("%w: %d not among first %d dialogs", errs.ErrPeerNotResolved, chatID, r.scanLimit)
	}

	return nil
}

func (r *Resolver) fullChannel(ctx context.Context, chatID int64) error {
	channelID, ok := tgutil.ChannelIDOf(chatID)
	if !ok {
		return fmt.Errorf("%w: full fetch only applies to channels", errs.ErrPeerNotResolved)
	}

	return r.flood.Retry(ctx, stageFullChannel, func(ctx context.Context) error {
		full, err := r.api.ChannelsGetFullChannel(ctx, &tg.InputChannel{ChannelID: channelID, AccessHash: 0})
		if err != nil {
			return fmt.Errorf("channels.getFullChannel: %w", err)
		}

		r.cache.PutChats(full.Chats)
		r.cache.PutUsers(full.Users)

		return nil
	})
}

func (r *Resolver) putChatsResult(res tg.MessagesChatsClass) {
	switch v := res.(type) {
	case *tg.MessagesChats:
		r.cache.PutChats(v.Chats)
	case *tg.MessagesChatsSlice:
		r.cache.PutChats(v.Chats)
	}
}
