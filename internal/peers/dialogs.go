package peers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
)

const dialogBatchSize = 100

var errStopScan = errors.New("stop dialog scan")

// DialogScanner walks messages.getDialogs pages.
type DialogScanner struct {
	api *tg.Client
}

func NewDialogScanner(api *tg.Client) *DialogScanner {
	return &DialogScanner{api: api}
}

func (s *DialogScanner) Scan(ctx context.Context, limit int, fn func(Peer) bool) error {
	seen := 0

	err := query.GetDialogs(s.api).BatchSize(dialogBatchSize).ForEach(ctx, func(_ context.Context, elem dialogs.Elem) error {
		if limit > 0 && seen >= limit {
			return errStopScan
		}

		seen++

		p, ok := peerFromElem(elem)
		if !ok {
			return nil
		}

		if !fn(p) {
			return errStopScan
		}

		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return fmt.Errorf("iterate dialogs: %w", err)
	}

	return nil
}

func peerFromElem(elem dialogs.Elem) (Peer, bool) {
	switch peer := elem.Dialog.GetPeer().(type) {
	case *tg.PeerUser:
		user, ok := elem.Entities.User(peer.UserID)
		if !ok || user == nil {
			return Peer{}, false
		}

		return FromUser(user)
	case *tg.PeerChat:
		chat, ok := elem.Entities.Chat(peer.ChatID)
		if !ok || chat == nil {
			return Peer{}, false
		}

		return FromChat(chat)
	case *tg.PeerChannel:
		channel, ok := elem.Entities.Channel(peer.ChannelID)
		if !ok || channel == nil {
			return Peer{}, false
		}

		return FromChat(channel)
	}

	return Peer{}, false
}
