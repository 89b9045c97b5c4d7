package delivery

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

// Copy resends msg to dest by reference to its existing photo or document,
// without downloading, with text as the new caption. Text-only messages
// are sent as new text messages. A non-zero topic posts into that forum
// topic of dest.
func (e *Engine) Copy(ctx context.Context, dest tg.InputPeerClass, topic int, msg *tg.Message, text string, entities []tg.MessageEntityClass) (Outcome, error) {
	if msg == nil {
		return Outcome{}, errs.ErrMessageNotFound
	}

	text, entities = fitCaption(text, entities)

	input, ok := referenceMedia(msg)
	if !ok {
		if isBlank(text) {
			return Outcome{}, fmt.Errorf("copy %d: %w", msg.ID, errs.ErrNoMedia)
		}

		return e.sendText(ctx, dest, topic, RouteCopy, text, entities)
	}

	return e.sendMedia(ctx, dest, topic, RouteCopy, input, text, entities)
}

// Edit replaces the caption (or text) of an existing message in place.
func (e *Engine) Edit(ctx context.Context, peer tg.InputPeerClass, msg *tg.Message, text string, entities []tg.MessageEntityClass) error {
	if msg == nil {
		return errs.ErrMessageNotFound
	}

	_, err := e.send(ctx, RouteEdit, func(ctx context.Context) (tg.UpdatesClass, error) {
		return e.api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
			Peer:     peer,
			ID:       msg.ID,
			Message:  text,
			Entities: entities,
		})
	})

	return err
}

// Forward forwards ids from one chat to dest. With dropAuthor the copies do
// not show the original sender.
func (e *Engine) Forward(ctx context.Context, from, dest tg.InputPeerClass, ids []int, dropAuthor bool) (Outcome, error) {
	return e.ForwardToTopic(ctx, from, dest, 0, ids, dropAuthor)
}

// ForwardToTopic is Forward into a forum topic of dest.
func (e *Engine) ForwardToTopic(ctx context.Context, from, dest tg.InputPeerClass, topic int, ids []int, dropAuthor bool) (Outcome, error) {
	randomIDs := make([]int64, len(ids))
	for i := range randomIDs {
		randomIDs[i] = tgutil.RandomID()
	}

	return e.send(ctx, RouteForward, func(ctx context.Context) (tg.UpdatesClass, error) {
		return e.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer:   from,
			ToPeer:     dest,
			ID:         ids,
			RandomID:   randomIDs,
			DropAuthor: dropAuthor,
			TopMsgID:   topic,
		})
	})
}

// SendText posts a plain message, used for status replies and probes.
func (e *Engine) SendText(ctx context.Context, dest tg.InputPeerClass, text string) (Outcome, error) {
	return e.sendText(ctx, dest, 0, RouteText, text, nil)
}

func referenceMedia(msg *tg.Message) (tg.InputMediaClass, bool) {
	switch m := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, false
		}

		return &tg.InputMediaPhoto{ID: &tg.InputPhoto{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
		}}, true
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, false
		}

		return &tg.InputMediaDocument{ID: &tg.InputDocument{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}}, true
	default:
		return nil, false
	}
}
