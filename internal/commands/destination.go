package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/delivery"
	"github.com/lueurxax/telegram-backup-bot/internal/media"
	"github.com/lueurxax/telegram-backup-bot/internal/peers"
)

const (
	forwardPaceMin = time.Second
	forwardPaceMax = 2 * time.Second

	probeText = "Destination check"
)

func (h *Handler) handleSetDestination(ctx context.Context, msg Message, args string) {
	if args == "" {
		h.reply(ctx, msg, fmt.Sprintf("Current destination: %d\nUsage: /setdestination <chat_id>", h.deps.Store.Destination()))
		return
	}

	chatID, err := parseChatID(firstArg(args))
	if err != nil {
		h.replyError(ctx, msg, CmdSetDestination, err)
		return
	}

	if err := h.probeDestination(ctx, chatID); err != nil {
		h.replyError(ctx, msg, CmdSetDestination, err)
		return
	}

	if err := h.deps.Store.SetDestination(chatID); err != nil {
		h.replyError(ctx, msg, CmdSetDestination, err)
		return
	}

	h.reply(ctx, msg, fmt.Sprintf("Destination set to %d", chatID))
}

// probeDestination posts and removes a short message to prove the chat is
// writable.
func (h *Handler) probeDestination(ctx context.Context, chatID int64) error {
	h.deps.Resolver.Ensure(ctx, chatID)

	peer, err := h.deps.Resolver.InputPeer(ctx, chatID)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrDestinationNotWritable, err)
	}

	out, err := h.deps.Delivery.SendText(ctx, peer, probeText)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrDestinationNotWritable, err)
	}

	if out.MessageID != 0 {
		if err := h.deps.Messenger.Delete(ctx, chatID, out.MessageID); err != nil {
			h.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("probe message not deleted")
		}
	}

	return nil
}

// handleForward copies messages to the destination without the forward
// header. Protected messages are downloaded and re-uploaded.
func (h *Handler) handleForward(ctx context.Context, msg Message, args string) {
	if args == "" {
		h.reply(ctx, msg, "Usage: /tgproforward <link>")
		return
	}

	t, err := h.resolveLink(ctx, firstArg(args))
	if err != nil {
		h.replyError(ctx, msg, CmdForward, err)
		return
	}

	dest, err := h.deps.Resolver.InputPeer(ctx, h.deps.Store.Destination())
	if err != nil {
		h.replyError(ctx, msg, CmdForward, err)
		return
	}

	source, _ := h.deps.Resolver.Lookup(ctx, t.ChatID)
	forwarded, failed := 0, 0

	for _, id := range t.IDs {
		if ctx.Err() != nil {
			break
		}

		if err := h.forwardOne(ctx, t, source, dest, id); err != nil {
			h.logger.Warn().Err(err).Int("msg_id", id).Msg("forward failed")
			failed++
		} else {
			forwarded++
		}

		if err := h.pace(ctx, forwardPaceMin, forwardPaceMax); err != nil {
			break
		}
	}

	h.reply(ctx, msg, fmt.Sprintf("Forwarded %d, failures %d", forwarded, failed))
}

func (h *Handler) forwardOne(ctx context.Context, t target, source peers.Peer, dest tg.InputPeerClass, id int) error {
	res := h.deps.Messages.Fetch(ctx, t.ChatID, id)
	if !res.Found() {
		return fmt.Errorf("message %d: %w", id, errs.ErrMessageNotFound)
	}

	m := res.Message
	text := h.deps.Captions.Extract(ctx, t.ChatID, m)

	if !m.Noforwards && !source.Protected {
		_, err := h.deps.Delivery.Copy(ctx, dest, 0, m, text.Text, text.Entities)
		return err
	}

	item := delivery.Item{
		SourceChat:  t.ChatID,
		SourceTitle: t.label(),
		SourcePeer:  source.Input,
		Message:     m,
		Text:        text.Text,
		Entities:    text.Entities,
	}

	if media.HasMedia(m) {
		dl := h.deps.Downloads.Fetch(ctx, t.ChatID, m, media.FilenameHint(m, t.ChatID))
		if dl.OK() {
			cls := media.Classify(m, dl.Path)
			item.Path, item.Kind, item.MIMEType = dl.Path, cls.Kind, cls.MIMEType

			if cls.Filename != "" {
				item.Filename = media.SanitizeFilename(cls.Filename)
			}
		}
	}

	_, err := h.deps.Delivery.Deliver(ctx, dest, item)

	return err
}

func (h *Handler) handleWatermark(ctx context.Context, msg Message, args string) {
	switch strings.ToLower(firstArg(args)) {
	case "on":
		if err := h.deps.Store.SetWatermark(true); err != nil {
			h.replyError(ctx, msg, CmdWatermark, err)
			return
		}

		h.reply(ctx, msg, "Video watermark enabled.")
	case "off":
		if err := h.deps.Store.SetWatermark(false); err != nil {
			h.replyError(ctx, msg, CmdWatermark, err)
			return
		}

		h.reply(ctx, msg, "Video watermark disabled.")
	default:
		state := "off"
		if h.deps.Store.Watermark() {
			state = "on"
		}

		h.reply(ctx, msg, fmt.Sprintf("Video watermark is %s. Usage: /watermark on|off", state))
	}
}
