package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/peers"
)

const copyUsage = "Usage: /tgprocopy <src_link> <dest_chat_id> [dest_topic_id]"

// handleCopy copies messages of a link into any chat, optionally into one
// of its forum topics. A message that cannot be copied is forwarded with
// the author hidden instead.
func (h *Handler) handleCopy(ctx context.Context, msg Message, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		h.reply(ctx, msg, copyUsage)
		return
	}

	t, err := h.resolveLink(ctx, fields[0])
	if err != nil {
		h.replyError(ctx, msg, CmdCopy, err)
		return
	}

	destID, err := parseChatID(fields[1])
	if err != nil {
		h.replyError(ctx, msg, CmdCopy, err)
		return
	}

	topic := 0
	if len(fields) > 2 {
		if topic, err = strconv.Atoi(fields[2]); err != nil || topic <= 0 {
			h.replyError(ctx, msg, CmdCopy, fmt.Errorf("%w: topic %q", errs.ErrInvalidInput, fields[2]))
			return
		}
	}

	dest, err := h.deps.Resolver.InputPeer(ctx, destID)
	if err != nil {
		h.replyError(ctx, msg, CmdCopy, err)
		return
	}

	source, _ := h.deps.Resolver.Lookup(ctx, t.ChatID)
	copied, failed := 0, 0

	for _, id := range t.IDs {
		if ctx.Err() != nil {
			break
		}

		if err := h.copyOne(ctx, t, source, dest, topic, id); err != nil {
			h.logger.Warn().Err(err).Int("msg_id", id).Int64("dest", destID).Msg("copy failed")
			failed++
		} else {
			copied++
		}

		if err := h.pace(ctx, forwardPaceMin, forwardPaceMax); err != nil {
			break
		}
	}

	h.reply(ctx, msg, fmt.Sprintf("Copied %d, failures %d", copied, failed))
}

func (h *Handler) copyOne(ctx context.Context, t target, source peers.Peer, dest tg.InputPeerClass, topic, id int) error {
	if res := h.deps.Messages.Fetch(ctx, t.ChatID, id); res.Found() {
		text := h.deps.Captions.Extract(ctx, t.ChatID, res.Message)

		_, err := h.deps.Delivery.Copy(ctx, dest, topic, res.Message, text.Text, text.Entities)
		if err == nil {
			return nil
		}

		h.logger.Debug().Err(err).Int("msg_id", id).Msg("copy by reference failed, forwarding")
	}

	if source.Input == nil {
		return fmt.Errorf("message %d: %w", id, errs.ErrPeerNotResolved)
	}

	_, err := h.deps.Delivery.ForwardToTopic(ctx, source.Input, dest, topic, []int{id}, true)

	return err
}
