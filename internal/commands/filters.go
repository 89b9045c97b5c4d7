package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/lueurxax/telegram-backup-bot/internal/fetch"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/worker"
	"github.com/lueurxax/telegram-backup-bot/internal/state"
	"github.com/lueurxax/telegram-backup-bot/internal/textfilter"
)

const (
	previewSamples   = 20
	previewTextLimit = 200

	editPaceMin = 1500 * time.Millisecond
	editPaceMax = 2500 * time.Millisecond
)

func (h *Handler) handleAddFilter(ctx context.Context, msg Message, args string) {
	pattern, replacement, ok := textfilter.ParseArgs(args)
	if !ok {
		h.reply(ctx, msg, `Usage: /addfilter <bad> <replacement>. Use "" as replacement to remove the word.`)
		return
	}

	if err := h.deps.Store.AddFilter(pattern, replacement); err != nil {
		h.replyError(ctx, msg, CmdAddFilter, err)
		return
	}

	h.reply(ctx, msg, fmt.Sprintf("Added filter: %q → %q", pattern, replacement))
}

func (h *Handler) handleListFilters(ctx context.Context, msg Message, _ string) {
	keys := h.deps.Store.FilterKeys()
	if len(keys) == 0 {
		h.reply(ctx, msg, "No filters.")
		return
	}

	rules := h.deps.Store.Filters()

	lines := make([]string, 0, len(keys)+1)
	lines = append(lines, "Filters:")

	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%q → %q", k, rules[k]))
	}

	h.reply(ctx, msg, strings.Join(lines, "\n"))
}

func (h *Handler) handleClearFilters(ctx context.Context, msg Message, _ string) {
	if err := h.deps.Store.ClearFilters(); err != nil {
		h.replyError(ctx, msg, CmdClearFilters, err)
		return
	}

	h.reply(ctx, msg, "All filters cleared.")
}

// handlePreview is a dry run of the edit command. Only messages sent by
// this account can be edited, so others are reported as skipped.
func (h *Handler) handlePreview(ctx context.Context, msg Message, args string) {
	if args == "" {
		h.reply(ctx, msg, "Usage: /tgprofilters <link>")
		return
	}

	t, err := h.resolveLink(ctx, firstArg(args))
	if err != nil {
		h.replyError(ctx, msg, CmdPreview, err)
		return
	}

	rules := h.deps.Store.Filters()
	entries := make([]state.PreviewEntry, 0, len(t.IDs))

	for _, id := range t.IDs {
		if ctx.Err() != nil {
			return
		}

		entries = append(entries, h.previewOne(ctx, t.ChatID, id, rules))
	}

	pending := state.PendingPreview{ChatID: t.ChatID, IDs: t.IDs, Preview: entries}
	if err := h.deps.Store.SavePending(pending); err != nil {
		h.logger.Warn().Err(err).Msg("save pending preview")
	}

	h.reply(ctx, msg, renderPreview(entries))
}

func (h *Handler) previewOne(ctx context.Context, chatID int64, id int, rules textfilter.Rules) state.PreviewEntry {
	entry := state.PreviewEntry{ID: id}

	res := h.deps.Messages.Fetch(ctx, chatID, id)

	switch {
	case res.Status == fetch.StatusNotFound:
		entry.Status = state.PreviewMissing
	case !res.Found():
		entry.Status = state.PreviewError
	case !res.Message.Out:
		entry.Status = state.PreviewSkipNotOwner
	default:
		if out, _, changed := h.filteredText(ctx, chatID, res.Message, rules); changed {
			entry.Status, entry.NewText = state.PreviewWillChange, out
		} else {
			entry.Status = state.PreviewNoChange
		}
	}

	return entry
}

func renderPreview(entries []state.PreviewEntry) string {
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Status]++
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Preview of %d messages: %d will change, %d unchanged, %d not mine, %d missing, %d errors\n",
		len(entries),
		counts[state.PreviewWillChange],
		counts[state.PreviewNoChange],
		counts[state.PreviewSkipNotOwner],
		counts[state.PreviewMissing],
		counts[state.PreviewError])

	for i, e := range entries {
		if i == previewSamples {
			fmt.Fprintf(&b, "… and %d more\n", len(entries)-previewSamples)
			break
		}

		b.WriteString(previewLine(e))
		b.WriteByte('\n')
	}

	b.WriteString("\nConfirm with /tgprofilters_apply or /tgprofilters_apply_cp")

	return b.String()
}

func previewLine(e state.PreviewEntry) string {
	switch e.Status {
	case state.PreviewMissing:
		return fmt.Sprintf("%d — missing", e.ID)
	case state.PreviewSkipNotOwner:
		return fmt.Sprintf("%d — skip (not owner)", e.ID)
	case state.PreviewWillChange:
		text := []rune(e.NewText)
		if len(text) > previewTextLimit {
			text = text[:previewTextLimit]
		}

		return fmt.Sprintf("%d — will change to: %s", e.ID, string(text))
	case state.PreviewNoChange:
		return fmt.Sprintf("%d — no change", e.ID)
	default:
		return fmt.Sprintf("%d — error", e.ID)
	}
}

// handleApplyEdit rewrites captions in place for the messages of a link or
// of the pending preview.
func (h *Handler) handleApplyEdit(ctx context.Context, msg Message, args string) {
	t, err := h.linkOrPending(ctx, firstArg(args))
	if err != nil {
		h.replyError(ctx, msg, CmdApplyEdit, err)
		return
	}

	peer, err := h.deps.Resolver.InputPeer(ctx, t.ChatID)
	if err != nil {
		h.replyError(ctx, msg, CmdApplyEdit, err)
		return
	}

	rules := h.deps.Store.Filters()
	edited := 0

	for _, id := range t.IDs {
		res := h.deps.Messages.Fetch(ctx, t.ChatID, id)
		if !res.Found() || !res.Message.Out {
			continue
		}

		text, entities, changed := h.filteredText(ctx, t.ChatID, res.Message, rules)
		if !changed {
			continue
		}

		if err := h.deps.Delivery.Edit(ctx, peer, res.Message, text, entities); err != nil {
			h.logger.Warn().Err(err).Int("msg_id", id).Msg("edit failed")
		} else {
			edited++
		}

		if err := h.pace(ctx, editPaceMin, editPaceMax); err != nil {
			break
		}
	}

	h.reply(ctx, msg, fmt.Sprintf("Applied edits: %d", edited))
}

// handleApplyCopy reposts the messages to the destination by reference with
// filtered captions.
func (h *Handler) handleApplyCopy(ctx context.Context, msg Message, args string) {
	t, err := h.linkOrPending(ctx, firstArg(args))
	if err != nil {
		h.replyError(ctx, msg, CmdApplyCopy, err)
		return
	}

	dest, err := h.deps.Resolver.InputPeer(ctx, h.deps.Store.Destination())
	if err != nil {
		h.replyError(ctx, msg, CmdApplyCopy, err)
		return
	}

	rules := h.deps.Store.Filters()
	reposted := 0

	for _, id := range t.IDs {
		res := h.deps.Messages.Fetch(ctx, t.ChatID, id)
		if !res.Found() {
			continue
		}

		text, entities, _ := h.filteredText(ctx, t.ChatID, res.Message, rules)

		if _, err := h.deps.Delivery.Copy(ctx, dest, 0, res.Message, text, entities); err != nil {
			h.logger.Warn().Err(err).Int("msg_id", id).Msg("copy failed")
		} else {
			reposted++
		}

		if err := h.pace(ctx, editPaceMin, editPaceMax); err != nil {
			break
		}
	}

	h.reply(ctx, msg, fmt.Sprintf("Reposted (copy) messages: %d", reposted))
}

func (h *Handler) filteredText(ctx context.Context, chatID int64, m *tg.Message, rules textfilter.Rules) (string, []tg.MessageEntityClass, bool) {
	text := h.deps.Captions.Extract(ctx, chatID, m)
	return textfilter.ApplyFormatted(text.Text, text.Entities, rules)
}

func (h *Handler) pace(ctx context.Context, lo, hi time.Duration) error {
	return h.sleep(ctx, worker.Jitter(lo, hi))
}
