package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/lueurxax/telegram-backup-bot/internal/backup"
	"github.com/lueurxax/telegram-backup-bot/internal/media"
)

const maxListedChats = 60

func (h *Handler) handleStart(ctx context.Context, msg Message, _ string) {
	h.reply(ctx, msg, "Userbot online. "+backup.Describe(h.deps.Queue.Status()))
}

func (h *Handler) handleStatus(ctx context.Context, msg Message, _ string) {
	h.reply(ctx, msg, backup.Describe(h.deps.Queue.Status()))
}

func (h *Handler) handleBackup(ctx context.Context, msg Message, args string) {
	if args == "" {
		h.reply(ctx, msg, "Usage: /tgprobackup <link>")
		return
	}

	t, err := h.resolveLink(ctx, firstArg(args))
	if err != nil {
		h.replyError(ctx, msg, CmdBackup, err)
		return
	}

	job, err := backup.NewJob(t.ChatID, t.Title, t.TopicID, t.IDs, msg.ChatID)
	if err != nil {
		h.replyError(ctx, msg, CmdBackup, err)
		return
	}

	pos, err := h.deps.Queue.Submit(job)
	if err != nil {
		h.replyError(ctx, msg, CmdBackup, err)
		return
	}

	text := fmt.Sprintf("Queued %d messages from %s. Position: %d", len(t.IDs), t.label(), pos)
	if t.TopicID != 0 {
		text += fmt.Sprintf(" (topic %d)", t.TopicID)
	}

	h.reply(ctx, msg, text)
}

func (h *Handler) handleStop(ctx context.Context, msg Message, _ string) {
	if h.deps.Queue.Stop() {
		h.reply(ctx, msg, "Stopping after the current message.")
		return
	}

	h.reply(ctx, msg, "No backup is running.")
}

func (h *Handler) handleChats(ctx context.Context, msg Message, _ string) {
	chats, err := h.deps.Resolver.ListChats(ctx, maxListedChats)
	if err != nil {
		h.replyError(ctx, msg, CmdChats, err)
		return
	}

	if len(chats) == 0 {
		h.reply(ctx, msg, "No chats found.")
		return
	}

	lines := make([]string, 0, len(chats))
	for _, c := range chats {
		lines = append(lines, fmt.Sprintf("%s — %d (%s)", c.DisplayTitle(), c.ChatID, c.KindLabel()))
	}

	h.reply(ctx, msg, strings.Join(lines, "\n"))
}

func (h *Handler) handleDebug(ctx context.Context, msg Message, args string) {
	if args == "" {
		h.reply(ctx, msg, "Usage: /tgdebug <link>")
		return
	}

	t, err := h.resolveLink(ctx, firstArg(args))
	if err != nil {
		h.replyError(ctx, msg, CmdDebug, err)
		return
	}

	id := t.IDs[0]

	res := h.deps.Messages.Fetch(ctx, t.ChatID, id)
	if !res.Found() {
		h.reply(ctx, msg, fmt.Sprintf("Message %d in %s: %s", id, t.label(), res.Status))

		return
	}

	m := res.Message
	cls := media.Classify(m, "")
	text := h.deps.Captions.Extract(ctx, t.ChatID, m)

	var b strings.Builder

	fmt.Fprintf(&b, "Chat: %s (%d)\n", t.label(), t.ChatID)
	fmt.Fprintf(&b, "Message: %d\n", m.ID)
	fmt.Fprintf(&b, "Media: %t", media.HasMedia(m))

	if media.HasMedia(m) {
		fmt.Fprintf(&b, " (%s, %s)", cls.Kind, cls.Source)

		if cls.Filename != "" {
			fmt.Fprintf(&b, ", file %q", cls.Filename)
		}
	}

	fmt.Fprintf(&b, "\nText: %d chars from %s\n", len([]rune(text.Text)), orNone(text.Source))
	fmt.Fprintf(&b, "Protected: %t\n", m.Noforwards)

	if topic, ok := h.deps.Messages.Topic(ctx, t.ChatID, m); ok {
		fmt.Fprintf(&b, "Topic: %d", topic)
	} else {
		b.WriteString("Topic: none")
	}

	h.reply(ctx, msg, b.String())
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}

	return s
}
