package commands

import (
	"context"
	"fmt"
	"strconv"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/links"
)

// target is a link resolved to an addressable chat.
type target struct {
	ChatID  int64
	Title   string
	TopicID int
	IDs     links.MessageIDSet
}

func (h *Handler) resolveLink(ctx context.Context, raw string) (target, error) {
	t, err := links.Resolve(raw)
	if err != nil {
		return target{}, err
	}

	out := target{ChatID: t.ChatID, TopicID: t.TopicID, IDs: t.IDs}

	if t.Username != "" {
		peer, err := h.deps.Resolver.ResolveUsername(ctx, t.Username)
		if err != nil {
			return target{}, fmt.Errorf("resolve @%s: %w", t.Username, err)
		}

		out.ChatID = peer.ChatID
		out.Title = peer.DisplayTitle()

		return out, nil
	}

	// best effort: a cold session still gets a chance at fetch time
	h.deps.Resolver.Ensure(ctx, out.ChatID)

	if peer, ok := h.deps.Resolver.Lookup(ctx, out.ChatID); ok {
		out.Title = peer.DisplayTitle()
	}

	return out, nil
}

// linkOrPending resolves args as a link, or loads the pending preview when
// args is empty.
func (h *Handler) linkOrPending(ctx context.Context, args string) (target, error) {
	if args != "" {
		return h.resolveLink(ctx, args)
	}

	p, err := h.deps.Store.LoadPending()
	if err != nil {
		return target{}, err
	}

	h.deps.Resolver.Ensure(ctx, p.ChatID)

	return target{ChatID: p.ChatID, IDs: links.MessageIDSet(p.IDs)}, nil
}

func (t target) label() string {
	if t.Title != "" {
		return t.Title
	}

	return strconv.FormatInt(t.ChatID, 10)
}

func firstArg(args string) string {
	for i, r := range args {
		if r == ' ' || r == '\n' || r == '\t' {
			return args[:i]
		}
	}

	return args
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", errs.ErrInvalidID, s)
	}

	return id, nil
}
