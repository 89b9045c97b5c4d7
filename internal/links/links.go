// Package links parses Telegram chat and message links into chat references
// and message id sets.
//
// Supported forms:
//
//	https://t.me/c/<internal>[/<topic>]/<ids>
//	t.me/<username>[/<topic>]/<ids>
//	c/<internal>/<ids>
//
// where <ids> is a comma separated list of ids and inclusive ranges ("5,7-9").
package links

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
)

// Kind distinguishes private (internal id) links from public username links.
type Kind int

const (
	KindInternal Kind = iota + 1
	KindUsername
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindUsername:
		return "username"
	default:
		return "unknown"
	}
}

const (
	privateSegment = "c/"
	channelPrefix  = "-100"

	// MaxRangeSpan bounds a single a-b range; wider ranges are dropped.
	MaxRangeSpan = 100_000
)

var hostPrefixes = []string{
	"www.t.me/",
	"t.me/",
	"www.telegram.me/",
	"telegram.me/",
	"telegram.dog/",
}

// ChatReference is the syntactic breakdown of a link. Topic and MsgPart are
// empty when absent.
type ChatReference struct {
	Kind    Kind
	Root    string
	Topic   string
	MsgPart string
}

// MessageIDSet is a deduplicated ascending list of positive message ids.
type MessageIDSet []int

// Target is a fully parsed link ready for peer resolution.
type Target struct {
	Ref ChatReference
	// ChatID is set for internal links. Username links carry Username instead.
	ChatID   int64
	Username string
	// TopicID is 0 when no topic filter applies.
	TopicID int
	IDs     MessageIDSet
}

// ParseReference strips scheme and host prefixes and splits the remaining path.
func ParseReference(raw string) (ChatReference, error) {
	l := strings.TrimSpace(raw)
	if l == "" {
		return ChatReference{}, fmt.Errorf("%w: empty input", errs.ErrUnparseableLink)
	}

	if _, after, ok := strings.Cut(l, "://"); ok {
		l = after
	}

	l = stripHost(l)

	if i := strings.IndexAny(l, "?#"); i >= 0 {
		l = l[:i]
	}

	l = strings.Trim(l, "/")

	if after, ok := privatePath(l); ok {
		return splitPath(KindInternal, after)
	}

	return splitPath(KindUsername, l)
}

func stripHost(l string) string {
	lower := strings.ToLower(l)

	for _, prefix := range hostPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return l[len(prefix):]
		}
	}

	return l
}

func privatePath(l string) (string, bool) {
	if strings.HasPrefix(l, privateSegment) {
		return l[len(privateSegment):], true
	}

	if _, after, ok := strings.Cut(l, "/"+privateSegment); ok {
		return after, true
	}

	return "", false
}

func splitPath(kind Kind, path string) (ChatReference, error) {
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		return ChatReference{}, fmt.Errorf("%w: missing chat segment", errs.ErrUnparseableLink)
	}

	ref := ChatReference{Kind: kind, Root: parts[0]}

	switch {
	case len(parts) == 1:
		// A bare username is not a link to anything we can back up.
		if kind == KindUsername {
			return ChatReference{}, fmt.Errorf("%w: username without message part", errs.ErrUnparseableLink)
		}
	case len(parts) == 2:
		ref.MsgPart = parts[1]
	default:
		ref.Topic = parts[1]
		ref.MsgPart = strings.Join(parts[2:], "/")
	}

	if kind == KindInternal && !isDigits(ref.Root) {
		return ChatReference{}, fmt.Errorf("%w: internal id %q is not numeric", errs.ErrUnparseableLink, ref.Root)
	}

	return ref, nil
}

// ParseIDs splits the id field on commas. Each piece is a bare id or an
// inclusive a-b range in either order. Non-numeric pieces are dropped.
func ParseIDs(field string) MessageIDSet {
	seen := make(map[int]struct{})

	for _, piece := range strings.Split(field, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}

		if a, b, ok := strings.Cut(piece, "-"); ok {
			lo, errA := parseID(a)
			hi, errB := parseID(b)

			if errA != nil || errB != nil {
				continue
			}

			if lo > hi {
				lo, hi = hi, lo
			}

			if hi-lo >= MaxRangeSpan {
				continue
			}

			for id := lo; id <= hi; id++ {
				seen[id] = struct{}{}
			}

			continue
		}

		if id, err := parseID(piece); err == nil {
			seen[id] = struct{}{}
		}
	}

	out := make(MessageIDSet, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}

	slices.Sort(out)

	return out
}

func parseID(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !isDigits(s) {
		return 0, errs.ErrInvalidID
	}

	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", s, err)
	}

	if id <= 0 {
		return 0, errs.ErrInvalidID
	}

	return id, nil
}

// Resolve parses a link into a Target. It fails with ErrUnparseableLink or
// ErrNoIDs.
//
// A two-segment link ("c/<id>/<x>") always treats <x> as the id field: a
// numeric second segment is never taken as a topic. Topics come only from
// three or more segments.
func Resolve(raw string) (Target, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return Target{}, err
	}

	t := Target{Ref: ref}

	switch ref.Kind {
	case KindInternal:
		chatID, err := strconv.ParseInt(channelPrefix+ref.Root, 10, 64)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %w", errs.ErrUnparseableLink, err)
		}

		t.ChatID = chatID
	case KindUsername:
		t.Username = strings.TrimPrefix(ref.Root, "@")
	}

	t.TopicID = topicOf(ref)

	// ids always come from the last segment of the message part
	last := ref.MsgPart
	if i := strings.LastIndex(last, "/"); i >= 0 {
		last = last[i+1:]
	}

	t.IDs = ParseIDs(last)
	if len(t.IDs) == 0 {
		return Target{}, fmt.Errorf("%w in %q", errs.ErrNoIDs, raw)
	}

	return t, nil
}

func topicOf(ref ChatReference) int {
	if ref.Topic != "" {
		if id, err := parseID(ref.Topic); err == nil {
			return id
		}

		return 0
	}

	if first, _, ok := strings.Cut(ref.MsgPart, "/"); ok {
		if id, err := parseID(first); err == nil {
			return id
		}
	}

	return 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
