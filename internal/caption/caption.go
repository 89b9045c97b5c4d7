// Package caption derives the best-available text of a message.
package caption

import (
	"context"
	"strings"
	"unicode/utf16"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/lueurxax/telegram-backup-bot/internal/fetch"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

const (
	quotePrefix = "> "

	// DefaultMaxDepth bounds how many reply parents are followed.
	DefaultMaxDepth = 3
)

// Text is message text together with its formatting entities. Entities are
// nil when the text was derived and offsets no longer apply.
type Text struct {
	Text     string
	Entities []tg.MessageEntityClass
	Source   string
}

func (t Text) IsEmpty() bool {
	return strings.TrimSpace(t.Text) == ""
}

func (t Text) String() string {
	return t.Text
}

// Plain drops formatting.
func (t Text) Plain() Text {
	return Text{Text: t.Text, Source: t.Source}
}

// MessageSource looks up reply parents.
type MessageSource interface {
	Fetch(ctx context.Context, chatID int64, id int) fetch.Result
}

type Extractor struct {
	source   MessageSource
	maxDepth int
	logger   *zerolog.Logger
}

func NewExtractor(source MessageSource, logger *zerolog.Logger) *Extractor {
	return &Extractor{source: source, maxDepth: DefaultMaxDepth, logger: logger}
}

type stage struct {
	name string
	run  func(ctx context.Context, chatID int64, msg *tg.Message, depth int) Text
}

// Extract returns the caption of a media message or the body of a text
// message, the quoted text of its reply parent, or a quote entity slice, in
// that order. It never fails; the zero Text means nothing was found.
func (e *Extractor) Extract(ctx context.Context, chatID int64, msg *tg.Message) Text {
	return e.extract(ctx, chatID, msg, 0)
}

func (e *Extractor) extract(ctx context.Context, chatID int64, msg *tg.Message, depth int) Text {
	if msg == nil {
		return Text{}
	}

	stages := []stage{
		{name: "caption", run: ownCaption},
		{name: "text", run: ownText},
		{name: "reply_parent", run: e.parentQuote},
		{name: "quote_entity", run: quoteEntities},
	}

	for _, s := range stages {
		out := e.guard(ctx, s, chatID, msg, depth)
		if !out.IsEmpty() {
			out.Source = s.name
			return out
		}
	}

	return Text{}
}

func (e *Extractor) guard(ctx context.Context, s stage, chatID int64, msg *tg.Message, depth int) (out Text) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug().Interface("panic", r).Str("stage", s.name).Int("msg_id", msg.ID).Msg("caption stage panicked")

			out = Text{}
		}
	}()

	return s.run(ctx, chatID, msg, depth)
}

// Telegram stores the caption of a media message and the body of a text
// message in the same field; the stages differ only by media presence.
func ownCaption(_ context.Context, _ int64, msg *tg.Message, _ int) Text {
	if msg.Media == nil {
		return Text{}
	}

	return Text{Text: msg.Message, Entities: msg.Entities}
}

func ownText(_ context.Context, _ int64, msg *tg.Message, _ int) Text {
	if msg.Media != nil {
		return Text{}
	}

	if len(msg.Entities) > 0 {
		return Text{Text: msg.Message, Entities: msg.Entities}
	}

	return Text{Text: msg.Message}
}

func (e *Extractor) parentQuote(ctx context.Context, chatID int64, msg *tg.Message, depth int) Text {
	if e.source == nil || depth >= e.maxDepth {
		return Text{}
	}

	parentChat, parentID, ok := replyParent(chatID, msg)
	if !ok {
		return Text{}
	}

	res := e.source.Fetch(ctx, parentChat, parentID)
	if !res.Found() {
		e.logger.Debug().Err(res.Err).Int64("chat_id", parentChat).Int("msg_id", parentID).Msg("reply parent unavailable")
		return Text{}
	}

	parent := e.extract(ctx, parentChat, res.Message, depth+1)
	if parent.IsEmpty() {
		return Text{}
	}

	return Text{Text: Quote(parent.Text)}
}

// replyParent returns the replied-to message. A message posted at the top
// level of a forum topic points at the topic root, which is not a reply.
func replyParent(chatID int64, msg *tg.Message) (int64, int, bool) {
	header, ok := msg.ReplyTo.(*tg.MessageReplyHeader)
	if !ok || header.ReplyToMsgID == 0 {
		return 0, 0, false
	}

	if header.ForumTopic && header.ReplyToTopID == 0 {
		return 0, 0, false
	}

	if header.ReplyToPeerID != nil {
		if id := tgutil.PeerChatID(header.ReplyToPeerID); id != 0 {
			chatID = id
		}
	}

	return chatID, header.ReplyToMsgID, true
}

func quoteEntities(_ context.Context, _ int64, msg *tg.Message, _ int) Text {
	if header, ok := msg.ReplyTo.(*tg.MessageReplyHeader); ok && header.QuoteText != "" {
		return Text{Text: header.QuoteText, Entities: header.QuoteEntities}
	}

	var parts []string

	for _, ent := range msg.Entities {
		if _, ok := ent.(*tg.MessageEntityBlockquote); !ok {
			continue
		}

		part := SliceUTF16(msg.Message, ent.GetOffset(), ent.GetLength())
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}

	return Text{Text: strings.Join(parts, "\n")}
}

// Quote prefixes every line with "> ".
func Quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = quotePrefix + line
	}

	return strings.Join(lines, "\n")
}

// SliceUTF16 cuts s at entity coordinates, which count UTF-16 code units.
// Out-of-range bounds are clamped.
func SliceUTF16(s string, offset, length int) string {
	units := utf16.Encode([]rune(s))

	if offset < 0 {
		offset = 0
	}

	if offset >= len(units) || length <= 0 {
		return ""
	}

	end := offset + length
	if end > len(units) {
		end = len(units)
	}

	return string(utf16.Decode(units[offset:end]))
}
