package textfilter

import (
	"unicode/utf16"

	"github.com/gotd/td/tg"
)

type span struct {
	offset int
	length int
}

// ApplyFormatted runs the rules like Apply and carries the formatting
// entities across every replacement. Offsets are in UTF-16 code units.
// An entity that covers a whole match grows or shrinks with it, an entity
// cut by a match is dropped, and text link targets are filtered too.
// The boolean reports whether the text or any link target changed.
func ApplyFormatted(text string, entities []tg.MessageEntityClass, rules Rules) (string, []tg.MessageEntityClass, bool) {
	spans := make([]span, len(entities))
	keep := make([]bool, len(entities))

	for i, ent := range entities {
		spans[i] = span{offset: ent.GetOffset(), length: ent.GetLength()}
		keep[i] = true
	}

	out := text

	for _, key := range orderedKeys(rules) {
		re, err := compile(key)
		if err != nil {
			continue
		}

		matches := re.FindAllStringIndex(out, -1)
		if len(matches) == 0 {
			continue
		}

		replLen := utf16Len(rules[key])

		// Right to left, so earlier matches keep their positions.
		for j := len(matches) - 1; j >= 0; j-- {
			start := utf16Len(out[:matches[j][0]])
			end := start + utf16Len(out[matches[j][0]:matches[j][1]])

			for i := range spans {
				if keep[i] {
					spans[i], keep[i] = shift(spans[i], start, end, replLen)
				}
			}
		}

		out = re.ReplaceAllLiteralString(out, rules[key])
	}

	changed := out != text
	remapped := make([]tg.MessageEntityClass, 0, len(entities))

	for i, ent := range entities {
		if link, ok := ent.(*tg.MessageEntityTextURL); ok && Apply(link.URL, rules) != link.URL {
			changed = true
		}

		if !keep[i] {
			continue
		}

		if c, ok := withSpan(ent, spans[i], rules); ok {
			remapped = append(remapped, c)
		}
	}

	if !changed {
		return text, entities, false
	}

	return out, remapped, true
}

func shift(s span, start, end, replLen int) (span, bool) {
	delta := replLen - (end - start)

	switch {
	case s.offset+s.length <= start:
		return s, true
	case s.offset >= end:
		s.offset += delta
		return s, true
	case s.offset <= start && s.offset+s.length >= end:
		s.length += delta
		return s, s.length > 0
	default:
		return s, false
	}
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}

	return n
}

// withSpan returns a copy of ent placed at s. Entity kinds it does not know
// are dropped.
func withSpan(ent tg.MessageEntityClass, s span, rules Rules) (tg.MessageEntityClass, bool) {
	switch v := ent.(type) {
	case *tg.MessageEntityBold:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityItalic:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityUnderline:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityStrike:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntitySpoiler:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityCode:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityPre:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityBlockquote:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityTextURL:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		c.URL = Apply(v.URL, rules)
		return &c, true
	case *tg.MessageEntityURL:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityMention:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityMentionName:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.InputMessageEntityMentionName:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityHashtag:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityCashtag:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityBotCommand:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityEmail:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityPhone:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityBankCard:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	case *tg.MessageEntityCustomEmoji:
		c := *v
		c.Offset, c.Length = s.offset, s.length
		return &c, true
	default:
		return nil, false
	}
}
