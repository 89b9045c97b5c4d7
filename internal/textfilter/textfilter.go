// Package textfilter rewrites text with literal, case-insensitive
// substitution rules.
package textfilter

import (
	"regexp"
	"sort"
	"strings"
)

// Rules maps a literal pattern to its replacement. An empty replacement
// deletes the match.
type Rules map[string]string

// Apply runs every rule once over the accumulated text, longest pattern
// first, so a short rule never fragments a longer one. Ties are broken by
// pattern order to keep the result deterministic.
func Apply(text string, rules Rules) string {
	if text == "" {
		return ""
	}

	for _, key := range orderedKeys(rules) {
		re, err := compile(key)
		if err != nil {
			continue
		}

		text = re.ReplaceAllLiteralString(text, rules[key])
	}

	return text
}

func compile(key string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + regexp.QuoteMeta(key))
}

func orderedKeys(rules Rules) []string {
	keys := make([]string, 0, len(rules))

	for k := range rules {
		if k == "" {
			continue
		}

		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		li, lj := len([]rune(keys[i])), len([]rune(keys[j]))
		if li != lj {
			return li > lj
		}

		return keys[i] < keys[j]
	})

	return keys
}

// ParseArgs splits the argument string of an add-filter command into the
// pattern (first token) and the replacement (remaining tokens joined by a
// space). Quoted tokens keep their spaces, and an empty quoted string stands
// for an empty replacement.
func ParseArgs(args string) (pattern, replacement string, ok bool) {
	tokens := tokenize(args)
	if len(tokens) < 2 || tokens[0] == "" {
		return "", "", false
	}

	return tokens[0], strings.Join(tokens[1:], " "), true
}

func tokenize(s string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quote  rune
		inTok  bool
	)

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}

			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inTok = true
		case r == ' ' || r == '\t' || r == '\n':
			if inTok {
				tokens = append(tokens, cur.String())
				cur.Reset()

				inTok = false
			}
		default:
			cur.WriteRune(r)

			inTok = true
		}
	}

	if inTok {
		tokens = append(tokens, cur.String())
	}

	return tokens
}
