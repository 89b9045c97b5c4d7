package textfilter

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		rules Rules
		want  string
	}{
		{name: "longest key first", text: "aabb", rules: Rules{"a": "X", "aa": "Y"}, want: "Ybb"},
		{name: "case insensitive", text: "Join @OldChannel now", rules: Rules{"@oldchannel": "@new"}, want: "Join @new now"},
		{name: "deletion", text: "promo text here", rules: Rules{" text": ""}, want: "promo here"},
		{name: "regex metacharacters", text: "price (1.5$)", rules: Rules{"(1.5$)": "[x]"}, want: "price [x]"},
		{name: "replacement not expanded", text: "abc", rules: Rules{"b": "$0"}, want: "a$0c"},
		{name: "empty key ignored", text: "abc", rules: Rules{"": "zzz"}, want: "abc"},
		{name: "empty text", text: "", rules: Rules{"a": "b"}, want: ""},
		{name: "all occurrences", text: "x-x-x", rules: Rules{"x": "y"}, want: "y-y-y"},
		{name: "unicode", text: "Привет мир", rules: Rules{"МИР": "world"}, want: "Привет world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Apply(tt.text, tt.rules))
		})
	}
}

func TestApply_EmptyRulesIsIdentity(t *testing.T) {
	for _, text := range []string{"plain", "  spaced  ", "multi\nline", "символы", "(.*)"} {
		assert.Equal(t, text, Apply(text, Rules{}))
		assert.Equal(t, text, Apply(text, nil))
	}
}

func TestApply_TieBreakDeterministic(t *testing.T) {
	rules := Rules{"ab": "1", "bc": "2"}

	for range 20 {
		assert.Equal(t, "1c", Apply("abc", rules))
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		pattern string
		repl    string
		ok      bool
	}{
		{name: "two words", args: "bad good", pattern: "bad", repl: "good", ok: true},
		{name: "empty double quotes", args: `@spam ""`, pattern: "@spam", repl: "", ok: true},
		{name: "empty single quotes", args: "@spam ''", pattern: "@spam", repl: "", ok: true},
		{name: "quoted with spaces", args: `"join us" "follow me"`, pattern: "join us", repl: "follow me", ok: true},
		{name: "one token", args: "bad", ok: false},
		{name: "replacement is the rest", args: "a b c", pattern: "a", repl: "b c", ok: true},
		{name: "empty pattern", args: `"" x`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern, repl, ok := ParseArgs(tt.args)
			assert.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.Equal(t, tt.pattern, pattern)
				assert.Equal(t, tt.repl, repl)
			}
		})
	}
}

func TestApplyFormatted(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		entities []tg.MessageEntityClass
		rules    Rules
		wantText string
		want     []tg.MessageEntityClass
	}{
		{
			name: "entities after a longer replacement shift right",
			text: "post about @old here",
			entities: []tg.MessageEntityClass{
				&tg.MessageEntityBold{Offset: 0, Length: 4},
				&tg.MessageEntityTextURL{Offset: 11, Length: 4, URL: "https://t.me/old"},
				&tg.MessageEntityItalic{Offset: 16, Length: 4},
			},
			rules:    Rules{"@old": "@fresh"},
			wantText: "post about @fresh here",
			want: []tg.MessageEntityClass{
				&tg.MessageEntityBold{Offset: 0, Length: 4},
				&tg.MessageEntityTextURL{Offset: 11, Length: 6, URL: "https://t.me/old"},
				&tg.MessageEntityItalic{Offset: 18, Length: 4},
			},
		},
		{
			name: "enclosing entity shrinks on deletion",
			text: "read this promo now",
			entities: []tg.MessageEntityClass{
				&tg.MessageEntityBold{Offset: 0, Length: 19},
				&tg.MessageEntityItalic{Offset: 15, Length: 3},
			},
			rules:    Rules{" promo": ""},
			wantText: "read this now",
			want: []tg.MessageEntityClass{
				&tg.MessageEntityBold{Offset: 0, Length: 13},
				&tg.MessageEntityItalic{Offset: 9, Length: 3},
			},
		},
		{
			name: "entity cut by a match is dropped",
			text: "hello world",
			entities: []tg.MessageEntityClass{
				&tg.MessageEntityBold{Offset: 3, Length: 5},
				&tg.MessageEntityCode{Offset: 6, Length: 5},
			},
			rules:    Rules{"hello": "hi"},
			wantText: "hi world",
			want: []tg.MessageEntityClass{
				&tg.MessageEntityCode{Offset: 3, Length: 5},
			},
		},
		{
			name: "fully deleted entity is dropped",
			text: "a @spam b",
			entities: []tg.MessageEntityClass{
				&tg.MessageEntityMention{Offset: 2, Length: 5},
			},
			rules:    Rules{"@spam": ""},
			wantText: "a  b",
			want:     []tg.MessageEntityClass{},
		},
		{
			name: "offsets count UTF-16 units",
			text: "😀 old 😀 end",
			entities: []tg.MessageEntityClass{
				&tg.MessageEntityBold{Offset: 10, Length: 3},
			},
			rules:    Rules{"old": "brand new"},
			wantText: "😀 brand new 😀 end",
			want: []tg.MessageEntityClass{
				&tg.MessageEntityBold{Offset: 16, Length: 3},
			},
		},
		{
			name: "every occurrence shifts",
			text: "x-x end",
			entities: []tg.MessageEntityClass{
				&tg.MessageEntityUnderline{Offset: 4, Length: 3},
			},
			rules:    Rules{"x": "yy"},
			wantText: "yy-yy end",
			want: []tg.MessageEntityClass{
				&tg.MessageEntityUnderline{Offset: 6, Length: 3},
			},
		},
		{
			name: "link target is filtered",
			text: "join us",
			entities: []tg.MessageEntityClass{
				&tg.MessageEntityTextURL{Offset: 0, Length: 7, URL: "https://t.me/OldChannel"},
			},
			rules:    Rules{"t.me/oldchannel": "t.me/newchannel"},
			wantText: "join us",
			want: []tg.MessageEntityClass{
				&tg.MessageEntityTextURL{Offset: 0, Length: 7, URL: "https://t.me/newchannel"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, entities, changed := ApplyFormatted(tt.text, tt.entities, tt.rules)

			assert.True(t, changed)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.want, entities)
			assert.Equal(t, Apply(tt.text, tt.rules), text)
		})
	}
}

func TestApplyFormatted_Unchanged(t *testing.T) {
	entities := []tg.MessageEntityClass{&tg.MessageEntityBold{Offset: 0, Length: 5}}

	text, got, changed := ApplyFormatted("hello", entities, Rules{"xyz": "q"})

	assert.False(t, changed)
	assert.Equal(t, "hello", text)
	assert.Same(t, entities[0], got[0])
}

func TestApplyFormatted_DoesNotMutateInput(t *testing.T) {
	bold := &tg.MessageEntityBold{Offset: 4, Length: 3}

	_, got, _ := ApplyFormatted("old new", []tg.MessageEntityClass{bold}, Rules{"old": "older"})

	assert.Equal(t, &tg.MessageEntityBold{Offset: 4, Length: 3}, bold)
	assert.Equal(t, []tg.MessageEntityClass{&tg.MessageEntityBold{Offset: 6, Length: 3}}, got)
}
