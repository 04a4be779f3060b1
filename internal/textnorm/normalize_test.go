package textnorm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello world", want: "hello world"},
		{name: "trailing short link", in: "look at this https://t.co/AbCdEf1234", want: "look at this"},
		{name: "link in the middle", in: "a http://example.com/x?y=1 b", want: "a b"},
		{name: "several links", in: "https://t.co/1 one https://t.co/2 two https://t.co/3", want: "one two"},
		{name: "upper case scheme", in: "see HTTPS://EXAMPLE.COM now", want: "see now"},
		{name: "collapse whitespace", in: "  a \n\n b\t c  ", want: "a b c"},
		{name: "repost marker", in: "RT @user: hello", want: "🔁 @user: hello"},
		{name: "only leading marker replaced", in: "RT hello RT world", want: "🔁 hello RT world"},
		{name: "marker not at start", in: "hello RT world", want: "hello RT world"},
		{name: "marker is case sensitive", in: "rt hello", want: "rt hello"},
		{name: "marker after leading link", in: "https://t.co/x RT hi", want: "🔁 hi"},
		{name: "bare marker", in: "RT", want: "RT"},
		{name: "empty", in: "", want: ""},
		{name: "only links", in: "https://t.co/a http://b.c", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"RT RT twice",
		"RT https://t.co/x",
		"  RT   spaced   out  https://a.b  ",
		"🔁 already prefixed",
		"mixed http://a.b/c text https://d.e and more",
		"foohttp://glued.example bar",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeRemovesAllLinks(t *testing.T) {
	inputs := []string{
		"a https://t.co/1 b http://x.y/z c",
		"https://start.example middle https://end.example",
		"nohttp here http://a",
	}
	for _, in := range inputs {
		out := Normalize(in)
		assert.False(t, strings.Contains(strings.ToLower(out), "http://"), out)
		assert.False(t, strings.Contains(strings.ToLower(out), "https://"), out)
	}
}
