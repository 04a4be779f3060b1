// Package textnorm cleans source post text before it is republished.
package textnorm

import (
	"regexp"
	"strings"
)

const (
	// RepostMarker is how the source flags a repost at the start of a post.
	RepostMarker = "RT "
	// RepostPrefix replaces RepostMarker.
	RepostPrefix = "🔁 "
)

// urlPattern matches an http(s) link up to the next whitespace.
var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

// Normalize strips links, collapses whitespace and rewrites a leading repost
// marker. It never fails and Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	text := urlPattern.ReplaceAllString(raw, " ")
	text = strings.Join(strings.Fields(text), " ")
	if strings.HasPrefix(text, RepostMarker) {
		text = RepostPrefix + strings.TrimPrefix(text, RepostMarker)
	}
	return text
}
