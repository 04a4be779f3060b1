// Package source reads the recent posts of the mirrored account.
package source

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUserNotFound is returned when the account handle does not resolve.
var ErrUserNotFound = errors.New("source user not found")

// UserRef identifies a resolved account.
type UserRef struct {
	Handle      string
	DisplayName string
	FeedURL     string
}

// Item is a single post. Items handed out by this package always carry an ID.
type Item struct {
	ID          string
	Body        string
	URL         string
	PublishedAt time.Time
}

// Listing is the result of listing an account, newest first as served by the
// source. Malformed counts entries dropped because they had no usable ID.
type Listing struct {
	Items     []Item
	Malformed int
}

// Latest returns the first item, if any.
func (l Listing) Latest() (Item, bool) {
	if len(l.Items) == 0 {
		return Item{}, false
	}
	return l.Items[0], true
}

// NormalizeHandle strips whitespace and a leading '@'.
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// StatusURL is the public URL of a post, as expected by the enrichment API.
func StatusURL(handle, id string) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", NormalizeHandle(handle), id)
}
