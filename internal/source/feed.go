package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"skymirror/internal/retry"
)

const (
	// DefaultFeedURL is an RSS bridge for X accounts; %s is the handle.
	DefaultFeedURL = "https://nitter.net/%s/rss"
	feedTimeout    = 30 * time.Second
	feedUserAgent  = "skymirror/1.0"
)

var statusIDPattern = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// FeedSource lists an account's posts through an RSS bridge.
type FeedSource struct {
	urlTemplate string
	client      *http.Client
	parser      *gofeed.Parser
}

// NewFeedSource creates a source; urlTemplate must contain one %s.
func NewFeedSource(urlTemplate string) (*FeedSource, error) {
	if urlTemplate == "" {
		urlTemplate = DefaultFeedURL
	}
	if strings.Count(urlTemplate, "%s") != 1 {
		return nil, fmt.Errorf("source: feed URL template %q must contain exactly one %%s", urlTemplate)
	}
	return &FeedSource{
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: feedTimeout},
		parser:      gofeed.NewParser(),
	}, nil
}

// FeedError is a non-2xx answer from the feed host.
type FeedError struct {
	URL        string
	StatusCode int
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s: status %d", e.URL, e.StatusCode)
}

// ResolveUser checks that the account feed exists and returns a reference to it.
func (s *FeedSource) ResolveUser(ctx context.Context, handle string) (UserRef, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return UserRef{}, ErrUserNotFound
	}
	feedURL := fmt.Sprintf(s.urlTemplate, handle)

	feed, err := s.fetch(ctx, feedURL)
	if err != nil {
		var fe *FeedError
		if errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound {
			return UserRef{}, fmt.Errorf("%w: %s", ErrUserNotFound, handle)
		}
		return UserRef{}, err
	}
	return UserRef{Handle: handle, DisplayName: strings.TrimSpace(feed.Title), FeedURL: feedURL}, nil
}

// ListRecent returns the account's recent items in feed order. Entries with no
// recognisable post ID are counted as malformed and left out.
func (s *FeedSource) ListRecent(ctx context.Context, user UserRef) (Listing, error) {
	if user.FeedURL == "" {
		return Listing{}, errors.New("source: user reference has no feed URL")
	}
	feed, err := s.fetch(ctx, user.FeedURL)
	if err != nil {
		return Listing{}, err
	}
	return listingFromFeed(feed), nil
}

func (s *FeedSource) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", feedUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("fetch feed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fe := &FeedError{URL: feedURL, StatusCode: resp.StatusCode}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.Transient(fe)
		}
		return nil, fe
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, retry.Transient(fmt.Errorf("parse feed: %w", err))
		}
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func listingFromFeed(feed *gofeed.Feed) Listing {
	var l Listing
	if feed == nil {
		return l
	}
	for _, it := range feed.Items {
		if it == nil {
			l.Malformed++
			continue
		}
		id := itemID(it)
		if id == "" {
			l.Malformed++
			continue
		}
		body := strings.TrimSpace(it.Title)
		if body == "" {
			body = strings.TrimSpace(it.Description)
		}
		item := Item{ID: id, Body: body, URL: it.Link}
		if it.PublishedParsed != nil {
			item.PublishedAt = it.PublishedParsed.UTC()
		}
		l.Items = append(l.Items, item)
	}
	return l
}

func itemID(it *gofeed.Item) string {
	for _, candidate := range []string{it.Link, it.GUID} {
		if m := statusIDPattern.FindStringSubmatch(candidate); m != nil {
			return m[1]
		}
	}
	if isDigits(it.GUID) {
		return it.GUID
	}
	return ""
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

// IsTransient classifies listing errors for the retry executor.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if retry.IsMarkedTransient(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
