// Package enrich fetches the full text and media of a source post from the
// third-party downloader API.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"skymirror/internal/media"
	"skymirror/internal/retry"
)

const (
	// DefaultHost is the RapidAPI host of the downloader service.
	DefaultHost    = "twitter-video-and-image-downloader.p.rapidapi.com"
	requestTimeout = 30 * time.Second
)

var (
	// ErrEnrichmentFailed means the API answered but reported success=false.
	ErrEnrichmentFailed = errors.New("enrichment API reported failure")
	// ErrMissingAPIKey is returned by NewClient when no key is configured.
	ErrMissingAPIKey = errors.New("enrichment API key is required")
)

// Content is the enriched view of a source post.
type Content struct {
	Text  string
	Media []media.Ref
}

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("enrichment API: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the downloader API.
type Client struct {
	apiKey  string
	host    string
	baseURL string
	client  *http.Client
}

// NewClient creates a client. host defaults to DefaultHost.
func NewClient(apiKey, host string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if host == "" {
		host = DefaultHost
	}
	return &Client{
		apiKey:  apiKey,
		host:    host,
		baseURL: "https://" + host,
		client:  &http.Client{Timeout: requestTimeout},
	}, nil
}

type apiResponse struct {
	Success bool       `json:"success"`
	Text    *string    `json:"text"`
	Media   []apiMedia `json:"media"`
}

type apiMedia struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Fetch returns the content of the post at postURL. Transport failures and
// 5xx/429 answers are marked transient for the retry executor.
func (c *Client) Fetch(ctx context.Context, postURL string) (Content, error) {
	q := url.Values{}
	q.Set("url", postURL)
	endpoint := c.baseURL + "/twitter?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Content{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.host)

	resp, err := c.client.Do(req)
	if err != nil {
		return Content{}, retry.Transient(fmt.Errorf("fetch %s: %w", postURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return Content{}, retry.Transient(statusErr)
		}
		return Content{}, statusErr
	}

	var data apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Content{}, retry.Transient(fmt.Errorf("decode response: %w", err))
		}
		return Content{}, fmt.Errorf("decode response: %w", err)
	}
	if !data.Success {
		return Content{}, ErrEnrichmentFailed
	}

	content := Content{}
	if data.Text != nil {
		content.Text = *data.Text
	}
	for _, m := range data.Media {
		if strings.TrimSpace(m.URL) == "" {
			continue
		}
		content.Media = append(content.Media, media.Ref{URL: m.URL, Kind: classify(m.Type, m.URL)})
	}
	return content, nil
}

// IsTransient classifies errors for the retry executor.
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

func classify(apiType, rawURL string) media.Kind {
	switch strings.ToLower(strings.TrimSpace(apiType)) {
	case "video", "gif", "animated_gif":
		return media.KindVideo
	case "image", "photo":
		return media.KindImage
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return media.KindImage
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".mp4", ".m3u8", ".mov", ".webm":
		return media.KindVideo
	}
	return media.KindImage
}
