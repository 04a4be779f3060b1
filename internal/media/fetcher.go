package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"skymirror/internal/observe"
)

const (
	downloadTimeout = 2 * time.Minute
	// DefaultMaxBytes caps a single download.
	DefaultMaxBytes int64 = 100 << 20
)

// ErrTooLarge is reported when a download exceeds the configured cap.
var ErrTooLarge = errors.New("media exceeds size limit")

// DownloadObserver is notified of every download attempt.
type DownloadObserver interface {
	ObserveDownload(kind Kind, ok bool)
}

// Fetcher downloads media refs into a scratch directory.
type Fetcher struct {
	client   *http.Client
	dir      string
	maxBytes int64
	log      observe.Logger
	observer DownloadObserver
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithObserver attaches a download observer.
func WithObserver(o DownloadObserver) Option {
	return func(f *Fetcher) { f.observer = o }
}

// NewFetcher creates a Fetcher writing to dir.
func NewFetcher(dir string, sink observe.Sink, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: downloadTimeout},
		dir:      dir,
		maxBytes: DefaultMaxBytes,
		log:      observe.NewLogger(sink, "media"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll downloads refs in order and splits the result by kind. A ref that
// fails to download is logged and left out; it is never retried here.
// The caller owns the returned files and must Cleanup them.
func (f *Fetcher) FetchAll(ctx context.Context, refs []Ref) (images, videos []Asset) {
	if len(refs) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		f.log.Error(err, "Could not create scratch directory", "dir", f.dir)
		return nil, nil
	}

	for i, ref := range refs {
		asset, err := f.fetch(ctx, i, ref)
		if f.observer != nil {
			f.observer.ObserveDownload(ref.Kind, err == nil)
		}
		if err != nil {
			f.log.WarnErr(err, "Skipping media", "index", i, "url", ref.URL)
			continue
		}
		f.log.Info("Downloaded media", "index", i, "url", ref.URL, "path", asset.Path, "bytes", asset.Size)
		switch asset.Kind {
		case KindVideo:
			videos = append(videos, asset)
		default:
			images = append(images, asset)
		}
	}
	return images, videos
}

func (f *Fetcher) fetch(ctx context.Context, index int, ref Ref) (Asset, error) {
	kind := ref.Kind
	if !kind.Valid() {
		kind = KindImage
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return Asset{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Asset{}, fmt.Errorf("download: status %d", resp.StatusCode)
	}

	mimeType := contentType(resp.Header.Get("Content-Type"), ref.URL, kind)
	name := fmt.Sprintf("%s%d%s", kind, index, extension(mimeType, ref.URL, kind))
	p := filepath.Join(f.dir, name)

	out, err := os.Create(p)
	if err != nil {
		return Asset{}, fmt.Errorf("create %s: %w", p, err)
	}
	n, copyErr := io.Copy(out, io.LimitReader(resp.Body, f.maxBytes+1))
	closeErr := out.Close()
	if copyErr == nil && n > f.maxBytes {
		copyErr = ErrTooLarge
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(p)
		return Asset{}, fmt.Errorf("write %s: %w", p, copyErr)
	}

	return Asset{Path: p, Kind: kind, Size: n, MimeType: mimeType, Index: index}, nil
}

// Cleanup removes every asset file. Failures are logged and otherwise ignored.
func (f *Fetcher) Cleanup(assets ...[]Asset) {
	for _, group := range assets {
		for _, a := range group {
			if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				f.log.WarnErr(err, "Could not delete media file", "path", a.Path)
				continue
			}
			f.log.Debug("Deleted media file", "path", a.Path)
		}
	}
}

var knownExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
}

func contentType(header, rawURL string, kind Kind) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && (strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "video/")) {
			return mt
		}
	}
	if ext := urlExtension(rawURL); ext != "" {
		for mt, e := range knownExtensions {
			if e == ext {
				return mt
			}
		}
		if ext == ".jpeg" {
			return "image/jpeg"
		}
	}
	if kind == KindVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

func extension(mimeType, rawURL string, kind Kind) string {
	if ext, ok := knownExtensions[mimeType]; ok {
		return ext
	}
	if ext := urlExtension(rawURL); ext != "" {
		return ext
	}
	if kind == KindVideo {
		return ".mp4"
	}
	return ".jpg"
}

func urlExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if len(ext) > 6 {
		return ""
	}
	return ext
}
