package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"go.uber.org/ratelimit"

	"skymirror/internal/observe"
)

const requestTimeout = 2 * time.Minute

// ErrSessionMissing means there is neither a saved session nor credentials.
var ErrSessionMissing = errors.New("bluesky: no saved session and no credentials")

// Config holds the account settings.
type Config struct {
	Host       string
	Identifier string
	Password   string
	// RatePerMinute limits uploads and record writes. Zero means unlimited.
	RatePerMinute int
}

// Client publishes posts on behalf of one account.
type Client struct {
	host       string
	identifier string
	password   string
	http       *http.Client
	store      SessionStore
	limiter    ratelimit.Limiter
	log        observe.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *Session
}

// NewClient creates a client. Call Login before publishing.
func NewClient(cfg Config, store SessionStore, sink observe.Sink) *Client {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = DefaultHost
	}
	limiter := ratelimit.NewUnlimited()
	if cfg.RatePerMinute > 0 {
		limiter = ratelimit.New(cfg.RatePerMinute, ratelimit.Per(time.Minute))
	}
	return &Client{
		host:       host,
		identifier: cfg.Identifier,
		password:   cfg.Password,
		http:       &http.Client{Timeout: requestTimeout},
		store:      store,
		limiter:    limiter,
		log:        observe.NewLogger(sink, "bluesky"),
		now:        time.Now,
	}
}

// Login restores the saved session when it can still be refreshed and falls
// back to a password login otherwise. Every new session is saved.
func (c *Client) Login(ctx context.Context) error {
	if c.store != nil {
		token, err := c.store.Load()
		if err != nil {
			c.log.WarnErr(err, "Could not load saved session")
		}
		if token != "" {
			s, err := ImportSession(token)
			if err == nil {
				c.setSession(&s)
				if err = c.refresh(ctx); err == nil {
					c.log.Info("Reusing session", "handle", s.Handle)
					return nil
				}
			}
			c.log.WarnErr(err, "Saved session unusable, creating a new one")
		}
	}

	if c.identifier == "" || c.password == "" {
		return ErrSessionMissing
	}
	c.log.Info("Creating new session", "identifier", c.identifier)
	out, err := atproto.ServerCreateSession(ctx, c.xrpcClient(nil), &atproto.ServerCreateSession_Input{
		Identifier: c.identifier,
		Password:   c.password,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s := Session{Did: out.Did, Handle: out.Handle, AccessJwt: out.AccessJwt, RefreshJwt: out.RefreshJwt}
	c.setSession(&s)
	c.saveSession(s)
	return nil
}

// Handle returns the logged-in handle.
func (c *Client) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.Handle
}

// UploadBlob stores data on the PDS.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (Blob, error) {
	c.limiter.Take()
	var out *atproto.RepoUploadBlob_Output
	err := c.authed(ctx, func(xc *xrpc.Client) error {
		xc.Headers = map[string]string{"Content-Type": mimeType}
		var err error
		out, err = atproto.RepoUploadBlob(ctx, xc, bytes.NewReader(data))
		return err
	})
	if err != nil {
		return Blob{}, fmt.Errorf("upload blob: %w", err)
	}
	blob, err := blobFromLex(out.Blob)
	if err != nil {
		return Blob{}, err
	}
	if blob.MimeType == "" {
		blob.MimeType = mimeType
	}
	return blob, nil
}

// SubmitPost creates an app.bsky.feed.post record.
func (c *Client) SubmitPost(ctx context.Context, p Post) (PostRef, error) {
	s := c.currentSession()
	if s == nil {
		return PostRef{}, ErrSessionMissing
	}
	rec, err := p.record(c.now())
	if err != nil {
		return PostRef{}, err
	}

	c.limiter.Take()
	var out *atproto.RepoCreateRecord_Output
	err = c.authed(ctx, func(xc *xrpc.Client) error {
		var err error
		out, err = atproto.RepoCreateRecord(ctx, xc, &atproto.RepoCreateRecord_Input{
			Repo:       s.Did,
			Collection: postCollection,
			Record:     &lexutil.LexiconTypeDecoder{Val: rec},
		})
		return err
	})
	if err != nil {
		return PostRef{}, fmt.Errorf("create record: %w", err)
	}
	return PostRef{URI: out.Uri, CID: out.Cid}, nil
}

// authed runs an authenticated call, refreshing an expired access token once.
func (c *Client) authed(ctx context.Context, call func(xc *xrpc.Client) error) error {
	s := c.currentSession()
	if s == nil {
		return ErrSessionMissing
	}
	err := call(c.xrpcClient(s))
	if !isExpiredToken(err) {
		return err
	}
	c.log.Info("Access token expired, refreshing")
	if err := c.refresh(ctx); err != nil {
		return err
	}
	return call(c.xrpcClient(c.currentSession()))
}

func (c *Client) refresh(ctx context.Context) error {
	s := c.currentSession()
	if s == nil {
		return ErrSessionMissing
	}
	// refreshSession authenticates with the refresh token.
	bearer := *s
	bearer.AccessJwt = s.RefreshJwt
	out, err := atproto.ServerRefreshSession(ctx, c.xrpcClient(&bearer))
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	next := Session{Did: out.Did, Handle: out.Handle, AccessJwt: out.AccessJwt, RefreshJwt: out.RefreshJwt}
	c.setSession(&next)
	c.saveSession(next)
	return nil
}

// xrpcClient builds a client for one call; s may be nil for unauthenticated calls.
func (c *Client) xrpcClient(s *Session) *xrpc.Client {
	xc := &xrpc.Client{Client: c.http, Host: c.host}
	if s != nil {
		auth := xrpc.AuthInfo(*s)
		xc.Auth = &auth
	}
	return xc
}

func (c *Client) saveSession(s Session) {
	if c.store == nil {
		return
	}
	token, err := s.Export()
	if err == nil {
		err = c.store.Save(token)
	}
	if err != nil {
		c.log.WarnErr(err, "Could not save session")
		return
	}
	c.log.Debug("Saved session", "handle", s.Handle)
}

func (c *Client) currentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

func isExpiredToken(err error) bool {
	var xerr *xrpc.Error
	if !errors.As(err, &xerr) {
		return false
	}
	var inner *xrpc.XRPCError
	if errors.As(xerr.Wrapped, &inner) && inner.ErrStr != "" {
		return inner.ErrStr == "ExpiredToken"
	}
	return xerr.StatusCode == http.StatusUnauthorized
}
