// Package mirror runs the poll-detect-fetch-transform-publish loop that copies
// new posts of one source account to the destination.
package mirror

import (
	"context"
	"errors"
	"time"

	"skymirror/internal/database"
	"skymirror/internal/database/models"
	"skymirror/internal/enrich"
	"skymirror/internal/media"
	"skymirror/internal/notify"
	"skymirror/internal/observe"
	"skymirror/internal/publisher"
	"skymirror/internal/retry"
	"skymirror/internal/source"
)

const (
	DefaultPollInterval     = 300 * time.Second
	DefaultFallbackInterval = 300 * time.Second
	DefaultTimeUnit         = time.Second
	DefaultProcessTimeout   = 10 * time.Minute
)

// Source lists the target account's posts.
type Source interface {
	ResolveUser(ctx context.Context, handle string) (source.UserRef, error)
	ListRecent(ctx context.Context, user source.UserRef) (source.Listing, error)
}

// Enricher returns the full text and media of a public post URL.
type Enricher interface {
	Fetch(ctx context.Context, postURL string) (enrich.Content, error)
}

// MediaFetcher downloads media to cycle-scoped local files.
type MediaFetcher interface {
	FetchAll(ctx context.Context, refs []media.Ref) (images, videos []media.Asset)
	Cleanup(assets ...[]media.Asset)
}

// Publisher posts text and media to the destination.
type Publisher interface {
	Publish(ctx context.Context, text string, images, videos []media.Asset) publisher.Result
}

// Observer receives per-cycle and per-retry counts.
type Observer interface {
	ObserveCycle(outcome string)
	ObserveRetry(operation string)
}

// Config controls the loop's timing.
type Config struct {
	TargetUser       string
	PollInterval     time.Duration
	FallbackInterval time.Duration
	// TimeUnit is both the wait tick and the retry backoff base.
	TimeUnit    time.Duration
	MaxAttempts int
	// ProcessTimeout bounds one item's processing. Processing is detached from
	// shutdown, so this is the only thing that can cut it short.
	ProcessTimeout time.Duration
}

// Deps holds the loop's collaborators. PostLog, Alerter and Observer are optional.
type Deps struct {
	Source    Source
	Enricher  Enricher
	Media     MediaFetcher
	Publisher Publisher
	PostLog   database.PostLogger
	Alerter   notify.Alerter
	Observer  Observer
}

// Loop owns the only state carried across cycles: the dedup marker.
type Loop struct {
	cfg  Config
	deps Deps
	log  observe.Logger

	user *source.UserRef
	// lastSeenID is the most recent item offered to the publisher; offered
	// holds every ID offered during this process lifetime.
	lastSeenID string
	offered    map[string]struct{}
	// userAlerted suppresses repeated alerts while the account stays unresolvable.
	userAlerted bool

	now func() time.Time
}

// New validates cfg and deps and returns a Loop.
func New(cfg Config, deps Deps, sink observe.Sink) (*Loop, error) {
	if source.NormalizeHandle(cfg.TargetUser) == "" {
		return nil, errors.New("mirror: target user is required")
	}
	if deps.Source == nil || deps.Enricher == nil || deps.Media == nil || deps.Publisher == nil {
		return nil, errors.New("mirror: source, enricher, media fetcher and publisher are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = DefaultFallbackInterval
	}
	if cfg.TimeUnit <= 0 {
		cfg.TimeUnit = DefaultTimeUnit
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = retry.DefaultMaxAttempts
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = DefaultProcessTimeout
	}
	if deps.PostLog == nil {
		deps.PostLog = database.NopPostLog{}
	}
	if deps.Alerter == nil {
		deps.Alerter = notify.NopAlerter{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Loop{
		cfg:     cfg,
		deps:    deps,
		log:     observe.NewLogger(sink, "mirror"),
		offered: make(map[string]struct{}),
		now:     time.Now,
	}, nil
}

// LastSeenID returns the current dedup marker ("" before the first item).
func (l *Loop) LastSeenID() string { return l.lastSeenID }

// Run polls until ctx is cancelled. Cancellation is observed at the top of
// every cycle and on every wait tick; a cycle that is already processing an
// item runs to completion first.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("Mirror loop started",
		"target", l.cfg.TargetUser,
		"interval", l.cfg.PollInterval.String(),
		"fallback", l.cfg.FallbackInterval.String())

	for {
		if ctx.Err() != nil {
			l.log.Info("Shutdown requested, mirror loop stopped")
			return
		}

		outcome := l.RunCycle(ctx)
		interval := l.nextWait(outcome)
		l.log.Info("Waiting before checking again",
			"outcome", outcome.String(), "wait", interval.String())

		if !l.wait(ctx, interval) {
			l.log.Info("Shutdown requested during wait, mirror loop stopped")
			return
		}
	}
}

func (l *Loop) nextWait(outcome CycleOutcome) time.Duration {
	if outcome == OutcomeRetryLater {
		return l.cfg.FallbackInterval
	}
	return l.cfg.PollInterval
}

// wait sleeps for d in TimeUnit ticks. It returns false as soon as ctx is done.
func (l *Loop) wait(ctx context.Context, d time.Duration) bool {
	ticker := time.NewTicker(l.cfg.TimeUnit)
	defer ticker.Stop()

	for elapsed := time.Duration(0); elapsed < d; elapsed += l.cfg.TimeUnit {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return ctx.Err() == nil
}

func (l *Loop) policy(name string, transient retry.Classifier) retry.Policy {
	return retry.Policy{
		Name:        name,
		MaxAttempts: l.cfg.MaxAttempts,
		Unit:        l.cfg.TimeUnit,
		IsTransient: transient,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			l.deps.Observer.ObserveRetry(name)
			l.log.WarnErr(err, "Transient failure, retrying",
				"operation", name, "attempt", attempt+1, "wait", wait.String())
		},
	}
}

func (l *Loop) logPosts(ctx context.Context, user source.UserRef, item source.Item, postURL, text string, detectedAt time.Time, images, videos []media.Asset, res publisher.Result) {
	for _, p := range res.Posts {
		entry := models.PostLog{
			SourceID:    item.ID,
			SourceURL:   postURL,
			TargetUser:  user.Handle,
			Kind:        string(p.Kind),
			Text:        text,
			PostURI:     p.Ref.URI,
			PostCID:     p.Ref.CID,
			Images:      len(images),
			Videos:      len(videos),
			DetectedAt:  detectedAt,
			PublishedAt: l.now().UTC(),
		}
		if p.Reply != nil {
			entry.ReplyURI = p.Reply.URI
		}
		if err := l.deps.PostLog.LogPublishedPost(ctx, entry); err != nil {
			l.log.WarnErr(err, "Failed to record published post", "item", item.ID, "uri", p.Ref.URI)
		}
	}
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(string) {}
func (nopObserver) ObserveRetry(string) {}
