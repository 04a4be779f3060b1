package mirror

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"skymirror/internal/enrich"
	"skymirror/internal/notify"
	"skymirror/internal/retry"
	"skymirror/internal/source"
	"skymirror/internal/textnorm"
)

// CycleOutcome is how one polling cycle ended.
type CycleOutcome int

const (
	// OutcomeUnchanged: the latest item was already offered to the publisher.
	OutcomeUnchanged CycleOutcome = iota
	// OutcomePublished: a new item produced at least one destination post.
	OutcomePublished
	// OutcomeEmpty: the listing had no item with a usable ID.
	OutcomeEmpty
	// OutcomeSkipped: a new item was abandoned because of a data error.
	OutcomeSkipped
	// OutcomeRetryLater: the account or its listing could not be fetched;
	// the loop waits the fallback interval.
	OutcomeRetryLater
	// OutcomeFailed: processing a new item failed. The item is not retried.
	OutcomeFailed
)

func (o CycleOutcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomePublished:
		return "published"
	case OutcomeEmpty:
		return "empty"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetryLater:
		return "retry_later"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunCycle performs one pass: resolve the account, list its items, pick the
// latest and, when it is new, process it.
func (l *Loop) RunCycle(ctx context.Context) (outcome CycleOutcome) {
	defer func() { l.deps.Observer.ObserveCycle(outcome.String()) }()

	l.log.Info("Checking for new posts", "target", l.cfg.TargetUser)

	user, err := l.resolveUser(ctx)
	if err != nil {
		l.log.Error(err, "Could not resolve target account", "target", l.cfg.TargetUser)
		if !l.userAlerted {
			l.userAlerted = true
			l.deps.Alerter.Alert(ctx, notify.AlertUserUnavailable, map[string]any{
				"Target": l.cfg.TargetUser,
				"Error":  err.Error(),
			})
		}
		return OutcomeRetryLater
	}
	l.userAlerted = false

	listing, err := retry.Do(ctx, l.policy("list_items", source.IsTransient), func(ctx context.Context) (source.Listing, error) {
		return l.deps.Source.ListRecent(ctx, user)
	})
	if err != nil {
		// Force a fresh resolution next time; the feed may have moved.
		l.user = nil
		l.log.Error(err, "Could not list recent posts", "target", user.Handle)
		return OutcomeRetryLater
	}
	if listing.Malformed > 0 {
		l.log.Warn("Ignored entries without a post ID", "count", listing.Malformed)
	}

	item, ok := listing.Latest()
	if !ok {
		if listing.Malformed > 0 {
			l.log.Warn("No entry with a valid post ID", "target", user.Handle)
		} else {
			l.log.Warn("No posts found", "target", user.Handle)
		}
		return OutcomeEmpty
	}
	l.log.Info("Latest post", "id", item.ID)

	if !l.isNew(item.ID) {
		l.log.Debug("Latest post already mirrored", "id", item.ID)
		return OutcomeUnchanged
	}

	// Advance the marker before processing: a failure below must never lead
	// to the same item being offered again.
	l.lastSeenID = item.ID
	l.offered[item.ID] = struct{}{}
	l.log.Info("New post detected", "id", item.ID)

	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ProcessTimeout)
	defer cancel()
	return l.process(procCtx, user, item)
}

func (l *Loop) resolveUser(ctx context.Context) (source.UserRef, error) {
	if l.user != nil {
		return *l.user, nil
	}
	user, err := l.deps.Source.ResolveUser(ctx, l.cfg.TargetUser)
	if err != nil {
		return source.UserRef{}, err
	}
	l.user = &user
	return user, nil
}

// isNew reports whether id may be offered to the publisher. Ids are opaque;
// each one is offered at most once per process.
func (l *Loop) isNew(id string) bool {
	_, seen := l.offered[id]
	return !seen
}

// process turns one new item into destination posts. Local media is removed
// on every path out of here, panics included.
func (l *Loop) process(ctx context.Context, user source.UserRef, item source.Item) (outcome CycleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing post %s: %v", item.ID, r)
			l.log.Error(err, "Recovered from panic", "stack", string(debug.Stack()))
			l.alertFailed(ctx, item.ID, err)
			outcome = OutcomeFailed
		}
	}()

	detectedAt := l.now().UTC()
	postURL := source.StatusURL(user.Handle, item.ID)

	content, err := retry.Do(ctx, l.policy("enrich", enrich.IsTransient), func(ctx context.Context) (enrich.Content, error) {
		return l.deps.Enricher.Fetch(ctx, postURL)
	})
	if errors.Is(err, enrich.ErrEnrichmentFailed) {
		l.log.WarnErr(err, "Post content unavailable, skipping", "id", item.ID, "url", postURL)
		return OutcomeSkipped
	}
	if err != nil {
		l.log.Error(err, "Fetching post content failed", "id", item.ID, "url", postURL)
		l.alertFailed(ctx, item.ID, err)
		return OutcomeFailed
	}

	raw := content.Text
	if strings.TrimSpace(raw) == "" {
		raw = item.Body
	}
	text := textnorm.Normalize(raw)
	l.log.Debug("Normalized text", "id", item.ID, "original", raw, "text", text)

	images, videos := l.deps.Media.FetchAll(ctx, content.Media)
	defer l.deps.Media.Cleanup(images, videos)
	l.log.Info("Media downloaded", "id", item.ID,
		"requested", len(content.Media), "images", len(images), "videos", len(videos))

	res := l.deps.Publisher.Publish(ctx, text, images, videos)
	if !res.OK() {
		if res.Failures == 0 {
			l.log.Warn("Nothing to publish for post", "id", item.ID)
			return OutcomeSkipped
		}
		err := fmt.Errorf("no destination post created (%d failures)", res.Failures)
		l.log.Error(err, "Publishing failed", "id", item.ID)
		l.alertFailed(ctx, item.ID, err)
		return OutcomeFailed
	}

	l.logPosts(ctx, user, item, postURL, text, detectedAt, images, videos, res)
	l.log.Info("Post mirrored", "id", item.ID, "posts", len(res.Posts), "failures", res.Failures)
	l.deps.Alerter.Alert(ctx, notify.AlertPublished, map[string]any{
		"ItemID": item.ID,
		"Posts":  len(res.Posts),
	})
	return OutcomePublished
}

func (l *Loop) alertFailed(ctx context.Context, itemID string, err error) {
	l.deps.Alerter.Alert(ctx, notify.AlertCycleFailed, map[string]any{
		"ItemID": itemID,
		"Error":  err.Error(),
	})
}
