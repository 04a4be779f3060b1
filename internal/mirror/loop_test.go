package mirror

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skymirror/internal/bluesky"
	"skymirror/internal/database/models"
	"skymirror/internal/enrich"
	"skymirror/internal/media"
	"skymirror/internal/notify"
	"skymirror/internal/observe"
	"skymirror/internal/publisher"
	"skymirror/internal/retry"
	"skymirror/internal/source"
)

// --- Mocks ---

type MockSource struct {
	mock.Mock
}

func (m *MockSource) ResolveUser(ctx context.Context, handle string) (source.UserRef, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(source.UserRef), args.Error(1)
}

func (m *MockSource) ListRecent(ctx context.Context, user source.UserRef) (source.Listing, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(source.Listing), args.Error(1)
}

type MockEnricher struct {
	mock.Mock
}

func (m *MockEnricher) Fetch(ctx context.Context, postURL string) (enrich.Content, error) {
	args := m.Called(ctx, postURL)
	return args.Get(0).(enrich.Content), args.Error(1)
}

type MockMedia struct {
	mock.Mock
}

func (m *MockMedia) FetchAll(ctx context.Context, refs []media.Ref) (images, videos []media.Asset) {
	args := m.Called(ctx, refs)
	if v, ok := args.Get(0).([]media.Asset); ok {
		images = v
	}
	if v, ok := args.Get(1).([]media.Asset); ok {
		videos = v
	}
	return images, videos
}

func (m *MockMedia) Cleanup(assets ...[]media.Asset) {
	m.Called(assets)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, text string, images, videos []media.Asset) publisher.Result {
	args := m.Called(ctx, text, images, videos)
	return args.Get(0).(publisher.Result)
}

type MockPostLogger struct {
	mock.Mock
}

func (m *MockPostLogger) LogPublishedPost(ctx context.Context, entry models.PostLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) Alert(ctx context.Context, msgID string, data map[string]any) {
	m.Called(ctx, msgID, data)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes []string
	retries  map[string]int
}

func (o *countingObserver) ObserveCycle(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *countingObserver) ObserveRetry(operation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.retries == nil {
		o.retries = map[string]int{}
	}
	o.retries[operation]++
}

// --- Helpers ---

var testUser = source.UserRef{Handle: "someone", FeedURL: "https://feed.example/someone/rss"}

type loopTestSuite struct {
	src      *MockSource
	enricher *MockEnricher
	media    *MockMedia
	pub      *MockPublisher
	postLog  *MockPostLogger
	alerter  *MockAlerter
	observer *countingObserver
	rec      *observe.Recorder
	loop     *Loop
}

func setupLoopTestSuite(t *testing.T, cfg Config) *loopTestSuite {
	t.Helper()
	s := &loopTestSuite{
		src:      new(MockSource),
		enricher: new(MockEnricher),
		media:    new(MockMedia),
		pub:      new(MockPublisher),
		postLog:  new(MockPostLogger),
		alerter:  new(MockAlerter),
		observer: &countingObserver{},
		rec:      &observe.Recorder{},
	}
	if cfg.TargetUser == "" {
		cfg.TargetUser = "someone"
	}
	if cfg.TimeUnit == 0 {
		cfg.TimeUnit = time.Millisecond
	}
	loop, err := New(cfg, Deps{
		Source:    s.src,
		Enricher:  s.enricher,
		Media:     s.media,
		Publisher: s.pub,
		PostLog:   s.postLog,
		Alerter:   s.alerter,
		Observer:  s.observer,
	}, s.rec)
	require.NoError(t, err)
	s.loop = loop

	s.postLog.On("LogPublishedPost", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.alerter.On("Alert", mock.Anything, mock.Anything, mock.Anything).Return().Maybe()
	s.media.On("FetchAll", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	s.media.On("Cleanup", mock.Anything).Return().Maybe()
	return s
}

func listing(ids ...string) source.Listing {
	l := source.Listing{}
	for _, id := range ids {
		l.Items = append(l.Items, source.Item{ID: id, Body: "body of " + id})
	}
	return l
}

func onePost() publisher.Result {
	return publisher.Result{Posts: []publisher.Published{{
		Kind: publisher.KindText,
		Ref:  bluesky.PostRef{URI: "at://did:plc:me/app.bsky.feed.post/1", CID: "cid"},
	}}}
}

func (s *loopTestSuite) expectUser() {
	s.src.On("ResolveUser", mock.Anything, "someone").Return(testUser, nil)
}

func (s *loopTestSuite) expectContent(id, text string) {
	s.enricher.On("Fetch", mock.Anything, source.StatusURL("someone", id)).
		Return(enrich.Content{Text: text}, nil)
}

// --- Tests ---

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, Deps{}, nil)
	assert.Error(t, err)

	_, err = New(Config{TargetUser: "@x"}, Deps{Source: new(MockSource)}, nil)
	assert.Error(t, err)

	l, err := New(Config{TargetUser: "x"}, Deps{
		Source: new(MockSource), Enricher: new(MockEnricher), Media: new(MockMedia), Publisher: new(MockPublisher),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, l.cfg.PollInterval)
	assert.Equal(t, DefaultFallbackInterval, l.cfg.FallbackInterval)
	assert.Equal(t, retry.DefaultMaxAttempts, l.cfg.MaxAttempts)
}

func TestDedupAcrossCycles(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	for _, id := range []string{"100", "100", "200", "200", "100"} {
		s.src.On("ListRecent", mock.Anything, testUser).Return(listing(id), nil).Once()
	}
	s.expectContent("100", "first")
	s.expectContent("200", "second")
	s.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(onePost())

	var outcomes []CycleOutcome
	for i := 0; i < 5; i++ {
		outcomes = append(outcomes, s.loop.RunCycle(context.Background()))
	}

	assert.Equal(t, []CycleOutcome{
		OutcomePublished, OutcomeUnchanged, OutcomePublished, OutcomeUnchanged, OutcomeUnchanged,
	}, outcomes)
	s.pub.AssertNumberOfCalls(t, "Publish", 2)
	assert.Equal(t, "first", s.pub.Calls[0].Arguments.String(1))
	assert.Equal(t, "second", s.pub.Calls[1].Arguments.String(1))
	assert.Equal(t, "200", s.loop.LastSeenID(), "marker never regresses")
	s.src.AssertNumberOfCalls(t, "ResolveUser", 1)
	assert.Equal(t, []string{"published", "unchanged", "published", "unchanged", "unchanged"}, s.observer.outcomes)
}

func TestColdStartTreatsFirstItemAsNew(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("5", "4", "3"), nil).Once()
	s.expectContent("5", "hello")
	s.pub.On("Publish", mock.Anything, "hello", mock.Anything, mock.Anything).Return(onePost()).Once()

	assert.Equal(t, OutcomePublished, s.loop.RunCycle(context.Background()))
	s.pub.AssertExpectations(t)
}

func TestMarkerAdvancesEvenWhenPublishFails(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("7"), nil).Twice()
	s.expectContent("7", "text")
	s.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(publisher.Result{Failures: 1}).Once()

	assert.Equal(t, OutcomeFailed, s.loop.RunCycle(context.Background()))
	assert.Equal(t, OutcomeUnchanged, s.loop.RunCycle(context.Background()))

	s.pub.AssertNumberOfCalls(t, "Publish", 1)
	s.alerter.AssertCalled(t, "Alert", mock.Anything, notify.AlertCycleFailed, mock.Anything)
}

func TestPanicDuringProcessingIsContained(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("9"), nil).Twice()
	s.expectContent("9", "text")
	images := []media.Asset{{Path: "/tmp/image0.jpg", Kind: media.KindImage}}
	s.media.ExpectedCalls = nil
	s.media.On("FetchAll", mock.Anything, mock.Anything).Return(images, nil).Once()
	s.media.On("Cleanup", mock.Anything).Return().Once()
	s.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") }).Return(publisher.Result{}).Once()

	var outcome CycleOutcome
	assert.NotPanics(t, func() { outcome = s.loop.RunCycle(context.Background()) })

	assert.Equal(t, OutcomeFailed, outcome)
	s.media.AssertExpectations(t)
	assert.Equal(t, 1, s.rec.Count(observe.LevelError))
	assert.Equal(t, OutcomeUnchanged, s.loop.RunCycle(context.Background()))
}

func TestMediaCleanedUpAfterPublish(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("11"), nil).Once()
	refs := []media.Ref{{URL: "https://cdn.example/a.jpg", Kind: media.KindImage}, {URL: "https://cdn.example/b.mp4", Kind: media.KindVideo}}
	s.enricher.On("Fetch", mock.Anything, mock.Anything).Return(enrich.Content{Text: "t", Media: refs}, nil).Once()

	images := []media.Asset{{Path: "image0.jpg", Kind: media.KindImage}}
	videos := []media.Asset{{Path: "video1.mp4", Kind: media.KindVideo}}
	s.media.ExpectedCalls = nil
	s.media.On("FetchAll", mock.Anything, refs).Return(images, videos).Once()
	s.media.On("Cleanup", [][]media.Asset{images, videos}).Return().Once()
	s.pub.On("Publish", mock.Anything, "t", images, videos).Return(onePost()).Once()

	assert.Equal(t, OutcomePublished, s.loop.RunCycle(context.Background()))
	s.media.AssertExpectations(t)
	s.pub.AssertExpectations(t)
}

func TestPublishedPostsAreLogged(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("12"), nil).Once()
	s.expectContent("12", "t")
	reply := bluesky.PostRef{URI: "at://reply", CID: "r"}
	res := onePost()
	res.Posts[0].Reply = &reply
	s.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(res).Once()
	s.postLog.ExpectedCalls = nil
	s.postLog.On("LogPublishedPost", mock.Anything, mock.MatchedBy(func(e models.PostLog) bool {
		return e.SourceID == "12" &&
			e.SourceURL == "https://x.com/someone/status/12" &&
			e.TargetUser == "someone" &&
			e.Kind == "text" &&
			e.PostURI == res.Posts[0].Ref.URI &&
			e.ReplyURI == "at://reply"
	})).Return(errors.New("db down")).Once()

	assert.Equal(t, OutcomePublished, s.loop.RunCycle(context.Background()))
	s.postLog.AssertExpectations(t)
	s.alerter.AssertCalled(t, "Alert", mock.Anything, notify.AlertPublished, mock.Anything)
}

func TestEnrichmentTextFallsBackToItemBody(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).
		Return(source.Listing{Items: []source.Item{{ID: "13", Body: "RT from the feed https://t.co/xyz"}}}, nil).Once()
	s.expectContent("13", "  ")
	s.pub.On("Publish", mock.Anything, "🔁 from the feed", mock.Anything, mock.Anything).Return(onePost()).Once()

	assert.Equal(t, OutcomePublished, s.loop.RunCycle(context.Background()))
	s.pub.AssertExpectations(t)
}

func TestEnrichmentDataErrorSkipsItem(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("14"), nil).Twice()
	s.enricher.On("Fetch", mock.Anything, mock.Anything).Return(enrich.Content{}, enrich.ErrEnrichmentFailed).Once()

	assert.Equal(t, OutcomeSkipped, s.loop.RunCycle(context.Background()))
	assert.Equal(t, OutcomeUnchanged, s.loop.RunCycle(context.Background()))
	s.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.enricher.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestEnrichmentRetriedThenFails(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("15"), nil).Once()
	s.enricher.On("Fetch", mock.Anything, mock.Anything).
		Return(enrich.Content{}, retry.Transient(io.ErrUnexpectedEOF)).Times(3)

	assert.Equal(t, OutcomeFailed, s.loop.RunCycle(context.Background()))
	s.enricher.AssertExpectations(t)
	assert.Equal(t, 2, s.observer.retries["enrich"])
	s.alerter.AssertCalled(t, "Alert", mock.Anything, notify.AlertCycleFailed, mock.Anything)
}

func TestListingRetriedThenSucceeds(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(source.Listing{}, retry.Transient(io.ErrUnexpectedEOF)).Twice()
	s.src.On("ListRecent", mock.Anything, testUser).Return(source.Listing{}, nil).Once()

	assert.Equal(t, OutcomeEmpty, s.loop.RunCycle(context.Background()))
	s.src.AssertNumberOfCalls(t, "ListRecent", 3)
	assert.Equal(t, 2, s.observer.retries["list_items"])
}

func TestListingFailureWaitsFallbackAndReresolves(t *testing.T) {
	s := setupLoopTestSuite(t, Config{PollInterval: time.Minute, FallbackInterval: time.Hour})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(source.Listing{}, errors.New("feed gone")).Once()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing(), nil).Once()

	outcome := s.loop.RunCycle(context.Background())
	assert.Equal(t, OutcomeRetryLater, outcome)
	assert.Equal(t, time.Hour, s.loop.nextWait(outcome))

	outcome = s.loop.RunCycle(context.Background())
	assert.Equal(t, OutcomeEmpty, outcome)
	assert.Equal(t, time.Minute, s.loop.nextWait(outcome))
	s.src.AssertNumberOfCalls(t, "ResolveUser", 2)
	s.src.AssertNumberOfCalls(t, "ListRecent", 2)
}

func TestUserResolutionFailureAlertsOnce(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.src.On("ResolveUser", mock.Anything, "someone").Return(source.UserRef{}, source.ErrUserNotFound).Twice()

	assert.Equal(t, OutcomeRetryLater, s.loop.RunCycle(context.Background()))
	assert.Equal(t, OutcomeRetryLater, s.loop.RunCycle(context.Background()))

	s.alerter.AssertNumberOfCalls(t, "Alert", 1)
	s.alerter.AssertCalled(t, "Alert", mock.Anything, notify.AlertUserUnavailable, mock.Anything)
	s.src.AssertNotCalled(t, "ListRecent", mock.Anything, mock.Anything)
}

func TestMalformedOnlyListingIsEmpty(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(source.Listing{Malformed: 3}, nil).Once()

	assert.Equal(t, OutcomeEmpty, s.loop.RunCycle(context.Background()))
	assert.Equal(t, "", s.loop.LastSeenID())
	assert.Equal(t, 2, s.rec.Count(observe.LevelWarn))
}

func TestLowerNeverOfferedIDIsPublished(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("1790000000000000300"), nil).Once()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("1600000000000000000"), nil).Once()
	s.expectContent("1790000000000000300", "newer")
	s.expectContent("1600000000000000000", "RT older")
	s.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(onePost()).Twice()

	assert.Equal(t, OutcomePublished, s.loop.RunCycle(context.Background()))
	assert.Equal(t, OutcomePublished, s.loop.RunCycle(context.Background()))
	assert.Equal(t, "1600000000000000000", s.loop.LastSeenID())
	s.pub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestProcessingIgnoresShutdown(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.expectUser()
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing("16"), nil).Once().
		Run(func(mock.Arguments) { cancel() })
	s.expectContent("16", "t")
	s.pub.On("Publish", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }),
		mock.Anything, mock.Anything, mock.Anything).Return(onePost()).Once()

	assert.Equal(t, OutcomePublished, s.loop.RunCycle(ctx))
	s.pub.AssertExpectations(t)
}

func TestRunStopsBeforeFirstCycleWhenCancelled(t *testing.T) {
	s := setupLoopTestSuite(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.loop.Run(ctx)

	s.src.AssertNotCalled(t, "ResolveUser", mock.Anything, mock.Anything)
}

func TestShutdownDuringWaitIsPrompt(t *testing.T) {
	unit := 20 * time.Millisecond
	s := setupLoopTestSuite(t, Config{TimeUnit: unit, PollInterval: 1000 * unit})
	s.expectUser()

	cycleDone := make(chan struct{})
	s.src.On("ListRecent", mock.Anything, testUser).Return(listing(), nil).Once().
		Run(func(mock.Arguments) { close(cycleDone) })

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan time.Time, 1)
	go func() {
		s.loop.Run(ctx)
		stopped <- time.Now()
	}()

	<-cycleDone
	time.Sleep(3 * unit)
	cancelledAt := time.Now()
	cancel()

	select {
	case at := <-stopped:
		assert.Less(t, at.Sub(cancelledAt), 10*unit)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	s.src.AssertNumberOfCalls(t, "ListRecent", 1)
}

func TestWaitCompletesFullInterval(t *testing.T) {
	s := setupLoopTestSuite(t, Config{TimeUnit: time.Millisecond})
	start := time.Now()
	assert.True(t, s.loop.wait(context.Background(), 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestCycleOutcomeString(t *testing.T) {
	assert.Equal(t, "retry_later", OutcomeRetryLater.String())
	assert.Equal(t, "unknown", CycleOutcome(42).String())
}
