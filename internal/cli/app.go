package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"skymirror/internal/bluesky"
	"skymirror/internal/config"
	"skymirror/internal/database"
	"skymirror/internal/enrich"
	"skymirror/internal/locales"
	"skymirror/internal/media"
	"skymirror/internal/metrics"
	"skymirror/internal/mirror"
	"skymirror/internal/notify"
	"skymirror/internal/observe"
	"skymirror/internal/publisher"
	"skymirror/internal/source"
	"skymirror/internal/translate"
	"skymirror/pkg/telegoapi"
)

// app holds the wired collaborators shared by the run and check commands.
type app struct {
	cfg      *config.Config
	sink     observe.Sink
	log      observe.Logger
	registry *prometheus.Registry
	observer *metrics.Observer
	postLog  database.PostLogger
	bot      telegoapi.BotAPI
	alerter  notify.Alerter
	bluesky  *bluesky.Client
	source   *source.FeedSource

	closers []func()
}

func newApp(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	a := &app{cfg: cfg}
	if err := a.setupLogging(); err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings {
		a.log.Warn(w)
	}

	if err := locales.Init(cfg.AlertLanguage); err != nil {
		a.Close()
		return nil, fmt.Errorf("locales: %w", err)
	}

	if err := a.setupMetrics(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupPostLog(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupAlerts(); err != nil {
		a.Close()
		return nil, err
	}

	a.bluesky = bluesky.NewClient(bluesky.Config{
		Host:          cfg.Bluesky.Host,
		Identifier:    cfg.Bluesky.Username,
		Password:      cfg.Bluesky.Password,
		RatePerMinute: cfg.Bluesky.RatePerMinute,
	}, bluesky.FileSessionStore{Path: cfg.Bluesky.SessionFile}, a.sink)

	a.source, err = source.NewFeedSource(cfg.SourceFeedURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// setupLogging builds the console sink and, when a DSN is set, the Sentry sink.
func (a *app) setupLogging() error {
	console := observe.NewConsoleSink(os.Stderr, a.cfg.Debug)
	if a.cfg.SentryDSN == "" {
		a.sink = console
		a.log = observe.NewLogger(a.sink, "app")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              a.cfg.SentryDSN,
		Environment:      a.cfg.AppEnv,
		Release:          a.cfg.Version,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		Debug:            a.cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	a.closers = append(a.closers, func() { sentry.Flush(2 * time.Second) })
	a.sink = observe.Multi(console, observe.NewSentrySink(nil))
	a.log = observe.NewLogger(a.sink, "app")
	return nil
}

func (a *app) setupMetrics() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := metrics.NewObserver(a.registry)
	if err != nil {
		return err
	}
	a.observer = observer
	return nil
}

func (a *app) setupPostLog(ctx context.Context) error {
	if a.cfg.MongoDBURI == "" {
		a.postLog = database.NopPostLog{}
		a.log.Info("MONGODB_URI not set, published posts are not recorded")
		return nil
	}
	client, db, err := database.ConnectDB(ctx, a.cfg.MongoDBURI, a.cfg.MongoDBDatabase)
	if err != nil {
		a.log.Error(err, "MongoDB connection failed")
		return err
	}
	a.log.Info("Connected to MongoDB", "database", a.cfg.MongoDBDatabase)
	a.postLog = database.NewMongoPostLog(db)
	a.closers = append(a.closers, func() {
		if err := client.Disconnect(context.Background()); err != nil {
			a.log.Error(err, "Error disconnecting from MongoDB")
			return
		}
		a.log.Info("Disconnected from MongoDB")
	})
	return nil
}

func (a *app) setupAlerts() error {
	if !a.cfg.AlertsEnabled() {
		a.alerter = notify.NopAlerter{}
		return nil
	}
	var opts []telego.BotOption
	if a.cfg.Debug {
		opts = append(opts, telego.WithDefaultDebugLogger())
	}
	bot, err := telegoapi.NewBot(a.cfg.TelegramBotToken, opts...)
	if err != nil {
		a.log.Error(err, "Failed to create telegram bot")
		return fmt.Errorf("telegram bot: %w", err)
	}
	a.bot = bot
	a.alerter = notify.NewTelegramAlerter(bot, a.cfg.TelegramAlertChatID, a.cfg.AlertLanguage, a.sink)
	return nil
}

// login is startup-fatal on failure.
func (a *app) login(ctx context.Context) error {
	if err := a.bluesky.Login(ctx); err != nil {
		a.log.Error(err, "Bluesky login failed")
		return fmt.Errorf("bluesky login: %w", err)
	}
	a.log.Info("Logged in to Bluesky", "handle", a.bluesky.Handle())
	return nil
}

func (a *app) newLoop() (*mirror.Loop, error) {
	enricher, err := enrich.NewClient(a.cfg.Enrich.APIKey, a.cfg.Enrich.Host)
	if err != nil {
		return nil, err
	}

	fetcher := media.NewFetcher(a.cfg.ScratchDir, a.sink, media.WithObserver(a.observer))

	pubOpts := []publisher.Option{publisher.WithObserver(a.observer)}
	if a.cfg.Translation.Enabled {
		translator, err := translate.NewClient(a.cfg.Translation.APIKey, a.cfg.Translation.APIURL)
		switch {
		case errors.Is(err, translate.ErrTranslationDisabled):
			a.log.Warn("Translation disabled: no API key")
		case err != nil:
			return nil, err
		default:
			pubOpts = append(pubOpts, publisher.WithTranslation(translator, publisher.TranslationConfig{
				From: a.cfg.Translation.From,
				To:   a.cfg.Translation.To,
			}))
		}
	}
	pub := publisher.New(a.bluesky, a.sink, pubOpts...)

	return mirror.New(loopConfig(a.cfg), mirror.Deps{
		Source:    a.source,
		Enricher:  enricher,
		Media:     fetcher,
		Publisher: pub,
		PostLog:   a.postLog,
		Alerter:   a.alerter,
		Observer:  a.observer,
	}, a.sink)
}

func loopConfig(cfg *config.Config) mirror.Config {
	return mirror.Config{
		TargetUser:       cfg.TargetUser,
		PollInterval:     cfg.PollInterval,
		FallbackInterval: cfg.FallbackInterval,
	}
}

// startMetrics serves /metrics and /healthz in the background until ctx ends.
func (a *app) startMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		a.log.Info("Metrics listener started", "addr", a.cfg.MetricsAddr)
		if err := metrics.Serve(ctx, a.cfg.MetricsAddr, a.registry); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error(err, "Metrics listener stopped")
		}
	}()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
