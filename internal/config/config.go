// Package config loads the mirror's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"skymirror/internal/bluesky"
	"skymirror/internal/enrich"
	"skymirror/internal/source"
)

// DefaultEnvFile is read when present; real environment variables win.
const DefaultEnvFile = ".env"

// Config holds the application configuration.
type Config struct {
	AppEnv    string
	Debug     bool
	Version   string
	SentryDSN string

	TargetUser       string
	PollInterval     time.Duration
	FallbackInterval time.Duration
	SourceFeedURL    string
	ScratchDir       string

	Enrich      EnrichConfig
	Bluesky     BlueskyConfig
	Translation TranslationConfig

	MongoDBURI      string
	MongoDBDatabase string

	TelegramBotToken    string
	TelegramAlertChatID int64
	AlertLanguage       string

	MetricsAddr string

	// Warnings collects non-fatal problems found while loading, for the
	// caller to log once logging is set up.
	Warnings []string
}

// EnrichConfig configures the post content API.
type EnrichConfig struct {
	APIKey string
	Host   string
}

// BlueskyConfig configures the destination account.
type BlueskyConfig struct {
	Host          string
	Username      string
	Password      string
	SessionFile   string
	RatePerMinute int
}

// TranslationConfig configures the optional translated reply.
type TranslationConfig struct {
	Enabled bool
	From    string
	To      string
	APIKey  string
	APIURL  string
}

// AlertsEnabled reports whether Telegram alerts are configured.
func (c *Config) AlertsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramAlertChatID != 0
}

// LoadConfig loads configuration from environment variables, after loading
// envFile if it exists. An empty envFile skips the file entirely.
func LoadConfig(envFile string) (*Config, error) {
	cfg := &Config{}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			cfg.warn("No %s file found, relying on environment variables", envFile)
		}
	}

	var errs []error
	cfg.AppEnv = getEnv("APP_ENV", "development")
	cfg.Version = getEnv("VERSION", "dev")
	cfg.SentryDSN = getEnv("SENTRY_DSN", "")
	cfg.Debug = cfg.parseBool("DEBUG", false)

	cfg.TargetUser = strings.TrimPrefix(strings.TrimSpace(getEnv("TARGET_USER", "")), "@")
	cfg.PollInterval = parseSeconds("CHECK_INTERVAL", 300, &errs)
	cfg.FallbackInterval = parseSeconds("FALLBACK_INTERVAL", 300, &errs)
	cfg.SourceFeedURL = getEnv("SOURCE_FEED_URL", source.DefaultFeedURL)
	cfg.ScratchDir = getEnv("SCRATCH_DIR", "media")

	cfg.Enrich = EnrichConfig{
		APIKey: getEnv("RAPIDAPI_KEY", ""),
		Host:   getEnv("RAPIDAPI_HOST", enrich.DefaultHost),
	}

	cfg.Bluesky = BlueskyConfig{
		Host:          getEnv("BLUESKY_PDS", bluesky.DefaultHost),
		Username:      getEnv("BLUESKY_USERNAME", ""),
		Password:      getEnv("BLUESKY_PASSWORD", ""),
		SessionFile:   getEnv("SESSION_FILE", "session.txt"),
		RatePerMinute: parseInt("PUBLISH_RATE_PER_MINUTE", 30, &errs),
	}

	cfg.Translation = TranslationConfig{
		Enabled: cfg.parseBool("TRANSLATION_ENABLED", false),
		From:    getEnv("TRANSLATION_FROM", "es"),
		To:      getEnv("TRANSLATION_TO", "en"),
		APIKey:  getEnv("TRANSLATION_API_KEY", ""),
		APIURL:  getEnv("TRANSLATION_API_URL", ""),
	}

	cfg.MongoDBURI = getEnv("MONGODB_URI", "")
	cfg.MongoDBDatabase = getEnv("MONGODB_DATABASE", "skymirror")

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	if raw := getEnv("TELEGRAM_ALERT_CHAT_ID", ""); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid TELEGRAM_ALERT_CHAT_ID: %w", err))
		}
		cfg.TelegramAlertChatID = id
	}
	cfg.AlertLanguage = getEnv("ALERT_LANGUAGE", "en")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.TargetUser == "" {
		errs = append(errs, errors.New("TARGET_USER is required"))
	}
	if c.Enrich.APIKey == "" {
		errs = append(errs, errors.New("RAPIDAPI_KEY is required"))
	}
	if strings.Count(c.SourceFeedURL, "%s") != 1 {
		errs = append(errs, fmt.Errorf("SOURCE_FEED_URL %q must contain exactly one %%s", c.SourceFeedURL))
	}
	if c.Bluesky.Username == "" || c.Bluesky.Password == "" {
		if !fileExists(c.Bluesky.SessionFile) {
			errs = append(errs, errors.New("BLUESKY_USERNAME and BLUESKY_PASSWORD are required when no session file exists"))
		}
	}
	if c.Bluesky.RatePerMinute < 0 {
		errs = append(errs, errors.New("PUBLISH_RATE_PER_MINUTE must not be negative"))
	}

	for key, code := range map[string]string{
		"TRANSLATION_FROM": c.Translation.From,
		"TRANSLATION_TO":   c.Translation.To,
		"ALERT_LANGUAGE":   c.AlertLanguage,
	} {
		if _, err := language.Parse(code); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, code, err))
		}
	}

	if c.Translation.Enabled && c.Translation.APIKey == "" {
		c.Translation.Enabled = false
		c.warn("TRANSLATION_ENABLED is set but TRANSLATION_API_KEY is empty. Translation disabled.")
	}
	if c.SentryDSN == "" {
		c.warn("SENTRY_DSN is not set. Error tracking disabled.")
	}
	if c.TelegramBotToken != "" && c.TelegramAlertChatID == 0 {
		c.warn("TELEGRAM_BOT_TOKEN is set without TELEGRAM_ALERT_CHAT_ID. Alerts disabled.")
	}
	return errs
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) parseBool(key string, def bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		c.warn("Invalid %s %q, using %t", key, raw, def)
		return def
	}
	return v
}

func parseInt(key string, def int, errs *[]error) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}

func parseSeconds(key string, def int, errs *[]error) time.Duration {
	n := parseInt(key, def, errs)
	if n <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a positive number of seconds", key))
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// getEnv retrieves an environment variable or returns a default value.
// A variable set to the empty string counts as unset.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
