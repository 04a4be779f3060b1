package locales

import (
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed *.json
var localeFS embed.FS

// DefaultLanguage is used when Init has not been called.
const DefaultLanguage = "en"

var (
	mu              sync.RWMutex
	bundle          *i18n.Bundle
	defaultLanguage = language.English
)

// Init loads the embedded message files and sets the default language.
// It may be called again to change the default.
func Init(defaultLangCode string) error {
	tag, err := language.Parse(defaultLangCode)
	if err != nil {
		log.Printf("WARN: Failed to parse default language code '%s': %v. Falling back to English.", defaultLangCode, err)
		tag = language.English
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read embedded locales: %w", err)
	}
	loaded := 0
	for _, file := range entries {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		if _, err := b.LoadMessageFileFS(localeFS, file.Name()); err != nil {
			return fmt.Errorf("load message file %s: %w", file.Name(), err)
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("no message files embedded")
	}

	mu.Lock()
	bundle = b
	defaultLanguage = tag
	mu.Unlock()
	return nil
}

// GetDefaultLanguageTag returns the configured default language tag.
func GetDefaultLanguageTag() language.Tag {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLanguage
}

// NewLocalizer creates a localizer for the given language preferences
// (e.g. "en", "es-MX"). The bundle is initialised with English on first use.
func NewLocalizer(langPrefs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(currentBundle(), langPrefs...)
}

// GetMessage renders msgID, falling back to English and finally to the ID itself.
func GetMessage(localizer *i18n.Localizer, msgID string, templateData map[string]any) string {
	cfg := &i18n.LocalizeConfig{MessageID: msgID, TemplateData: templateData}

	msg, err := localizer.Localize(cfg)
	if err == nil {
		return msg
	}
	english := i18n.NewLocalizer(currentBundle(), language.English.String())
	if msg, fallbackErr := english.Localize(cfg); fallbackErr == nil {
		return msg
	}
	log.Printf("ERROR: Failed to localize message ID '%s': %v. Returning ID.", msgID, err)
	return msgID
}

// Message is a shortcut for GetMessage(NewLocalizer(lang), msgID, data).
func Message(lang, msgID string, data map[string]any) string {
	return GetMessage(NewLocalizer(lang), msgID, data)
}

func currentBundle() *i18n.Bundle {
	mu.RLock()
	b := bundle
	mu.RUnlock()
	if b != nil {
		return b
	}
	if err := Init(DefaultLanguage); err != nil {
		log.Panicf("i18n bundle initialization failed: %v", err)
	}
	mu.RLock()
	defer mu.RUnlock()
	return bundle
}
