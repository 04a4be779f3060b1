// Package translate wraps the translation API used for reply posts.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	// DefaultEndpoint is the DeepL free-tier translate endpoint.
	DefaultEndpoint = "https://api-free.deepl.com/v2/translate"
	requestTimeout  = 30 * time.Second
)

// ErrTranslationDisabled is returned when no API key is configured.
var ErrTranslationDisabled = errors.New("translation disabled: no API key")

// Client calls a DeepL-compatible API.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewClient returns ErrTranslationDisabled for an empty key.
func NewClient(apiKey, endpoint string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrTranslationDisabled
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: requestTimeout},
	}, nil
}

type translateRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
}

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// Translate returns the translated text, or "" when the API had nothing to say.
func (c *Client) Translate(ctx context.Context, text, from, to string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	target, err := apiLanguage(to)
	if err != nil {
		return "", fmt.Errorf("target language: %w", err)
	}
	source := ""
	if from != "" {
		if source, err = apiLanguage(from); err != nil {
			return "", fmt.Errorf("source language: %w", err)
		}
	}

	payload, err := json.Marshal(translateRequest{Text: []string{text}, SourceLang: source, TargetLang: target})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Translations) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Translations[0].Text), nil
}

// apiLanguage turns a BCP 47 tag into the upper-case code the API expects
// ("es" -> "ES", "en-GB" -> "EN-GB").
func apiLanguage(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", err
	}
	base, _ := tag.Base()
	out := strings.ToUpper(base.String())
	if region, conf := tag.Region(); conf == language.Exact {
		out += "-" + region.String()
	}
	return out, nil
}
