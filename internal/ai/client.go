package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"devgroup-bot/internal/domain"
)

// ErrEmptyResponse is returned when the model answered but no usable text
// or image could be extracted from the response body.
var ErrEmptyResponse = errors.New("ai: response contained no usable output")

const responseBodyLimit = 16 << 20

// Client talks to the remote generation endpoints. The upstream gateway is
// inconsistent about auth header shape and request schema across model
// versions, so both are negotiated per request: raw key first, Bearer on
// 401; flat schema first, params-wrapped on 422.
type Client struct {
	httpClient  *http.Client
	textURL     string
	imageURL    string
	apiKey      string
	maxTokens   int
	temperature float64
	logger      *logrus.Logger
}

type Options struct {
	TextURL     string
	ImageURL    string
	APIKey      string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Logger      *logrus.Logger
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		textURL:     opts.TextURL,
		imageURL:    opts.ImageURL,
		apiKey:      opts.APIKey,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      opts.Logger,
	}
}

// Chat sends the conversation and returns the model's text reply.
func (c *Client) Chat(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	flat := map[string]any{
		"messages":    messages,
		"max_tokens":  c.maxTokens,
		"temperature": c.temperature,
	}

	body, status, err := c.post(ctx, c.textURL, flat)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnprocessableEntity {
		// Some model versions expect the arguments wrapped in "params".
		c.logger.Debug("text endpoint rejected flat schema, retrying wrapped")
		body, status, err = c.post(ctx, c.textURL, map[string]any{
			"params": flat,
		})
		if err != nil {
			return "", err
		}
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("ai: text endpoint returned status %d", status)
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Some gateways answer with the bare text.
		if s := strings.TrimSpace(string(body)); s != "" {
			return s, nil
		}
		return "", fmt.Errorf("ai: malformed response: %w", err)
	}

	text, ok := firstText(parsed)
	if !ok || strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(text), nil
}

// Image is a generated picture, delivered either by URL or inline.
type Image struct {
	URL  string
	Data []byte
}

// GenerateImage asks the image endpoint for a picture of the prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	body, status, err := c.post(ctx, c.imageURL, map[string]any{"prompt": prompt})
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnprocessableEntity {
		body, status, err = c.post(ctx, c.imageURL, map[string]any{
			"params": map[string]any{"prompt": prompt},
		})
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("ai: image endpoint returned status %d", status)
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("ai: malformed image response: %w", err)
	}

	raw, ok := firstText(parsed)
	if !ok || raw == "" {
		return nil, ErrEmptyResponse
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return &Image{URL: raw}, nil
	}

	// Inline payloads arrive base64 encoded, sometimes as a data URI.
	if i := strings.Index(raw, "base64,"); i >= 0 {
		raw = raw[i+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("ai: image payload is neither url nor base64: %w", err)
	}
	return &Image{Data: data}, nil
}

// post sends one JSON request, upgrading the auth header to Bearer when the
// raw key form is rejected.
func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("ai: encode request: %w", err)
	}

	body, status, err := c.doPost(ctx, url, encoded, c.apiKey)
	if err != nil {
		return nil, 0, err
	}
	if status == http.StatusUnauthorized && c.apiKey != "" {
		c.logger.Debug("raw api key rejected, retrying with bearer prefix")
		body, status, err = c.doPost(ctx, url, encoded, "Bearer "+c.apiKey)
		if err != nil {
			return nil, 0, err
		}
	}
	return body, status, nil
}

func (c *Client) doPost(ctx context.Context, url string, payload []byte, authHeader string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, 0, fmt.Errorf("ai: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// textKeys are tried in order at every nesting level.
var textKeys = []string{"text", "content", "message", "output", "response", "url", "image", "data", "choices", "result"}

// firstText walks an arbitrarily shaped response and returns the first
// non-empty string found under a known output key, depth first.
func firstText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		if val != "" {
			return val, true
		}
	case []any:
		for _, item := range val {
			if s, ok := firstText(item); ok {
				return s, true
			}
		}
	case map[string]any:
		for _, key := range textKeys {
			if inner, ok := val[key]; ok {
				if s, ok := firstText(inner); ok {
					return s, true
				}
			}
		}
	}
	return "", false
}
