// Package crisisline wraps the external crisis-line connect API.
package crisisline

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

	"log/slog"
)

const defaultUserAgent = "havenmind-crisis-engine/0.1"

// Config controls how the connector behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// ConnectRequest identifies the person and channel the live session is for.
type ConnectRequest struct {
	SessionID string `json:"sessionId"`
	UserRef   string `json:"userRef"`
	Severity  string `json:"severity"`
	Channel   string `json:"channel"`
	Anonymous bool   `json:"anonymous"`
}

// ConnectResult is the provider's answer to a connect attempt.
type ConnectResult struct {
	SessionID       string `json:"sessionId"`
	Status          string `json:"status"`
	WaitTimeSeconds int    `json:"waitTimeSeconds"`
}

// Client wraps the crisis-line REST endpoint used by the orchestrator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("crisisline: base URL is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// Connect requests a live session. The caller owns retry policy; a single
// call maps to a single provider attempt.
func (c *Client) Connect(ctx context.Context, req ConnectRequest) (ConnectResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ConnectResult{}, fmt.Errorf("crisisline: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/connect", bytes.NewReader(body))
	if err != nil {
		return ConnectResult{}, fmt.Errorf("crisisline: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ConnectResult{}, fmt.Errorf("crisisline: connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ConnectResult{}, fmt.Errorf("crisisline: connect returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result ConnectResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ConnectResult{}, fmt.Errorf("crisisline: decode response: %w", err)
	}
	if result.SessionID == "" {
		return ConnectResult{}, errors.New("crisisline: response missing session id")
	}
	return result, nil
}
