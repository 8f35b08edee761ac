package notify

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

	"github.com/havenmind/crisis-engine/pkg/logging"
)

// SMSSender sends text messages to emergency contacts.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// SMSConfig configures the HTTP SMS provider client.
type SMSConfig struct {
	BaseURL    string
	APIKey     string
	FromNumber string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPSMSSender posts messages to a REST SMS gateway.
type HTTPSMSSender struct {
	baseURL    string
	apiKey     string
	fromNumber string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewHTTPSMSSender creates an SMS sender. Returns an error when the gateway
// URL is missing.
func NewHTTPSMSSender(cfg SMSConfig, logger *logging.Logger) (*HTTPSMSSender, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("notify: SMS base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPSMSSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		fromNumber: cfg.FromNumber,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]string{
		"from": s.fromNumber,
		"to":   to,
		"text": body,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal SMS: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send SMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: SMS gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	s.logger.Info("sms sent", "to", to)
	return nil
}
