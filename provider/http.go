package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	schedulererrors "github.com/jasonzhangf/pipeline-scheduler/errors"
	"github.com/jasonzhangf/pipeline-scheduler/logging"
)

// HTTPAdapter generalizes the teacher's BaseClient
// (ai/providers/base.go) from an AI-specific chat-completion client
// into a provider-agnostic JSON-over-HTTP adapter: same exponential
// backoff retry loop and status-code classification, applied to
// whatever upstream a PipelineConfig.customConfig names.
type HTTPAdapter struct {
	Name       string
	BaseURL    string
	HTTPClient *http.Client
	Logger     logging.Logger

	MaxRetries int
	RetryDelay time.Duration
}

// NewHTTPAdapter builds an adapter posting JSON payloads to baseURL.
func NewHTTPAdapter(name, baseURL string, timeout time.Duration, logger logging.Logger) *HTTPAdapter {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &HTTPAdapter{
		Name:       name,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

func (h *HTTPAdapter) Initialize(ctx context.Context) error { return nil }

func (h *HTTPAdapter) Destroy(ctx context.Context) error {
	h.HTTPClient.CloseIdleConnections()
	return nil
}

func (h *HTTPAdapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

// Execute posts payload as JSON and decodes the JSON response,
// retrying transport errors and 5xx/429 responses with exponential
// backoff exactly as BaseClient.ExecuteWithRetry does; 4xx errors
// (other than 429) return immediately as non-retryable.
func (h *HTTPAdapter) Execute(ctx context.Context, payload interface{}) (interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", h.Name, err)
	}

	var lastErr error
	delay := h.RetryDelay
	for attempt := 0; attempt <= h.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%s: building request: %w", h.Name, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.HTTPClient.Do(req)
		if err == nil && resp.StatusCode < 400 {
			defer resp.Body.Close()
			var out interface{}
			data, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, fmt.Errorf("%s: reading response: %w", h.Name, readErr)
			}
			if err := json.Unmarshal(data, &out); err != nil {
				return nil, fmt.Errorf("%s: decoding response: %w", h.Name, err)
			}
			return out, nil
		}

		if err == nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			defer resp.Body.Close()
			return nil, h.handleError(resp.StatusCode)
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = h.handleError(resp.StatusCode)
			resp.Body.Close()
		}

		if attempt == h.MaxRetries {
			break
		}

		h.Logger.Debug("retrying provider request", map[string]interface{}{
			"provider": h.Name, "attempt": attempt + 1, "delay": delay.String(), "error": lastErr,
		})

		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%s: request failed after %d retries: %w", h.Name, h.MaxRetries, lastErr)
}

// handleError classifies an upstream HTTP status into the taxonomy so
// the scheduler's error handler can act on it (spec §7): a 401/403
// enters Maintenance and drives CredentialProvider.Refresh, a 429
// blacklists, a 400 never retries.
func (h *HTTPAdapter) handleError(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return schedulererrors.New(schedulererrors.CodeAuthenticationFailed,
			fmt.Sprintf("%s: authentication failed (status %d)", h.Name, statusCode))
	case http.StatusTooManyRequests:
		return schedulererrors.New(schedulererrors.CodeRateLimitExceeded,
			fmt.Sprintf("%s: rate limit exceeded", h.Name))
	case http.StatusBadRequest:
		return schedulererrors.New(schedulererrors.CodeInvalidRequest,
			fmt.Sprintf("%s: invalid request (status %d)", h.Name, statusCode))
	default:
		return schedulererrors.New(schedulererrors.CodeConnectionFailed,
			fmt.Sprintf("%s: upstream error (status %d)", h.Name, statusCode))
	}
}

// HTTPFactory builds HTTPAdapters from customConfig {"baseUrl",
// "timeout"}.
type HTTPFactory struct {
	Logger logging.Logger
}

func (f HTTPFactory) Name() string  { return "http" }
func (f HTTPFactory) Priority() int { return 50 }

func (f HTTPFactory) Create(customConfig map[string]interface{}) (Adapter, error) {
	baseURL, _ := customConfig["baseUrl"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("http provider: customConfig.baseUrl is required")
	}
	timeout := 30 * time.Second
	if t, ok := customConfig["timeout"].(time.Duration); ok && t > 0 {
		timeout = t
	}
	return NewHTTPAdapter("http", baseURL, timeout, f.Logger), nil
}

func (f HTTPFactory) DetectEnvironment() (int, bool) { return f.Priority(), false }
