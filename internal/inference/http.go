package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"enmap/internal/config"
	"enmap/internal/logging"
	"enmap/internal/types"
)

// HTTPClient calls a JSON-over-HTTP inference endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// httpRequest is the wire request. The model field lets one endpoint host
// several backends.
type httpRequest struct {
	Model       string   `json:"model,omitempty"`
	PointName   string   `json:"pointName"`
	DeviceType  string   `json:"deviceType"`
	DeviceID    string   `json:"deviceId,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Description string   `json:"description,omitempty"`
	Vocabulary  []string `json:"vocabulary"`
}

// NewHTTPClient creates a client for the configured endpoint.
func NewHTTPClient(cfg config.InferenceConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("inference base URL is required for the http provider")
	}
	timeout := cfg.TimeoutDuration()
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (c *HTTPClient) Name() string { return "http" }

// MapPoint posts the question and decodes the answer. Failures are mapped
// onto the engine's error taxonomy: timeouts and 5xx responses are
// transient, malformed bodies are permanent.
func (c *HTTPClient) MapPoint(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(httpRequest{
		Model:       c.model,
		PointName:   req.PointName,
		DeviceType:  req.DeviceType,
		DeviceID:    req.DeviceID,
		Unit:        req.Unit,
		Description: req.Description,
		Vocabulary:  req.Vocabulary,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/map-point", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create inference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			logging.InferenceError("inference call timed out after %s: %v", time.Since(start), err)
			return nil, &types.TimeoutError{Op: "inference.MapPoint", Budget: c.timeout}
		}
		return nil, &types.InferenceServiceError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &types.InferenceServiceError{Status: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &types.InferenceServiceError{Status: resp.StatusCode, Message: truncate(string(respBody), 256)}
	default:
		// 4xx besides 429: our request was wrong, retrying cannot help.
		return nil, &types.MalformedResponseError{Reason: fmt.Sprintf("service rejected request with status %d: %s", resp.StatusCode, truncate(string(respBody), 256))}
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &types.MalformedResponseError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := validateResponse(&out); err != nil {
		return nil, err
	}

	logging.InferenceDebug("mapped %s -> %s (conf=%.2f, %s)",
		req.PointName, out.TargetPath, out.Confidence, time.Since(start).Round(time.Millisecond))
	return &out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
