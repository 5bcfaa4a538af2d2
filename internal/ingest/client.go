// Package ingest calls the external course ingestion service.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-proposals/pkg/config"
)

const maxErrorBody = 64 << 10

// Result carries the identifiers assigned by the ingestion service.
type Result struct {
	CourseID   string `json:"courseId"`
	SnapshotID string `json:"snapshotId"`
}

// HTTPStatusError reports a response the ingestion service answered but did not accept.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d - %s", e.Code, e.Body)
}

// TransportError reports a request that never produced a usable response.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return e.Cause.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Client posts proposal payloads to the ingestion endpoint. It never retries.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient builds a client for cfg. httpClient may be nil.
func NewClient(cfg config.IngestConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if httpClient.Timeout == 0 || httpClient.Timeout > timeout {
		httpClient.Timeout = timeout
	}
	resource := cfg.Resource
	if resource == "" {
		resource = "courses"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: fmt.Sprintf("%s/v1/%s/ingest", strings.TrimRight(cfg.BaseURL, "/"), resource),
		token:    cfg.Token,
		http:     httpClient,
		logger:   logger,
	}
}

// Endpoint returns the URL payloads are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ingest submits payload with idempotencyKey. Failures are *HTTPStatusError or *TransportError.
func (c *Client) Ingest(ctx context.Context, payload []byte, idempotencyKey string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Cause: fmt.Errorf("build ingest request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, &TransportError{Cause: fmt.Errorf("read ingest response: %w", err)}
	}

	c.logger.Debug("ingest response",
		zap.String("idempotency_key", idempotencyKey),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &HTTPStatusError{Code: resp.StatusCode, Body: fmt.Sprintf("invalid response body: %v", err)}
	}
	if result.CourseID == "" {
		return nil, &HTTPStatusError{Code: resp.StatusCode, Body: "response missing courseId"}
	}
	return &result, nil
}
