package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

// Client is the realtime backend consumed by the engine.
type Client interface {
	Register(ctx context.Context, accessToken string) (*RegisterResponse, error)
	Poll(ctx context.Context, accessToken, queueID string, lastEventID int64) (*PollResponse, error)
	Heartbeat(ctx context.Context, accessToken, queueID string) error
}

type RegisterResponse struct {
	QueueID     string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

type PollResponse struct {
	Events          []model.Event `json:"events"`
	LastEventID     int64         `json:"last_event_id"`
	CatchupRequired bool          `json:"catchup_required,omitempty"`
}

type HeartbeatRequest struct {
	QueueID string `json:"queue_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type HTTPClient struct {
	httpClient     *http.Client
	baseURL        string
	limiter        *rate.Limiter
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewClient creates a client for the realtime endpoints under baseURL.
// The underlying http.Client has no global timeout: the poll is bounded by
// the caller's context, the short calls by requestTimeout.
func NewClient(baseURL string, ratePerSec int, requestTimeout time.Duration, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if ratePerSec < 1 {
		ratePerSec = 1
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: gzhttp.Transport(transport),
		},
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		limiter:        rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

func (c *HTTPClient) Register(ctx context.Context, accessToken string) (*RegisterResponse, error) {
	ctx, cancel := c.shortContext(ctx)
	defer cancel()

	body, err := c.do(ctx, "register", http.MethodPost, "/realtime/register", accessToken, nil)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding register response: %w", err)
	}
	if resp.QueueID == "" {
		return nil, fmt.Errorf("register: empty queue_id in response")
	}
	return &resp, nil
}

// Poll blocks until the server returns events, its own long-poll timeout
// elapses, or ctx is done.
func (c *HTTPClient) Poll(ctx context.Context, accessToken, queueID string, lastEventID int64) (*PollResponse, error) {
	q := url.Values{}
	q.Set("queue_id", queueID)
	q.Set("last_event_id", strconv.FormatInt(lastEventID, 10))

	body, err := c.do(ctx, "poll", http.MethodGet, "/realtime/poll?"+q.Encode(), accessToken, nil)
	if err != nil {
		return nil, err
	}

	var resp PollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding poll response: %w", err)
	}
	if resp.CatchupRequired {
		return &resp, ErrCatchupRequired
	}
	return &resp, nil
}

func (c *HTTPClient) Heartbeat(ctx context.Context, accessToken, queueID string) error {
	ctx, cancel := c.shortContext(ctx)
	defer cancel()

	_, err := c.do(ctx, "heartbeat", http.MethodPost, "/realtime/heartbeat", accessToken, HeartbeatRequest{QueueID: queueID})
	return err
}

func (c *HTTPClient) shortContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, accessToken string, payload any) ([]byte, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("realtime request", zap.String("op", op), zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("%s: reading body: %w", op, readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(op, resp.StatusCode, body)
	}

	// Some deployments report a missing queue with 200 and an error body.
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && isQueueNotFound(errResp.Error) {
		return nil, fmt.Errorf("%s: %w", op, ErrQueueNotFound)
	}

	return body, nil
}

func classifyStatus(op string, status int, body []byte) error {
	var errResp errorResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
		if isQueueNotFound(msg) && status != http.StatusUnauthorized && status != http.StatusForbidden {
			return fmt.Errorf("%s: %w", op, ErrQueueNotFound)
		}
	}
	return &StatusError{Op: op, StatusCode: status, Body: msg}
}

func isQueueNotFound(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "queue not found")
}
