package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers toasts.
type Notifier interface {
	Toast(ctx context.Context, t Toast) error
}

// Config selects the ntfy server and topic push toasts go to.
type Config struct {
	Enabled  bool
	Server   string
	Topic    string
	Priority string
	Tags     string
	Token    string // optional, for private topics
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// Toast pushes t to the configured ntfy topic.
func (c *Client) Toast(ctx context.Context, t Toast) error {
	if !c.config.Enabled {
		return nil
	}

	tags := c.config.Tags
	priority := c.config.Priority
	if t.Kind == KindInfo {
		tags += ",arrows_counterclockwise"
		priority = "low"
	}

	return c.send(ctx, t.Title, t.Body, tags, priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// LogToaster writes toasts to the log.
type LogToaster struct {
	logger *zap.Logger
}

func NewLogToaster(logger *zap.Logger) *LogToaster {
	return &LogToaster{logger: logger}
}

func (l *LogToaster) Toast(_ context.Context, t Toast) error {
	l.logger.Info(t.Title, zap.String("kind", string(t.Kind)), zap.String("body", t.Body))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// Toast is a no-op.
func (n *NoopNotifier) Toast(_ context.Context, _ Toast) error {
	return nil
}

// Multi fans a toast out to several notifiers.
type Multi []Notifier

func (m Multi) Toast(ctx context.Context, t Toast) error {
	var errs []error
	for _, n := range m {
		if err := n.Toast(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New creates the appropriate push notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
