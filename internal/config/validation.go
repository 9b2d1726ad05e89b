package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

var (
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validNtfyPriority = []string{"min", "low", "default", "high", "urgent"}
)

// FieldError is one invalid setting.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []FieldError
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.Fields {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", f.Field, f.Reason))
	}
	return sb.String()
}

// Validate checks the settings that would otherwise fail at runtime. A
// missing access token is not an error: the engine stays disabled until
// a session is supplied.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.API.Enabled && strings.TrimSpace(c.API.BaseURL) != "" {
		if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.add("api.base_url", "must be an http(s) URL, got %q", c.API.BaseURL)
		}
	}
	if c.API.RatePerSecond < 1 {
		errs.add("api.rate_per_second", "must be >= 1")
	}

	r := c.Realtime
	if r.PollTimeout <= 0 {
		errs.add("realtime.poll_timeout", "must be positive")
	}
	if r.HeartbeatInterval <= 0 {
		errs.add("realtime.heartbeat_interval", "must be positive")
	}
	if r.LeaseTTL <= 0 {
		errs.add("realtime.lease_ttl", "must be positive")
	}
	if r.BackoffFloor <= 0 {
		errs.add("realtime.backoff_floor", "must be positive")
	}
	if r.BackoffCap < r.BackoffFloor {
		errs.add("realtime.backoff_cap", "must be >= backoff_floor (%s)", r.BackoffFloor)
	}
	if r.MaxRetries < 0 {
		errs.add("realtime.max_retries", "must be >= 0")
	}

	if strings.TrimSpace(c.State.Directory) == "" {
		errs.add("state.directory", "is required")
	}
	if c.Bus.URL != "" {
		if u, err := url.Parse(c.Bus.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs.add("bus.url", "must be a ws(s) URL, got %q", c.Bus.URL)
		}
	}

	if c.Notify.Ntfy.Enabled {
		if strings.TrimSpace(c.Notify.Ntfy.Topic) == "" {
			errs.add("notify.ntfy.topic", "is required when ntfy is enabled")
		}
		if !slices.Contains(validNtfyPriority, c.Notify.Ntfy.Priority) {
			errs.add("notify.ntfy.priority", "must be one of %s", strings.Join(validNtfyPriority, ", "))
		}
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Logging.Level)) {
		errs.add("logging.level", "must be one of %s", strings.Join(validLogLevels, ", "))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
