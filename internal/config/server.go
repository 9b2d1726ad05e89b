package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig configures the development realtime backend.
type ServerConfig struct {
	Port string
	// Tokens maps accepted bearer tokens to user ids.
	Tokens          map[string]int64
	LongPollTimeout time.Duration
	QueueBacklog    int
	QueueTTL        time.Duration
	JanitorInterval time.Duration
	// Event script replay
	ScriptFile     string
	ScriptInterval time.Duration
	ScriptLoop     bool
	// Cross-process tab bus
	BusEnabled bool
}

func LoadServerConfig() (*ServerConfig, error) {
	tokens, err := parseTokens(getEnvOrDefault("TOKENS", "dev-token:1"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKENS: %w", err)
	}

	backlog, err := strconv.Atoi(getEnvOrDefault("QUEUE_BACKLOG", "500"))
	if err != nil || backlog < 1 {
		return nil, fmt.Errorf("invalid QUEUE_BACKLOG: must be a positive integer")
	}

	cfg := &ServerConfig{
		Port:            getEnvOrDefault("PORT", "8080"),
		Tokens:          tokens,
		LongPollTimeout: getDurationOrDefault("LONG_POLL_TIMEOUT", 55*time.Second),
		QueueBacklog:    backlog,
		QueueTTL:        getDurationOrDefault("QUEUE_TTL", 3*time.Minute),
		JanitorInterval: getDurationOrDefault("JANITOR_INTERVAL", 30*time.Second),
		ScriptFile:      getEnvOrDefault("SCRIPT_FILE", ""),
		ScriptInterval:  getDurationOrDefault("SCRIPT_INTERVAL", time.Second),
		ScriptLoop:      getEnvOrDefault("SCRIPT_LOOP", "false") == "true",
		BusEnabled:      getEnvOrDefault("BUS_ENABLED", "true") == "true",
	}

	return cfg, nil
}

// parseTokens reads "token:userId" pairs separated by commas.
func parseTokens(raw string) (map[string]int64, error) {
	tokens := make(map[string]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, ":")
		if !ok || token == "" {
			return nil, fmt.Errorf("expected token:userId, got %q", pair)
		}
		userID, err := strconv.ParseInt(user, 10, 64)
		if err != nil || userID <= 0 {
			return nil, fmt.Errorf("invalid user id in %q", pair)
		}
		tokens[token] = userID
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("at least one token is required")
	}
	return tokens, nil
}

func getDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnvOrDefault(key, defaultVal.String()))
	if err != nil || d <= 0 {
		return defaultVal // Default on parse error
	}
	return d
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
