package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		API: APIConfig{Enabled: true, BaseURL: "http://localhost:8080", RatePerSecond: 5},
		Realtime: RealtimeConfig{
			PollTimeout:       65 * time.Second,
			HeartbeatInterval: 60 * time.Second,
			LeaseTTL:          5 * time.Second,
			BackoffFloor:      time.Second,
			BackoffCap:        10 * time.Second,
			MaxRetries:        3,
		},
		State:   StateConfig{Directory: "state"},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_DisabledAPIIgnoresURL(t *testing.T) {
	cfg := validConfig()
	cfg.API.Enabled = false
	cfg.API.BaseURL = "not a url"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error when API disabled, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.API.BaseURL = "ftp://example.test"
	cfg.Realtime.BackoffCap = 500 * time.Millisecond
	cfg.Realtime.LeaseTTL = 0
	cfg.Bus.URL = "http://localhost/bus"
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}

	want := []string{"api.base_url", "realtime.lease_ttl", "realtime.backoff_cap", "bus.url", "logging.level"}
	if len(verrs.Fields) != len(want) {
		t.Fatalf("expected %d errors, got %d: %v", len(want), len(verrs.Fields), verrs)
	}
	for i, field := range want {
		if verrs.Fields[i].Field != field {
			t.Errorf("error %d: expected field %s, got %s", i, field, verrs.Fields[i].Field)
		}
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error message should mention %s, got: %v", field, err)
		}
	}
}

func TestValidate_Ntfy(t *testing.T) {
	tests := []struct {
		name   string
		ntfy   NtfyConfig
		fields []string
	}{
		{"disabled ignores topic", NtfyConfig{Priority: "bogus"}, nil},
		{"enabled needs topic", NtfyConfig{Enabled: true, Priority: "default"}, []string{"notify.ntfy.topic"}},
		{"enabled checks priority", NtfyConfig{Enabled: true, Topic: "rt", Priority: "loud"}, []string{"notify.ntfy.priority"}},
		{"enabled valid", NtfyConfig{Enabled: true, Topic: "rt", Priority: "high"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Notify.Ntfy = tt.ntfy

			err := cfg.Validate()
			if tt.fields == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			var got []string
			for _, f := range verrs.Fields {
				got = append(got, f.Field)
			}
			if strings.Join(got, ",") != strings.Join(tt.fields, ",") {
				t.Errorf("expected fields %v, got %v", tt.fields, got)
			}
		})
	}
}
