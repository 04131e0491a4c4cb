package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		wantFields []string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:       "empty listen address",
			mutate:     func(c *Config) { c.Server.ListenAddress = "" },
			wantFields: []string{"server.listen_address"},
		},
		{
			name:       "negative timeouts",
			mutate:     func(c *Config) { c.Server.ReadTimeout = -1; c.Store.OpTimeout = -1 },
			wantFields: []string{"server.read_timeout", "store.op_timeout"},
		},
		{
			name:       "sqlite without path",
			mutate:     func(c *Config) { c.Jobs.SQLite.Path = "" },
			wantFields: []string{"jobs.sqlite.path"},
		},
		{
			name:   "memory backend ignores sqlite settings",
			mutate: func(c *Config) { c.Audit.Backend = "memory"; c.Audit.SQLite.Path = "" },
		},
		{
			name:       "default limit above max",
			mutate:     func(c *Config) { c.Audit.DefaultQueryLimit = 500; c.Audit.MaxQueryLimit = 100 },
			wantFields: []string{"audit.default_query_limit"},
		},
		{
			name:       "interval too short",
			mutate:     func(c *Config) { c.Aging.Interval = 10 * time.Millisecond },
			wantFields: []string{"aging.interval"},
		},
		{
			name:   "schedule replaces interval",
			mutate: func(c *Config) { c.Aging.Interval = 10 * time.Millisecond; c.Aging.Schedule = "*/5 * * * *" },
		},
		{
			name:       "webhook with relative url",
			mutate:     func(c *Config) { c.Aging.Deleter.Type = "webhook"; c.Aging.Deleter.WebhookURL = "/intents" },
			wantFields: []string{"aging.deleter.webhook_url"},
		},
		{
			name:       "tls without files",
			mutate:     func(c *Config) { c.Server.TLS.Enabled = true },
			wantFields: []string{"server.tls.cert_file", "server.tls.key_file"},
		},
		{
			name:       "tls 1.1",
			mutate:     func(c *Config) { c.Server.TLS.MinVersion = "1.1" },
			wantFields: []string{"server.tls.min_version"},
		},
		{
			name:       "auth without keys",
			mutate:     func(c *Config) { c.Server.Auth.Enabled = true },
			wantFields: []string{"server.auth.keys"},
		},
		{
			name: "auth keys",
			mutate: func(c *Config) {
				c.Server.Auth.Enabled = true
				c.Server.Auth.Keys = []APIKeyConfig{
					{Name: "ops", Key: "0123456789abcdef"},
					{Name: "ops", Key: "short"},
					{Name: "", Key: "0123456789abcdef"},
				}
			},
			wantFields: []string{"server.auth.keys[1].name", "server.auth.keys[1].key", "server.auth.keys[2].name", "server.auth.keys[2].key"},
		},
		{
			name: "auth key secret reference",
			mutate: func(c *Config) {
				c.Server.Auth.Enabled = true
				c.Server.Auth.Keys = []APIKeyConfig{{Name: "ops", Key: "${secret:ops}"}}
			},
		},
		{
			name:       "secrets watch without dir",
			mutate:     func(c *Config) { c.Secrets.Watch = true },
			wantFields: []string{"secrets.watch"},
		},
		{
			name:   "webhook with url",
			mutate: func(c *Config) { c.Aging.Deleter.Type = "webhook"; c.Aging.Deleter.WebhookURL = "http://localhost:9000/intents" },
		},
		{
			name:       "bad metrics path and buckets",
			mutate:     func(c *Config) { c.Telemetry.Metrics.Path = "metrics"; c.Telemetry.Metrics.SweepDurationBuckets = []float64{1, 1} },
			wantFields: []string{"telemetry.metrics.path", "telemetry.metrics.sweep_duration_buckets"},
		},
		{
			name:       "bad health path",
			mutate:     func(c *Config) { c.Telemetry.Health.ReadinessPath = "ready" },
			wantFields: []string{"telemetry.health.readiness_path"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			var fields []string
			for _, fe := range verr.Errors {
				fields = append(fields, fe.Field)
			}
			for _, want := range tt.wantFields {
				found := false
				for _, f := range fields {
					if f == want {
						found = true
					}
				}
				if !found {
					t.Errorf("fields %v missing %q", fields, want)
				}
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	one := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if got := one.Error(); got != "configuration validation failed: a: bad" {
		t.Errorf("Error() = %q", got)
	}

	two := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}}
	if got := two.Error(); !strings.Contains(got, "2 errors") || !strings.Contains(got, "  - b: worse") {
		t.Errorf("Error() = %q", got)
	}
}
