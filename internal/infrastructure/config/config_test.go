package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
lavviebot:
  base_url: "http://127.0.0.1:9999"
  poll_interval: 30s
  request_timeout: 5s
  max_rate_limit_retries: 2
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Lavviebot.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.Lavviebot.PollInterval)
	}
	if cfg.Lavviebot.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.Lavviebot.RequestTimeout)
	}
	if cfg.Lavviebot.MaxRateLimitRetries != 2 {
		t.Errorf("MaxRateLimitRetries = %d, want 2", cfg.Lavviebot.MaxRateLimitRetries)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	// Untouched sections keep defaults.
	if cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("MQTT.DiscoveryPrefix = %q, want homeassistant", cfg.MQTT.DiscoveryPrefix)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Lavviebot.BaseURL = "" },
			wantErr: "lavviebot.base_url",
		},
		{
			name:    "poll interval too short",
			mutate:  func(c *Config) { c.Lavviebot.PollInterval = 100 * time.Millisecond },
			wantErr: "lavviebot.poll_interval",
		},
		{
			name:    "timeout longer than interval",
			mutate:  func(c *Config) { c.Lavviebot.RequestTimeout = 2 * time.Minute },
			wantErr: "shorter than",
		},
		{
			name:    "rate limit retries zero",
			mutate:  func(c *Config) { c.Lavviebot.MaxRateLimitRetries = 0 },
			wantErr: "max_rate_limit_retries",
		},
		{
			name:    "rate limit retries above cap",
			mutate:  func(c *Config) { c.Lavviebot.MaxRateLimitRetries = MaxRateLimitRetries + 1 },
			wantErr: "max_rate_limit_retries",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name:    "api enabled without secret",
			mutate:  func(c *Config) { c.API.Enabled = true },
			wantErr: "security.jwt.secret is required",
		},
		{
			name: "api enabled with short secret",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.Security.JWT.Secret = "short"
			},
			wantErr: "at least 32 characters",
		},
		{
			name: "api enabled with valid secret",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.Security.JWT.Secret = validJWTSecret
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("PURRSONG_LAVVIEBOT_URL", "http://cloud.test")
	t.Setenv("PURRSONG_DATABASE_PATH", "/custom/path.db")
	t.Setenv("PURRSONG_MQTT_HOST", "mqtt.example.com")
	t.Setenv("PURRSONG_MQTT_USERNAME", "testuser")
	t.Setenv("PURRSONG_MQTT_PASSWORD", "testpass")
	t.Setenv("PURRSONG_API_HOST", "192.168.1.1")
	t.Setenv("PURRSONG_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("PURRSONG_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Lavviebot.BaseURL", cfg.Lavviebot.BaseURL, "http://cloud.test"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Lavviebot.PollInterval != 60*time.Second {
		t.Errorf("default PollInterval = %v, want 60s", cfg.Lavviebot.PollInterval)
	}
	if cfg.Lavviebot.RequestTimeout != 8*time.Second {
		t.Errorf("default RequestTimeout = %v, want 8s", cfg.Lavviebot.RequestTimeout)
	}
	if cfg.Lavviebot.MaxRateLimitRetries != 1 {
		t.Errorf("default MaxRateLimitRetries = %d, want 1", cfg.Lavviebot.MaxRateLimitRetries)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}
