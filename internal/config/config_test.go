package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
telegram:
  token: "file-token"
  owner_user_ids: [42]
  poll_timeout: 10s
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: Asia/Seoul
plugins:
  recruit:
    enabled: true
    config:
      default_capacity: 6
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestParseYAMLAndEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		environ   map[string]string
		wantToken string
	}{
		{name: "file", environ: map[string]string{}, wantToken: "file-token"},
		{name: "bare TOKEN", environ: map[string]string{"TOKEN": "bare"}, wantToken: "bare"},
		{name: "prefixed wins", environ: map[string]string{"TOKEN": "bare", "PARTYBOT_TELEGRAM_TOKEN": "pref"}, wantToken: "pref"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
			m.SetEnviron(tt.environ)
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Telegram.Token != tt.wantToken {
				t.Fatalf("token = %q, want %q", cfg.Telegram.Token, tt.wantToken)
			}
			if !cfg.Plugins["recruit"].Enabled {
				t.Fatalf("recruit plugin not enabled")
			}
			var pc struct {
				DefaultCapacity int `json:"default_capacity"`
			}
			if err := json.Unmarshal(cfg.Plugins["recruit"].Config, &pc); err != nil || pc.DefaultCapacity != 6 {
				t.Fatalf("plugin config = %s (%v)", cfg.Plugins["recruit"].Config, err)
			}
			if m.Get() != cfg {
				t.Fatalf("Load did not commit")
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{name: "unknown field", file: "c.json", body: `{"telegram":{"token":"x"},"bogus":1}`, want: "bogus"},
		{name: "unknown plugin field", file: "c.json", body: `{"telegram":{"token":"x"},"plugins":{"recruit":{"enabled":true,"timeout":"1s"}}}`, want: "timeout"},
		{name: "trailing data", file: "c.json", body: `{"telegram":{"token":"x"}}{}`, want: "trailing"},
		{name: "missing token", file: "c.json", body: `{"telegram":{}}`, want: "Token"},
		{name: "bad duration", file: "c.json", body: `{"telegram":{"token":"x","poll_timeout":"soon"}}`, want: "duration"},
		{name: "bad driver", file: "c.json", body: `{"telegram":{"token":"x"},"storage":{"driver":"mongo"}}`, want: "oneof"},
		{name: "bad timezone", file: "c.json", body: `{"telegram":{"token":"x"},"scheduler":{"timezone":"Mars/Base"}}`, want: "timezone"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager(writeFile(t, tt.file, tt.body))
			m.SetEnviron(map[string]string{})
			_, err := m.Parse()
			if err == nil {
				t.Fatalf("Parse succeeded, want error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestStoragePathFromEnv(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "c.json", `{"telegram":{"token":"x"}}`))
	m.SetEnviron(map[string]string{"PARTYBOT_STORAGE_PATH": "/var/lib/partybot", "PARTYBOT_LOG_LEVEL": "warn"})
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage == nil || cfg.Storage.Path != "/var/lib/partybot" || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level = %q, want warn", cfg.Logging.Level)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Plugins: map[string]PluginConfigRaw{
			"recruit": {Enabled: true, Config: json.RawMessage(`{"a":1,"b":2}`)},
		},
	}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Logging:  LoggingConfig{Level: "debug"},
		Plugins: map[string]PluginConfigRaw{
			"recruit": {Enabled: true, Config: json.RawMessage(`{ "b": 2, "a": 1 }`)},
			"echo":    {Enabled: true},
		},
	}
	sections, _, plugins := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "logging,plugins" {
		t.Fatalf("sections = %v", sections)
	}
	if strings.Join(plugins, ",") != "echo" {
		t.Fatalf("plugins = %v, want [echo] (key order must not count)", plugins)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5)
	if err != nil || d != 5 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration accepted")
	}
}

func TestExampleConfigParses(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("../../config.example.yaml")
	m.SetEnviron(map[string]string{"TOKEN": "example"})
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Debug == nil || cfg.Debug.Enabled || cfg.Debug.Addr != "127.0.0.1:6060" {
		t.Fatalf("debug = %+v", cfg.Debug)
	}
	for _, name := range []string{"system", "recruit"} {
		if !cfg.Plugins[name].Enabled {
			t.Fatalf("plugin %s not enabled", name)
		}
	}
}

func TestDebugSectionValidated(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "c.json", `{"telegram":{"token":"x"},"debug":{"enabled":true,"addr":"not an addr"}}`))
	m.SetEnviron(map[string]string{})
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "hostname_port") {
		t.Fatalf("err = %v, want hostname_port failure", err)
	}
}
