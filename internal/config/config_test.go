package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{
  "server": {"addr": "127.0.0.1:9090"},
  "session": {"store_path": "./wa.db"},
  "message": {"template": "Hola {nombre}", "image_path": "./promo.png"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "alerts": {"enabled": false}}
}`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMinimalJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ResolvedAddr() != "127.0.0.1:9090" {
		t.Fatalf("addr = %q", cfg.Server.ResolvedAddr())
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	yml := `
server:
  addr: "0.0.0.0:8080"
session:
  reconnect_base: "1s"
  max_attempts: 5
message:
  template: "Hola {nombre}"
  image_path: "./promo.png"
  delay: "500ms"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
  alerts:
    enabled: false
`
	m := NewManager(writeConfig(t, "config.yaml", yml))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.ResolvedReconnectBase() != time.Second {
		t.Fatalf("reconnect_base = %v", cfg.Session.ResolvedReconnectBase())
	}
	if cfg.Session.ResolvedMaxAttempts() != 5 {
		t.Fatalf("max_attempts = %d", cfg.Session.ResolvedMaxAttempts())
	}
	if cfg.Message.ResolvedDelay() != 500*time.Millisecond {
		t.Fatalf("delay = %v", cfg.Message.ResolvedDelay())
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(minimalJSON, `"server"`, `"sevrer"`, 1)
	m := NewManager(writeConfig(t, "config.json", bad))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON+"{}"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	var cfg Config
	if cfg.Server.ResolvedAddr() != "127.0.0.1:8080" {
		t.Errorf("addr default = %q", cfg.Server.ResolvedAddr())
	}
	if cfg.Session.ResolvedReconnectBase() != 3*time.Second {
		t.Errorf("reconnect_base default = %v", cfg.Session.ResolvedReconnectBase())
	}
	if cfg.Session.ResolvedReconnectCap() != 60*time.Second {
		t.Errorf("reconnect_cap default = %v", cfg.Session.ResolvedReconnectCap())
	}
	if cfg.Session.ResolvedMaxAttempts() != 10 {
		t.Errorf("max_attempts default = %d", cfg.Session.ResolvedMaxAttempts())
	}
	if cfg.Session.ResolvedSendTimeout() != 30*time.Second {
		t.Errorf("send_timeout default = %v", cfg.Session.ResolvedSendTimeout())
	}
	if cfg.Message.ResolvedDelay() != 2*time.Second {
		t.Errorf("delay default = %v", cfg.Message.ResolvedDelay())
	}
	if cfg.Message.ResolvedRetryAttempts() != 2 {
		t.Errorf("retry_attempts default = %d", cfg.Message.ResolvedRetryAttempts())
	}
	if cfg.Uploads.ResolvedMaxBytes() != 10<<20 {
		t.Errorf("max_bytes default = %d", cfg.Uploads.ResolvedMaxBytes())
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Message: MessageConfig{Template: "Hola {nombre}", ImagePath: "./promo.png"},
			Logging: LoggingConfig{Level: "info"},
		}
	}

	cases := []struct {
		name    string
		mut     func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad duration", func(c *Config) { c.Message.Delay = "fast" }, "message.delay"},
		{"negative duration", func(c *Config) { c.Session.SendTimeout = "-1s" }, "session.send_timeout"},
		{"missing template", func(c *Config) { c.Message.Template = " " }, "message.template"},
		{"missing image", func(c *Config) { c.Message.ImagePath = "" }, "message.image_path"},
		{"schedule without spec", func(c *Config) { c.Schedule = &ScheduleConfig{Enabled: true} }, "schedule.spec"},
		{"alerts without token", func(c *Config) { c.Logging.Alerts = LoggingAlerts{Enabled: true, ChatID: 1} }, "logging.alerts.token"},
		{"alerts without chat", func(c *Config) { c.Logging.Alerts = LoggingAlerts{Enabled: true, Token: "x"} }, "logging.alerts.chat_id"},
		{"storage without path", func(c *Config) { c.Storage = &StorageConfig{} }, "storage.path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mut(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Message: MessageConfig{Template: "a", ImagePath: "i.png"}}
	newCfg := &Config{
		Message:  MessageConfig{Template: "b", ImagePath: "i.png"},
		Schedule: &ScheduleConfig{Enabled: true, Spec: "0 9 * * *"},
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := []string{"message", "schedule"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("no config delivered")
	}

	// A full buffer keeps the newest value.
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("expected newest config after overflow")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}
