package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Zoho.TokenURL != "https://accounts.zoho.com/oauth/v2/token" {
		t.Errorf("expected default token URL, got %s", cfg.Zoho.TokenURL)
	}
	if cfg.Zoho.ProbePath != "/org" {
		t.Errorf("expected probe path /org, got %s", cfg.Zoho.ProbePath)
	}
	if cfg.Zoho.ExchangeTimeout != 10*time.Second {
		t.Errorf("expected 10s exchange timeout, got %v", cfg.Zoho.ExchangeTimeout)
	}
	if cfg.Zoho.ProbeTimeout != 5*time.Second {
		t.Errorf("expected 5s probe timeout, got %v", cfg.Zoho.ProbeTimeout)
	}
	if cfg.Webhooks.Timeout != 15*time.Second {
		t.Errorf("expected 15s webhook timeout, got %v", cfg.Webhooks.Timeout)
	}
}

func validTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Zoho.ClientID = "cid"
	cfg.Zoho.ClientSecret = "secret"
	cfg.Zoho.RefreshToken = "refresh"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing addr",
			modify:  func(c *Config) { c.Server.Addr = "" },
			wantErr: true,
		},
		{
			name:    "missing zoho credentials",
			modify:  func(c *Config) { c.Zoho.RefreshToken = "" },
			wantErr: true,
		},
		{
			name:    "missing token url",
			modify:  func(c *Config) { c.Zoho.TokenURL = "" },
			wantErr: true,
		},
		{
			name:    "webhook target with bad scheme",
			modify:  func(c *Config) { c.Webhooks.General = []string{"ftp://example.com/hook"} },
			wantErr: true,
		},
		{
			name: "webhook targets with supported schemes",
			modify: func(c *Config) {
				c.Webhooks.General = []string{"https://example.com/hook", "nats://localhost:4222/forms.submitted"}
			},
			wantErr: false,
		},
		{
			name:    "encrypted key without passphrase",
			modify:  func(c *Config) { c.Extract.EncryptedKey = "abc"; c.Extract.Passphrase = "" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "formbridge.yaml")

	content := `
server:
  addr: ":9090"
zoho:
  client_id: "test-client"
  client_secret: "test-secret"
  refresh_token: "test-refresh"
  call_timeout: 20s
webhooks:
  general:
    - "https://hooks.example.com/general"
    - "https://hooks.example.com/audit"
  vendor:
    - "https://hooks.example.com/vendor"
  timeout: 12s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Zoho.ClientID != "test-client" {
		t.Errorf("expected client id test-client, got %s", cfg.Zoho.ClientID)
	}
	if cfg.Zoho.CallTimeout != 20*time.Second {
		t.Errorf("expected call timeout 20s, got %v", cfg.Zoho.CallTimeout)
	}
	// Defaults survive for fields the file doesn't set
	if cfg.Zoho.TokenURL != "https://accounts.zoho.com/oauth/v2/token" {
		t.Errorf("expected default token URL to survive, got %s", cfg.Zoho.TokenURL)
	}
	if len(cfg.Webhooks.General) != 2 {
		t.Errorf("expected 2 general webhook targets, got %d", len(cfg.Webhooks.General))
	}
	if len(cfg.Webhooks.Vendor) != 1 {
		t.Errorf("expected 1 vendor webhook target, got %d", len(cfg.Webhooks.Vendor))
	}
	if cfg.Webhooks.Timeout != 12*time.Second {
		t.Errorf("expected webhook timeout 12s, got %v", cfg.Webhooks.Timeout)
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_FB_SECRET", "expanded-secret")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "formbridge.yaml")
	content := `
zoho:
  client_secret: "${TEST_FB_SECRET}"
  client_id: "${TEST_FB_MISSING:-fallback-id}"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Zoho.ClientSecret != "expanded-secret" {
		t.Errorf("expected expanded secret, got %q", cfg.Zoho.ClientSecret)
	}
	if cfg.Zoho.ClientID != "fallback-id" {
		t.Errorf("expected fallback default, got %q", cfg.Zoho.ClientID)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Server: ServerConfig{Addr: ":7777"},
		Webhooks: WebhookConfig{
			General: []string{"https://override.example.com/hook"},
		},
	}

	base.Merge(override)

	if base.Server.Addr != ":7777" {
		t.Errorf("expected addr :7777, got %s", base.Server.Addr)
	}
	// Token URL should remain from base since override didn't set it
	if base.Zoho.TokenURL != "https://accounts.zoho.com/oauth/v2/token" {
		t.Errorf("expected token URL to remain default, got %s", base.Zoho.TokenURL)
	}
	if len(base.Webhooks.General) != 1 || base.Webhooks.General[0] != "https://override.example.com/hook" {
		t.Errorf("expected merged general webhooks, got %v", base.Webhooks.General)
	}
}

func TestApplyEnvParsesCommaSeparatedTargets(t *testing.T) {
	t.Setenv("FORMBRIDGE_WEBHOOK_URLS", "https://a.example.com/h, https://b.example.com/h ,")
	t.Setenv("FORMBRIDGE_VENDOR_WEBHOOK_URLS", "nats://localhost:4222/vendors.registered")
	t.Setenv("ZOHO_CLIENT_ID", "env-client")

	cfg := DefaultConfig()
	cfg.applyEnv()

	if len(cfg.Webhooks.General) != 2 {
		t.Fatalf("expected 2 general targets, got %v", cfg.Webhooks.General)
	}
	if cfg.Webhooks.General[0] != "https://a.example.com/h" {
		t.Errorf("expected trimmed first target, got %q", cfg.Webhooks.General[0])
	}
	if len(cfg.Webhooks.Vendor) != 1 {
		t.Fatalf("expected 1 vendor target, got %v", cfg.Webhooks.Vendor)
	}
	if cfg.Zoho.ClientID != "env-client" {
		t.Errorf("expected env client id, got %q", cfg.Zoho.ClientID)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":6060"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Server.Addr != ":6060" {
		t.Errorf("expected addr :6060, got %s", loaded.Server.Addr)
	}
}

func TestRuntimeSwapsTargets(t *testing.T) {
	rt := NewRuntime(WebhookConfig{
		General: []string{"https://old.example.com/hook"},
	})

	if got := rt.GeneralTargets(); len(got) != 1 || got[0] != "https://old.example.com/hook" {
		t.Fatalf("unexpected initial targets: %v", got)
	}

	rt.SetWebhooks(WebhookConfig{
		General: []string{"https://new-a.example.com/hook", "https://new-b.example.com/hook"},
		Vendor:  []string{"https://vendor.example.com/hook"},
	})

	if got := rt.GeneralTargets(); len(got) != 2 {
		t.Errorf("expected 2 general targets after swap, got %v", got)
	}
	if got := rt.VendorTargets(); len(got) != 1 {
		t.Errorf("expected 1 vendor target after swap, got %v", got)
	}

	// Mutating the returned slice must not affect the runtime copy.
	got := rt.GeneralTargets()
	got[0] = "https://mutated.example.com"
	if rt.GeneralTargets()[0] == "https://mutated.example.com" {
		t.Error("returned slice aliases internal state")
	}
}

func TestWatcherReloadsWebhookTargets(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "formbridge.yaml")

	initial := `
webhooks:
  general:
    - "https://one.example.com/hook"
`
	if err := os.WriteFile(configPath, []byte(initial), 0644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("load initial config: %v", err)
	}
	rt := NewRuntime(cfg.Webhooks)

	w, err := NewWatcher(configPath, rt, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.debounce = 20 * time.Millisecond
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	updated := `
webhooks:
  general:
    - "https://one.example.com/hook"
    - "https://two.example.com/hook"
`
	if err := os.WriteFile(configPath, []byte(updated), 0644); err != nil {
		t.Fatalf("write updated config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(rt.GeneralTargets()) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("watcher did not swap targets, have %v", rt.GeneralTargets())
}
