// Package config provides configuration loading and management for FormBridge.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete FormBridge configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Zoho     ZohoConfig    `yaml:"zoho"`
	Webhooks WebhookConfig `yaml:"webhooks"`
	Extract  ExtractConfig `yaml:"extract"`
	Uploads  UploadConfig  `yaml:"uploads"`
	Log      LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address (default ":8080")
	Addr string `yaml:"addr"`
	// ReadTimeout is the maximum time to read a request
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout is the maximum time to write a response
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// IdleTimeout is the keep-alive timeout
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// ShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ZohoConfig configures the upstream CRM connection and token exchange.
type ZohoConfig struct {
	// ClientID is the OAuth client id issued by the Zoho API console
	ClientID string `yaml:"client_id"`
	// ClientSecret is the OAuth client secret
	ClientSecret string `yaml:"client_secret"`
	// RefreshToken is the long-lived refresh token used for every exchange
	RefreshToken string `yaml:"refresh_token"`
	// TokenURL is the OAuth token endpoint
	TokenURL string `yaml:"token_url"`
	// APIBaseURL is the CRM REST base (default https://www.zohoapis.com/crm/v2)
	APIBaseURL string `yaml:"api_base_url"`
	// ProbePath is the low-cost introspection path used to validate a cached
	// token before reuse. Empty disables probing.
	ProbePath string `yaml:"probe_path"`
	// ExchangeTimeout bounds the token exchange call
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
	// ProbeTimeout bounds the validation probe call
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// CallTimeout bounds each CRM REST call
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// WebhookConfig configures fan-out destinations. URLs may use the http,
// https or nats scheme; see the fanout package for delivery semantics.
type WebhookConfig struct {
	// General receives every processed write payload
	General []string `yaml:"general"`
	// Vendor receives vendor-registration payloads instead of General
	Vendor []string `yaml:"vendor"`
	// Timeout bounds each individual delivery
	Timeout time.Duration `yaml:"timeout"`
}

// ExtractConfig configures the AI document extraction relay.
type ExtractConfig struct {
	// Endpoint is the OpenAI-compatible chat completions URL
	Endpoint string `yaml:"endpoint"`
	// Model is the model identifier sent with each request
	Model string `yaml:"model"`
	// EncryptedKey is the provider API key sealed with AES-GCM and
	// base64-encoded. Decrypted at call time with Passphrase.
	EncryptedKey string `yaml:"encrypted_key"`
	// Passphrase unlocks EncryptedKey. Set via EXTRACT_KEY_PASSPHRASE.
	Passphrase string `yaml:"passphrase"`
	// Timeout bounds each relay call
	Timeout time.Duration `yaml:"timeout"`
	// MaxDocumentBytes caps the size of a document accepted for extraction
	MaxDocumentBytes int64 `yaml:"max_document_bytes"`
}

// UploadConfig configures multipart attachment handling.
type UploadConfig struct {
	// MaxBytes caps the total multipart request size
	MaxBytes int64 `yaml:"max_bytes"`
	// AllowedPatterns are doublestar glob patterns matched against uploaded
	// filenames (case-insensitive). Empty allows all.
	AllowedPatterns []string `yaml:"allowed_patterns"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Zoho: ZohoConfig{
			TokenURL:        "https://accounts.zoho.com/oauth/v2/token",
			APIBaseURL:      "https://www.zohoapis.com/crm/v2",
			ProbePath:       "/org",
			ExchangeTimeout: 10 * time.Second,
			ProbeTimeout:    5 * time.Second,
			CallTimeout:     15 * time.Second,
		},
		Webhooks: WebhookConfig{
			Timeout: 15 * time.Second,
		},
		Extract: ExtractConfig{
			Endpoint:         "https://api.openai.com/v1/chat/completions",
			Model:            "gpt-4o-mini",
			Timeout:          60 * time.Second,
			MaxDocumentBytes: 10 * 1024 * 1024,
		},
		Uploads: UploadConfig{
			MaxBytes:        20 * 1024 * 1024,
			AllowedPatterns: []string{"*.pdf", "*.png", "*.jpg", "*.jpeg"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is usable. Empty webhook lists are
// not an error (a deployment may be CRM-only); handlers log when a write
// completes with no destinations configured.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Zoho.TokenURL == "" {
		return fmt.Errorf("zoho.token_url is required")
	}
	if c.Zoho.APIBaseURL == "" {
		return fmt.Errorf("zoho.api_base_url is required")
	}
	if c.Zoho.ClientID == "" || c.Zoho.ClientSecret == "" || c.Zoho.RefreshToken == "" {
		return fmt.Errorf("zoho credentials are required (client_id, client_secret, refresh_token)")
	}
	for _, list := range [][]string{c.Webhooks.General, c.Webhooks.Vendor} {
		for _, target := range list {
			u, err := url.Parse(target)
			if err != nil {
				return fmt.Errorf("invalid webhook target %q: %w", target, err)
			}
			switch u.Scheme {
			case "http", "https", "nats":
			default:
				return fmt.Errorf("unsupported webhook target scheme %q in %q", u.Scheme, target)
			}
		}
	}
	if c.Extract.EncryptedKey != "" && c.Extract.Passphrase == "" {
		return fmt.Errorf("extract.passphrase is required when extract.encrypted_key is set")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. Environment references
// of the form ${VAR} inside the file are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	expanded := ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}
	if other.Server.IdleTimeout != 0 {
		c.Server.IdleTimeout = other.Server.IdleTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// Zoho
	if other.Zoho.ClientID != "" {
		c.Zoho.ClientID = other.Zoho.ClientID
	}
	if other.Zoho.ClientSecret != "" {
		c.Zoho.ClientSecret = other.Zoho.ClientSecret
	}
	if other.Zoho.RefreshToken != "" {
		c.Zoho.RefreshToken = other.Zoho.RefreshToken
	}
	if other.Zoho.TokenURL != "" {
		c.Zoho.TokenURL = other.Zoho.TokenURL
	}
	if other.Zoho.APIBaseURL != "" {
		c.Zoho.APIBaseURL = other.Zoho.APIBaseURL
	}
	if other.Zoho.ProbePath != "" {
		c.Zoho.ProbePath = other.Zoho.ProbePath
	}
	if other.Zoho.ExchangeTimeout != 0 {
		c.Zoho.ExchangeTimeout = other.Zoho.ExchangeTimeout
	}
	if other.Zoho.ProbeTimeout != 0 {
		c.Zoho.ProbeTimeout = other.Zoho.ProbeTimeout
	}
	if other.Zoho.CallTimeout != 0 {
		c.Zoho.CallTimeout = other.Zoho.CallTimeout
	}

	// Webhooks
	if len(other.Webhooks.General) > 0 {
		c.Webhooks.General = other.Webhooks.General
	}
	if len(other.Webhooks.Vendor) > 0 {
		c.Webhooks.Vendor = other.Webhooks.Vendor
	}
	if other.Webhooks.Timeout != 0 {
		c.Webhooks.Timeout = other.Webhooks.Timeout
	}

	// Extract
	if other.Extract.Endpoint != "" {
		c.Extract.Endpoint = other.Extract.Endpoint
	}
	if other.Extract.Model != "" {
		c.Extract.Model = other.Extract.Model
	}
	if other.Extract.EncryptedKey != "" {
		c.Extract.EncryptedKey = other.Extract.EncryptedKey
	}
	if other.Extract.Passphrase != "" {
		c.Extract.Passphrase = other.Extract.Passphrase
	}
	if other.Extract.Timeout != 0 {
		c.Extract.Timeout = other.Extract.Timeout
	}
	if other.Extract.MaxDocumentBytes != 0 {
		c.Extract.MaxDocumentBytes = other.Extract.MaxDocumentBytes
	}

	// Uploads
	if other.Uploads.MaxBytes != 0 {
		c.Uploads.MaxBytes = other.Uploads.MaxBytes
	}
	if len(other.Uploads.AllowedPatterns) > 0 {
		c.Uploads.AllowedPatterns = other.Uploads.AllowedPatterns
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
