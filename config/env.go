package config

import (
	"os"
	"strings"
	"time"
)

// ExpandEnv expands ${VAR} and ${VAR:-default} references in s using the
// process environment. Unset variables without a default expand to the
// empty string.
func ExpandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if idx := strings.Index(name, ":-"); idx >= 0 {
			def := name[idx+2:]
			if v, ok := os.LookupEnv(name[:idx]); ok && v != "" {
				return v
			}
			return def
		}
		return os.Getenv(name)
	})
}

// applyEnv overrides configuration fields from environment variables.
// Environment wins over every file layer.
func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "FORMBRIDGE_ADDR")
	setString(&c.Log.Level, "FORMBRIDGE_LOG_LEVEL")

	setString(&c.Zoho.ClientID, "ZOHO_CLIENT_ID")
	setString(&c.Zoho.ClientSecret, "ZOHO_CLIENT_SECRET")
	setString(&c.Zoho.RefreshToken, "ZOHO_REFRESH_TOKEN")
	setString(&c.Zoho.TokenURL, "ZOHO_TOKEN_URL")
	setString(&c.Zoho.APIBaseURL, "ZOHO_API_BASE_URL")

	setList(&c.Webhooks.General, "FORMBRIDGE_WEBHOOK_URLS")
	setList(&c.Webhooks.Vendor, "FORMBRIDGE_VENDOR_WEBHOOK_URLS")
	setDuration(&c.Webhooks.Timeout, "FORMBRIDGE_WEBHOOK_TIMEOUT")

	setString(&c.Extract.Endpoint, "EXTRACT_ENDPOINT")
	setString(&c.Extract.Model, "EXTRACT_MODEL")
	setString(&c.Extract.EncryptedKey, "EXTRACT_API_KEY_ENCRYPTED")
	setString(&c.Extract.Passphrase, "EXTRACT_KEY_PASSPHRASE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList parses a comma-separated environment value into a string slice,
// trimming whitespace and dropping empty entries.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}
