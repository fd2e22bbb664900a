package config

import "sync"

// Runtime holds the configuration values that may be swapped while the
// service is running (currently the webhook target lists). Readers get a
// copy; a single writer (the watcher) replaces the whole value so callers
// never observe a partially updated list.
type Runtime struct {
	mu       sync.RWMutex
	webhooks WebhookConfig
}

// NewRuntime creates a runtime holder seeded from the loaded configuration.
func NewRuntime(webhooks WebhookConfig) *Runtime {
	return &Runtime{webhooks: webhooks}
}

// Webhooks returns the current webhook configuration.
func (r *Runtime) Webhooks() WebhookConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.webhooks
}

// SetWebhooks atomically replaces the webhook configuration.
func (r *Runtime) SetWebhooks(webhooks WebhookConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks = webhooks
}

// GeneralTargets returns the general fan-out destination list.
func (r *Runtime) GeneralTargets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.webhooks.General...)
}

// VendorTargets returns the vendor-specific fan-out destination list.
func (r *Runtime) VendorTargets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.webhooks.Vendor...)
}
