// Package fanout delivers one payload to many independent destinations
// concurrently and aggregates per-target outcomes into a Report. A failed
// or slow destination never affects delivery to the others, and failed
// deliveries are reported, not retried or queued.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/formbridge/formbridge/metrics"
)

// AcceptFunc decides whether a completed HTTP delivery counts as accepted.
type AcceptFunc func(statusCode int) bool

// defaultAccept treats anything below 400 as accepted; 4xx and 5xx are
// completed-but-failed deliveries.
func defaultAccept(statusCode int) bool {
	return statusCode < 400
}

// Dispatcher delivers payloads to http(s):// and nats:// targets.
type Dispatcher struct {
	timeout    time.Duration
	accept     AcceptFunc
	detail     bool
	httpClient *http.Client
	logger     *slog.Logger
	conns      *natsPool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-target delivery timeout.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		dp.timeout = d
	}
}

// WithAccept replaces the acceptance predicate for HTTP deliveries.
func WithAccept(fn AcceptFunc) Option {
	return func(dp *Dispatcher) {
		dp.accept = fn
	}
}

// WithoutDetail drops the per-target Details list from reports, leaving
// only the counts.
func WithoutDetail() Option {
	return func(dp *Dispatcher) {
		dp.detail = false
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(dp *Dispatcher) {
		dp.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(dp *Dispatcher) {
		dp.logger = logger
	}
}

// New creates a Dispatcher. Defaults: 15s per-target timeout, accept
// status < 400, per-target detail enabled.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		timeout:    15 * time.Second,
		accept:     defaultAccept,
		detail:     true,
		httpClient: &http.Client{},
		logger:     slog.Default(),
		conns:      newNATSPool(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch JSON-encodes payload and delivers it to every target
// concurrently, returning once all targets have settled. An empty target
// list yields an empty Report; callers detect it via Report.Total() == 0.
func (d *Dispatcher) Dispatch(ctx context.Context, payload any, targets []string) Report {
	body, err := json.Marshal(payload)
	if err != nil {
		return Report{Err: fmt.Errorf("encode payload: %w", err)}
	}
	return d.DispatchJSON(ctx, body, targets)
}

// DispatchJSON delivers pre-encoded JSON bytes to every target. See
// Dispatch.
func (d *Dispatcher) DispatchJSON(ctx context.Context, payload []byte, targets []string) Report {
	if len(targets) == 0 {
		return Report{}
	}

	// Each goroutine owns one slot, so input order is preserved without
	// locking regardless of completion order.
	deliveries := make([]Delivery, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			deliveries[i] = d.deliver(ctx, target, payload)
		}(i, target)
	}
	wg.Wait()

	var report Report
	for _, delivery := range deliveries {
		if delivery.OK {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	if d.detail {
		report.Details = deliveries
	}

	d.logger.Debug("Fan-out settled",
		"targets", len(targets),
		"succeeded", report.Succeeded,
		"failed", report.Failed)

	return report
}

// Close releases pooled broker connections. HTTP targets need no cleanup.
func (d *Dispatcher) Close() {
	d.conns.close()
}

// deliver routes one target by scheme and records its outcome.
func (d *Dispatcher) deliver(ctx context.Context, target string, payload []byte) Delivery {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	scheme := targetScheme(target)
	var delivery Delivery
	switch scheme {
	case "http", "https":
		delivery = d.deliverHTTP(ctx, target, payload)
	case "nats":
		delivery = d.deliverNATS(ctx, target, payload)
	default:
		delivery = Delivery{Error: fmt.Sprintf("unsupported target scheme %q", scheme)}
		scheme = "unknown"
	}

	delivery.Target = target
	delivery.Duration = time.Since(start)

	outcome := metrics.OutcomeFailure
	if delivery.OK {
		outcome = metrics.OutcomeSuccess
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(scheme, outcome).Inc()
	metrics.WebhookDeliveryDuration.WithLabelValues(scheme).Observe(delivery.Duration.Seconds())

	if !delivery.OK {
		d.logger.Warn("Webhook delivery failed",
			"target", target,
			"status", delivery.StatusCode,
			"error", delivery.Error)
	}

	return delivery
}

func targetScheme(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
