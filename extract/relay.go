package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/formbridge/formbridge/metrics"
)

// maxResponseSize limits the upstream response body.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// systemPrompt frames every extraction request.
const systemPrompt = "You extract structured data from documents. " +
	"Respond with a single JSON object containing the requested fields " +
	"and nothing else."

// Relay forwards extraction requests to an OpenAI-compatible chat
// completions endpoint. The upstream API key stays sealed in the keybox
// until the moment a request is sent and is never logged.
type Relay struct {
	endpoint     string
	model        string
	encryptedKey string
	keybox       *Keybox

	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayHTTPClient sets a custom HTTP client.
func WithRelayHTTPClient(c *http.Client) RelayOption {
	return func(r *Relay) {
		r.httpClient = c
	}
}

// WithRelayTimeout sets the per-request timeout.
func WithRelayTimeout(d time.Duration) RelayOption {
	return func(r *Relay) {
		r.timeout = d
	}
}

// WithRelayLogger sets the logger.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// NewRelay creates a relay against the given chat-completions endpoint.
func NewRelay(endpoint, model, encryptedKey string, keybox *Keybox, opts ...RelayOption) *Relay {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if !strings.HasSuffix(endpoint, "/chat/completions") {
		endpoint += "/chat/completions"
	}

	r := &Relay{
		endpoint:     endpoint,
		model:        model,
		encryptedKey: encryptedKey,
		keybox:       keybox,
		httpClient:   &http.Client{},
		timeout:      60 * time.Second,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Request is one extraction ask: the document's extracted text plus the
// caller's instructions.
type Request struct {
	Document string
	Prompt   string
}

// Result is the relay outcome.
type Result struct {
	// Content is the raw model output.
	Content string

	// JSON is the cleaned JSON object pulled from Content, nil when the
	// model produced none.
	JSON json.RawMessage

	// Model is the model the upstream reports having used.
	Model string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Extract relays one request. Failures are classified: rate limits and
// 5xx responses are transient, auth and request errors fatal, so handlers
// can map them to distinct response codes.
func (r *Relay) Extract(ctx context.Context, req Request) (*Result, error) {
	if req.Document == "" {
		return nil, NewFatalError(errors.New("document text is required"))
	}
	if req.Prompt == "" {
		return nil, NewFatalError(errors.New("extraction prompt is required"))
	}

	result, err := r.send(ctx, req)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.ExtractionsTotal.WithLabelValues(outcome).Inc()

	return result, err
}

func (r *Relay) send(ctx context.Context, req Request) (*Result, error) {
	key, err := r.keybox.Open(r.encryptedKey)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("unseal api key: %w", err))
	}

	temperature := 0.0
	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt + "\n\n---\n\n" + req.Document},
		},
		Temperature: &temperature,
	})
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("encode request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	r.logger.Debug("Relaying extraction request",
		"endpoint", r.endpoint,
		"model", r.model,
		"document_bytes", len(req.Document))

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("relay request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read relay response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewFatalError(fmt.Errorf("parse relay response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, NewFatalError(errors.New("relay response has no choices"))
	}

	content := parsed.Choices[0].Message.Content
	result := &Result{
		Content: content,
		Model:   parsed.Model,
	}
	if cleaned := ExtractJSON(content); cleaned != "" && json.Valid([]byte(cleaned)) {
		result.JSON = json.RawMessage(cleaned)
	}

	return result, nil
}

// classifyStatus sorts upstream failures into transient and fatal.
func classifyStatus(statusCode int, body []byte) error {
	detail := string(body)
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}

	err := fmt.Errorf("extraction api error (status %d): %s", statusCode, detail)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	default:
		// 400/401/403 and anything unrecognized
		return NewFatalError(err)
	}
}
