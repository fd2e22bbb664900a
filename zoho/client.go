package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/formbridge/formbridge/metrics"
)

// maxResponseSize limits CRM and token response bodies to prevent memory
// exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client is an authenticated Zoho CRM REST client. Every call asks the
// TokenCache for a credential first; a 401 response triggers exactly one
// forced refresh and replay before the failure is surfaced as an AuthError.
type Client struct {
	baseURL string
	tokens  *TokenCache

	httpClient  *http.Client
	callTimeout time.Duration
	triggers    []string
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.callTimeout = d
	}
}

// WithTriggers restricts which CRM automations fire on write calls
// ("workflow", "approval", "blueprint"). Default is nil, which lets the
// CRM run all of them.
func WithTriggers(triggers ...string) ClientOption {
	return func(client *Client) {
		client.triggers = triggers
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a CRM client rooted at baseURL (e.g.
// "https://www.zohoapis.com/crm/v2").
func NewClient(baseURL string, tokens *TokenCache, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		tokens:      tokens,
		httpClient:  &http.Client{},
		callTimeout: 15 * time.Second,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Insert creates records in the given module and returns the per-record
// results. Any record the CRM marks unsuccessful fails the call with an
// *APIError carrying the CRM's code.
func (c *Client) Insert(ctx context.Context, module Module, records []Record) ([]RecordResult, error) {
	results, err := c.write(ctx, http.MethodPost, "/"+string(module), records, nil)
	c.observe(module, "insert", err)
	return results, err
}

// Update updates existing records. Each record must carry its "id" field.
func (c *Client) Update(ctx context.Context, module Module, records []Record) ([]RecordResult, error) {
	results, err := c.write(ctx, http.MethodPut, "/"+string(module), records, nil)
	c.observe(module, "update", err)
	return results, err
}

// Upsert inserts or updates records, matching existing ones on the given
// duplicate-check fields.
func (c *Client) Upsert(ctx context.Context, module Module, records []Record, duplicateCheckFields []string) ([]RecordResult, error) {
	results, err := c.write(ctx, http.MethodPost, "/"+string(module)+"/upsert", records, duplicateCheckFields)
	c.observe(module, "upsert", err)
	return results, err
}

// Get fetches a single record by id. Returns ErrNotFound when the CRM
// reports no such record.
func (c *Client) Get(ctx context.Context, module Module, id string) (Record, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/"+string(module)+"/"+id, nil, "", nil)
	if err != nil {
		c.observe(module, "get", err)
		return nil, err
	}

	switch {
	case status == http.StatusNoContent, status == http.StatusNotFound:
		c.observe(module, "get", ErrNotFound)
		return nil, ErrNotFound
	case status >= 400:
		err := newAPIError(status, body)
		c.observe(module, "get", err)
		return nil, err
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		err = fmt.Errorf("parse record response: %w", err)
		c.observe(module, "get", err)
		return nil, err
	}
	if len(parsed.Data) == 0 {
		c.observe(module, "get", ErrNotFound)
		return nil, ErrNotFound
	}

	c.observe(module, "get", nil)
	return parsed.Data[0], nil
}

// Delete removes a record by id. Returns ErrNotFound when the CRM reports
// no such record.
func (c *Client) Delete(ctx context.Context, module Module, id string) error {
	status, body, err := c.do(ctx, http.MethodDelete, "/"+string(module)+"/"+id, nil, "", nil)
	if err != nil {
		c.observe(module, "delete", err)
		return err
	}
	if status == http.StatusNotFound {
		c.observe(module, "delete", ErrNotFound)
		return ErrNotFound
	}
	if status >= 400 {
		err := newAPIError(status, body)
		c.observe(module, "delete", err)
		return err
	}

	c.observe(module, "delete", nil)
	return nil
}

// Search queries a module with a CRM criteria expression, e.g.
// "(Email:equals:jane@example.com)". A 204 response means no matches and
// yields an empty slice, not an error.
func (c *Client) Search(ctx context.Context, module Module, criteria string) ([]Record, error) {
	query := url.Values{}
	query.Set("criteria", criteria)
	records, err := c.read(ctx, "/"+string(module)+"/search", query)
	c.observe(module, "search", err)
	return records, err
}

// List fetches a page of records. page and perPage follow the CRM's
// 1-based pagination; zero values leave the CRM defaults in place.
func (c *Client) List(ctx context.Context, module Module, page, perPage int) ([]Record, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", fmt.Sprintf("%d", page))
	}
	if perPage > 0 {
		query.Set("per_page", fmt.Sprintf("%d", perPage))
	}
	records, err := c.read(ctx, "/"+string(module), query)
	c.observe(module, "list", err)
	return records, err
}

// UploadAttachment attaches a file to an existing record.
func (c *Client) UploadAttachment(ctx context.Context, module Module, id, filename string, content io.Reader) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("copy attachment content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	path := "/" + string(module) + "/" + id + "/Attachments"
	status, body, err := c.do(ctx, http.MethodPost, path, nil, writer.FormDataContentType(), buf.Bytes())
	if err != nil {
		c.observe(module, "attach", err)
		return err
	}
	if status >= 400 {
		err := newAPIError(status, body)
		c.observe(module, "attach", err)
		return err
	}

	c.observe(module, "attach", nil)
	return nil
}

// write sends a record envelope and checks both the HTTP status and the
// per-record result codes.
func (c *Client) write(ctx context.Context, method, path string, records []Record, duplicateCheckFields []string) ([]RecordResult, error) {
	if len(records) == 0 {
		return nil, errors.New("no records to send")
	}

	envelope := recordEnvelope{
		Data:                 records,
		Trigger:              c.triggers,
		DuplicateCheckFields: duplicateCheckFields,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}

	status, body, err := c.do(ctx, method, path, nil, "application/json", payload)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, newAPIError(status, body)
	}

	var parsed writeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse write response: %w", err)
	}

	// The CRM reports per-record failures inside a 2xx envelope.
	for _, result := range parsed.Data {
		if result.Code != "SUCCESS" {
			return parsed.Data, &APIError{
				Status:  status,
				Code:    result.Code,
				Message: result.Message,
				Body:    string(body),
			}
		}
	}

	return parsed.Data, nil
}

// read performs a GET returning a record list. 204 means no matches.
func (c *Client) read(ctx context.Context, path string, query url.Values) ([]Record, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, query, "", nil)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNoContent {
		return []Record{}, nil
	}
	if status >= 400 {
		return nil, newAPIError(status, body)
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse list response: %w", err)
	}

	return parsed.Data, nil
}

// do executes one authenticated CRM call. On a 401 it invalidates the
// cached token and replays the request once; a second 401 surfaces as an
// AuthError rather than looping.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	status, respBody, err := c.doOnce(ctx, method, path, query, contentType, body)
	if err != nil {
		return 0, nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.Warn("CRM rejected cached token, refreshing and replaying",
			"method", method,
			"path", path)
		c.tokens.Invalidate()

		status, respBody, err = c.doOnce(ctx, method, path, query, contentType, body)
		if err != nil {
			return 0, nil, err
		}
		if status == http.StatusUnauthorized {
			return 0, nil, &AuthError{
				Status: status,
				Body:   string(respBody),
				err:    errors.New("crm rejected freshly exchanged token"),
			}
		}
	}

	return status, respBody, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) (int, []byte, error) {
	cred, err := c.tokens.Acquire(ctx)
	if err != nil {
		return 0, nil, err
	}

	callURL := c.baseURL + path
	if len(query) > 0 {
		callURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, callURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create crm request: %w", err)
	}
	req.Header.Set("Authorization", authScheme+" "+cred.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("crm request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("read crm response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// observe records the call outcome metric.
func (c *Client) observe(module Module, operation string, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.CRMCallsTotal.WithLabelValues(string(module), operation, outcome).Inc()
}

// newAPIError builds an APIError from a CRM error response, picking up the
// CRM's code/message fields when the body carries them.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Body: string(body)}

	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		e.Code = parsed.Code
		e.Message = parsed.Message
	}

	return e
}
