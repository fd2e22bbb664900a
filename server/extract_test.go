package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbridge/formbridge/extract"
	"github.com/formbridge/formbridge/server"
)

func newRelay(t *testing.T, endpoint string) *extract.Relay {
	t.Helper()

	keybox, err := extract.NewKeybox("unit-passphrase")
	require.NoError(t, err)
	sealed, err := keybox.Seal("sk-unit-key")
	require.NoError(t, err)

	return extract.NewRelay(endpoint, "gpt-4o-mini", sealed, keybox,
		extract.WithRelayLogger(discardLogger()))
}

// rejectAI fails the test if the AI provider is reached at all.
func rejectAI(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected AI provider call: %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExtractNotConfigured(t *testing.T) {
	env := newEnv(t, rejectCRM(t))

	rec := env.postJSON(t, "/api/extract", `{"document":"INVOICE #42","prompt":"total?"}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")
}

func TestExtractRelaysDocumentText(t *testing.T) {
	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-unit-key", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		if assert.NotEmpty(t, req.Messages) {
			last := req.Messages[len(req.Messages)-1]
			assert.Equal(t, "user", last.Role)
			assert.Contains(t, last.Content, "INVOICE #42")
			assert.Contains(t, last.Content, "What is the total?")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"total": 42}`}, "finish_reason": "stop"},
			},
		})
	}))
	defer ai.Close()

	env := newEnv(t, rejectCRM(t), server.WithRelay(newRelay(t, ai.URL)))

	rec := env.postJSON(t, "/api/extract", `{"document":"INVOICE #42\nTotal: 42 EUR","prompt":"What is the total?"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		RequestID string         `json:"request_id"`
		Model     string         `json:"model"`
		Content   string         `json:"content"`
		Data      map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, `{"total": 42}`, resp.Content)
	require.NotNil(t, resp.Data)
	assert.Equal(t, float64(42), resp.Data["total"])
}

func TestExtractRequiresPrompt(t *testing.T) {
	ai := rejectAI(t)
	env := newEnv(t, rejectCRM(t), server.WithRelay(newRelay(t, ai.URL)))

	rec := env.postJSON(t, "/api/extract", `{"document":"INVOICE #42"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "prompt is required")
}

func TestExtractRequiresDocument(t *testing.T) {
	ai := rejectAI(t)
	env := newEnv(t, rejectCRM(t), server.WithRelay(newRelay(t, ai.URL)))

	rec := env.postJSON(t, "/api/extract", `{"prompt":"total?"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "document text or a file attachment is required")
}

func TestExtractUpstreamErrorIsServiceUnavailable(t *testing.T) {
	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ai.Close()

	env := newEnv(t, rejectCRM(t), server.WithRelay(newRelay(t, ai.URL)))

	rec := env.postJSON(t, "/api/extract", `{"document":"INVOICE #42","prompt":"total?"}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream unavailable")
}

func TestExtractAttachmentOutsideAllowlist(t *testing.T) {
	ai := rejectAI(t)
	env := newEnv(t, rejectCRM(t), server.WithRelay(newRelay(t, ai.URL)))

	contentType, body := multipartBody(t,
		map[string]string{"prompt": "total?"},
		"notes.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		[]byte("PK"))

	rec := env.do(t, http.MethodPost, "/api/extract", contentType, body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "allowed file patterns")
}

func TestExtractImageAttachmentUnsupported(t *testing.T) {
	ai := rejectAI(t)
	env := newEnv(t, rejectCRM(t), server.WithRelay(newRelay(t, ai.URL)))

	// passes the allowlist but has no text to extract
	contentType, body := multipartBody(t,
		map[string]string{"prompt": "total?"},
		"receipt.png", "image/png", []byte{0x89, 'P', 'N', 'G'})

	rec := env.do(t, http.MethodPost, "/api/extract", contentType, body)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestExtractCorruptPDFRejected(t *testing.T) {
	ai := rejectAI(t)
	env := newEnv(t, rejectCRM(t), server.WithRelay(newRelay(t, ai.URL)))

	contentType, body := multipartBody(t,
		map[string]string{"prompt": "total?"},
		"broken.pdf", "application/pdf", []byte("not a pdf at all"))

	rec := env.do(t, http.MethodPost, "/api/extract", contentType, body)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not extract text")
}
