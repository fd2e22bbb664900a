package extract_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/formbridge/formbridge/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealedTestKey(t *testing.T) (string, *extract.Keybox) {
	t.Helper()

	kb, err := extract.NewKeybox("test-passphrase")
	require.NoError(t, err)
	sealed, err := kb.Seal("sk-test-key")
	require.NoError(t, err)

	return sealed, kb
}

func TestRelay_Extract_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		// The key is unsealed only for the outbound request
		assert.Equal(t, "Bearer sk-test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "invoice text here")

		resp := map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"message": map[string]string{
						"role":    "assistant",
						"content": "```json\n{\"total\": 42}\n```",
					},
					"finish_reason": "stop",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	sealed, kb := sealedTestKey(t)
	relay := extract.NewRelay(server.URL, "gpt-4o-mini", sealed, kb)

	result, err := relay.Extract(context.Background(), extract.Request{
		Document: "invoice text here",
		Prompt:   "Extract the total.",
	})

	require.NoError(t, err)
	assert.Contains(t, result.Content, "total")
	require.NotNil(t, result.JSON)

	var fields struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(result.JSON, &fields))
	assert.Equal(t, 42, fields.Total)
}

func TestRelay_Extract_StatusClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"upstream down", http.StatusServiceUnavailable, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad key", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"upstream says no"}}`)
			}))
			defer server.Close()

			sealed, kb := sealedTestKey(t)
			relay := extract.NewRelay(server.URL, "gpt-4o-mini", sealed, kb)

			_, err := relay.Extract(context.Background(), extract.Request{
				Document: "doc",
				Prompt:   "prompt",
			})

			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, extract.IsTransient(err))
			assert.Equal(t, !tt.wantTransient, extract.IsFatal(err))
		})
	}
}

func TestRelay_Extract_UnsealFailureNeverCallsUpstream(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	// Sealed under a different passphrase than the relay's keybox
	other, err := extract.NewKeybox("other-passphrase")
	require.NoError(t, err)
	sealed, err := other.Seal("sk-test-key")
	require.NoError(t, err)

	kb, err := extract.NewKeybox("relay-passphrase")
	require.NoError(t, err)
	relay := extract.NewRelay(server.URL, "gpt-4o-mini", sealed, kb)

	_, err = relay.Extract(context.Background(), extract.Request{
		Document: "doc",
		Prompt:   "prompt",
	})

	require.Error(t, err)
	assert.True(t, extract.IsFatal(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestRelay_Extract_ValidatesInput(t *testing.T) {
	sealed, kb := sealedTestKey(t)
	relay := extract.NewRelay("http://127.0.0.1:1", "gpt-4o-mini", sealed, kb)

	_, err := relay.Extract(context.Background(), extract.Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, extract.IsFatal(err))

	_, err = relay.Extract(context.Background(), extract.Request{Document: "d"})
	require.Error(t, err)
	assert.True(t, extract.IsFatal(err))
}

func TestRelay_Extract_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"gpt-4o-mini","choices":[]}`)
	}))
	defer server.Close()

	sealed, kb := sealedTestKey(t)
	relay := extract.NewRelay(server.URL, "gpt-4o-mini", sealed, kb)

	_, err := relay.Extract(context.Background(), extract.Request{
		Document: "doc",
		Prompt:   "prompt",
	})

	require.Error(t, err)
	assert.True(t, extract.IsFatal(err))
}
