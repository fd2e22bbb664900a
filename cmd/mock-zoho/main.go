// Package main implements a mock Zoho CRM server for local development.
// It serves the OAuth token endpoint and an in-memory CRM API so FormBridge
// can be exercised end to end without real Zoho credentials. Records live in
// memory with sequential ids, making runs deterministic and offline-capable.
//
// Usage:
//
//	mock-zoho -port 8100 -token-uses 25
//
// Point FormBridge at it:
//
//	zoho:
//	  token_url: http://localhost:8100/oauth/v2/token
//	  api_base_url: http://localhost:8100/crm/v2
//
// With -token-uses set, each issued access token is honored for that many
// CRM calls and rejected with a 401 afterwards. This exercises the relay's
// refresh-and-replay path the same way expiring production tokens would.
//
// The server also answers POST /v1/chat/completions with a canned assistant
// message (see -completion) so the document extraction path can run offline
// against the same binary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type record map[string]any

type server struct {
	tokenUses  int    // CRM calls honored per token, 0 means unlimited
	completion string // assistant content for /v1/chat/completions

	exchanges atomic.Int64 // token exchanges served
	calls     atomic.Int64 // authorized CRM calls served

	mu          sync.Mutex
	tokens      map[string]int      // issued token → CRM calls made with it
	records     map[string][]record // module → ordered records
	attachments map[string][]string // record id → uploaded filenames
	nextID      int64
}

func newServer(tokenUses int, completion string) *server {
	return &server{
		tokenUses:   tokenUses,
		completion:  completion,
		tokens:      make(map[string]int),
		records:     make(map[string][]record),
		attachments: make(map[string][]string),
		nextID:      100000,
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /oauth/v2/token", s.handleToken)
	mux.HandleFunc("GET /crm/v2/org", s.handleOrg)
	mux.HandleFunc("POST /crm/v2/{module}", s.handleInsert)
	mux.HandleFunc("POST /crm/v2/{module}/upsert", s.handleUpsert)
	mux.HandleFunc("GET /crm/v2/{module}", s.handleList)
	mux.HandleFunc("GET /crm/v2/{module}/search", s.handleSearch)
	mux.HandleFunc("GET /crm/v2/{module}/{id}", s.handleGet)
	mux.HandleFunc("DELETE /crm/v2/{module}/{id}", s.handleDelete)
	mux.HandleFunc("POST /crm/v2/{module}/{id}/Attachments", s.handleAttach)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	return mux
}

func main() {
	port := flag.Int("port", 8100, "port to listen on")
	tokenUses := flag.Int("token-uses", 0, "CRM calls honored per issued token before a 401 forces a refresh (0 = unlimited)")
	completion := flag.String("completion", `{"status":"mock"}`, "assistant content returned by /v1/chat/completions")
	flag.Parse()

	s := newServer(*tokenUses, *completion)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock Zoho CRM listening on %s (token-uses=%d)", addr, *tokenUses)
	if err := http.ListenAndServe(addr, s.routes()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleToken exchanges a refresh token for a fresh access token. Each
// exchange issues a new token so forced refreshes are visible in the logs
// and in /stats.
func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostFormValue("grant_type") != "refresh_token" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	for _, field := range []string{"client_id", "client_secret", "refresh_token"} {
		if r.PostFormValue(field) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client"})
			return
		}
	}

	n := s.exchanges.Add(1)
	token := fmt.Sprintf("mock-token-%d", n)

	s.mu.Lock()
	s.tokens[token] = 0
	s.mu.Unlock()

	log.Printf("[exchange %d] issued %s", n, token)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"api_domain":   "http://" + r.Host,
		"expires_in":   3600,
	})
}

// authorize validates the Zoho-oauthtoken header and counts the call
// against the token's use budget. Unknown and exhausted tokens get a 401,
// which is what drives the relay's refresh-and-replay path. The returned
// number is the global CRM call index for logging.
func (s *server) authorize(w http.ResponseWriter, r *http.Request) (int64, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Zoho-oauthtoken ")
	if !ok || token == "" {
		writeInvalidToken(w)
		return 0, false
	}

	s.mu.Lock()
	uses, known := s.tokens[token]
	if known {
		s.tokens[token] = uses + 1
	}
	s.mu.Unlock()

	if !known || (s.tokenUses > 0 && uses >= s.tokenUses) {
		log.Printf("rejected token %q (known=%v uses=%d)", token, known, uses)
		writeInvalidToken(w)
		return 0, false
	}
	return s.calls.Add(1), true
}

// handleOrg answers the lightweight probe FormBridge uses to verify a
// cached token before trusting it.
func (s *server) handleOrg(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"org": []map[string]any{{"company_name": "Mock Org", "org_id": "85000000"}},
	})
}

func (s *server) handleInsert(w http.ResponseWriter, r *http.Request) {
	callNum, ok := s.authorize(w, r)
	if !ok {
		return
	}
	module := r.PathValue("module")

	data, ok := decodeData(w, r)
	if !ok {
		return
	}

	results := make([]map[string]any, 0, len(data))
	s.mu.Lock()
	for _, rec := range data {
		id := s.nextIDLocked()
		rec["id"] = id
		s.records[module] = append(s.records[module], rec)
		results = append(results, successResult("record added", id))
	}
	s.mu.Unlock()

	log.Printf("[call %d] insert %s: %d record(s)", callNum, module, len(data))
	writeJSON(w, http.StatusCreated, map[string]any{"data": results})
}

func (s *server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	callNum, ok := s.authorize(w, r)
	if !ok {
		return
	}
	module := r.PathValue("module")

	var envelope struct {
		Data                 []record `json:"data"`
		DuplicateCheckFields []string `json:"duplicate_check_fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil || len(envelope.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("INVALID_DATA", "body is not a record envelope"))
		return
	}

	results := make([]map[string]any, 0, len(envelope.Data))
	s.mu.Lock()
	for _, rec := range envelope.Data {
		if existing := s.matchLocked(module, rec, envelope.DuplicateCheckFields); existing != nil {
			for k, v := range rec {
				existing[k] = v
			}
			results = append(results, successResult("record updated", existing["id"].(string)))
			continue
		}
		id := s.nextIDLocked()
		rec["id"] = id
		s.records[module] = append(s.records[module], rec)
		results = append(results, successResult("record added", id))
	}
	s.mu.Unlock()

	log.Printf("[call %d] upsert %s on %v: %d record(s)", callNum, module, envelope.DuplicateCheckFields, len(envelope.Data))
	writeJSON(w, http.StatusOK, map[string]any{"data": results})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	callNum, ok := s.authorize(w, r)
	if !ok {
		return
	}
	module := r.PathValue("module")
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 200)

	s.mu.Lock()
	all := s.records[module]
	start := (page - 1) * perPage
	var hits []record
	if start < len(all) {
		hits = append(hits, all[start:min(start+perPage, len(all))]...)
	}
	total := len(all)
	s.mu.Unlock()

	log.Printf("[call %d] list %s page=%d per_page=%d: %d of %d", callNum, module, page, perPage, len(hits), total)
	if len(hits) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": hits,
		"info": map[string]any{
			"page":         page,
			"per_page":     perPage,
			"count":        len(hits),
			"more_records": start+len(hits) < total,
		},
	})
}

// criteriaRe matches the single-clause criteria FormBridge issues,
// e.g. (Email:equals:jo@example.com).
var criteriaRe = regexp.MustCompile(`^\(([A-Za-z0-9_]+):(equals|starts_with):(.*)\)$`)

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	callNum, ok := s.authorize(w, r)
	if !ok {
		return
	}
	module := r.PathValue("module")

	matches := criteriaRe.FindStringSubmatch(r.URL.Query().Get("criteria"))
	if matches == nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("INVALID_QUERY", "unsupported criteria expression"))
		return
	}
	field, op, want := matches[1], matches[2], matches[3]

	var hits []record
	s.mu.Lock()
	for _, rec := range s.records[module] {
		got, ok := rec[field].(string)
		if !ok {
			continue
		}
		if (op == "equals" && got == want) || (op == "starts_with" && strings.HasPrefix(got, want)) {
			hits = append(hits, rec)
		}
	}
	s.mu.Unlock()

	log.Printf("[call %d] search %s %s:%s:%s: %d hit(s)", callNum, module, field, op, want, len(hits))
	if len(hits) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": hits,
		"info": map[string]any{"count": len(hits)},
	})
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	module, id := r.PathValue("module"), r.PathValue("id")

	s.mu.Lock()
	rec := s.findLocked(module, id)
	s.mu.Unlock()

	if rec == nil {
		writeResourceNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": []record{rec}})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	callNum, ok := s.authorize(w, r)
	if !ok {
		return
	}
	module, id := r.PathValue("module"), r.PathValue("id")

	deleted := false
	s.mu.Lock()
	all := s.records[module]
	for i, rec := range all {
		if rec["id"] == id {
			s.records[module] = append(all[:i], all[i+1:]...)
			deleted = true
			break
		}
	}
	s.mu.Unlock()

	if !deleted {
		writeResourceNotFound(w)
		return
	}
	log.Printf("[call %d] delete %s/%s", callNum, module, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"data": []map[string]any{successResult("record deleted", id)},
	})
}

func (s *server) handleAttach(w http.ResponseWriter, r *http.Request) {
	callNum, ok := s.authorize(w, r)
	if !ok {
		return
	}
	module, id := r.PathValue("module"), r.PathValue("id")

	s.mu.Lock()
	rec := s.findLocked(module, id)
	s.mu.Unlock()
	if rec == nil {
		writeResourceNotFound(w)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("INVALID_DATA", "expected a multipart file part named \"file\""))
		return
	}
	size, _ := io.Copy(io.Discard, file)
	file.Close()

	s.mu.Lock()
	s.attachments[id] = append(s.attachments[id], header.Filename)
	s.mu.Unlock()

	log.Printf("[call %d] attached %q (%d bytes) to %s/%s", callNum, header.Filename, size, module, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"data": []map[string]any{successResult("attachment uploaded", id)},
	})
}

// handleChatCompletions serves a canned OpenAI-style completion so the
// document extraction path can run offline against the same binary.
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string           `json:"model"`
		Messages []map[string]any `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	log.Printf("completion model=%s messages=%d", req.Model, len(req.Messages))
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": s.completion},
			"finish_reason": "stop",
		}},
	})
}

// handleStats returns counters for scripted checks against a running mock.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	recordsByModule := make(map[string]int, len(s.records))
	for module, recs := range s.records {
		recordsByModule[module] = len(recs)
	}
	attachmentCount := 0
	for _, names := range s.attachments {
		attachmentCount += len(names)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"token_exchanges":   s.exchanges.Load(),
		"crm_calls":         s.calls.Load(),
		"records_by_module": recordsByModule,
		"attachments":       attachmentCount,
	})
}

// nextIDLocked mints a sequential record id in the CRM's long numeric
// style. Caller holds s.mu.
func (s *server) nextIDLocked() string {
	s.nextID++
	return strconv.FormatInt(s.nextID, 10)
}

// findLocked returns the stored record with the given id, or nil.
// Caller holds s.mu.
func (s *server) findLocked(module, id string) record {
	for _, rec := range s.records[module] {
		if rec["id"] == id {
			return rec
		}
	}
	return nil
}

// matchLocked finds an existing record whose duplicate-check fields all
// equal the incoming record's values. Caller holds s.mu.
func (s *server) matchLocked(module string, incoming record, fields []string) record {
	if len(fields) == 0 {
		return nil
	}
	for _, existing := range s.records[module] {
		matched := true
		for _, f := range fields {
			want, ok := incoming[f]
			if !ok || existing[f] != want {
				matched = false
				break
			}
		}
		if matched {
			return existing
		}
	}
	return nil
}

func decodeData(w http.ResponseWriter, r *http.Request) ([]record, bool) {
	var envelope struct {
		Data []record `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil || len(envelope.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("INVALID_DATA", "body is not a record envelope"))
		return nil, false
	}
	return envelope.Data, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func successResult(message, id string) map[string]any {
	return map[string]any{
		"code":    "SUCCESS",
		"status":  "success",
		"message": message,
		"details": map[string]any{"id": id},
	}
}

func errorEnvelope(code, message string) map[string]any {
	return map[string]any{
		"code":    code,
		"message": message,
		"details": map[string]any{},
		"status":  "error",
	}
}

func writeInvalidToken(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorEnvelope("INVALID_TOKEN", "invalid oauth token"))
}

func writeResourceNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorEnvelope("RESOURCE_NOT_FOUND", "the requested record does not exist"))
}
