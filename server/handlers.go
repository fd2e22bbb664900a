package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/formbridge/formbridge/fanout"
	"github.com/formbridge/formbridge/form"
	"github.com/formbridge/formbridge/zoho"
)

// moduleRoute describes one CRM module's route group.
type moduleRoute struct {
	path    string
	module  zoho.Module
	build   func(*form.Submission) (zoho.Record, error)
	targets func() []string
	// upsertOn switches the write from insert to upsert with these
	// duplicate-check fields.
	upsertOn []string
}

// writeResult is the response body for a successful write.
type writeResult struct {
	RequestID   string            `json:"request_id"`
	Module      string            `json:"module"`
	Records     []recordStatus    `json:"records"`
	Webhooks    *fanout.Report    `json:"webhooks,omitempty"`
	Attachments *attachmentResult `json:"attachments,omitempty"`
}

type recordStatus struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
}

type attachmentResult struct {
	Uploaded int      `json:"uploaded"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// handleWrite builds the POST handler for one module: decode the
// submission, shape the record, write it to the CRM, attach any uploads and
// fan the processed payload out to the module's webhook list. Webhook and
// attachment failures are reported but never flip a successful CRM write
// into an error response.
func (s *Server) handleWrite(route moduleRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Uploads.MaxBytes)

		sub, err := form.Decode(r, s.cfg.Uploads.MaxBytes)
		if err != nil {
			s.writeDecodeError(w, err)
			return
		}
		if err := s.checkAttachments(sub.Attachments); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		record, err := route.build(sub)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		var results []zoho.RecordResult
		if len(route.upsertOn) > 0 {
			results, err = s.crm.Upsert(r.Context(), route.module, []zoho.Record{record}, route.upsertOn)
		} else {
			results, err = s.crm.Insert(r.Context(), route.module, []zoho.Record{record})
		}
		if err != nil {
			s.writeCRMError(w, r, route.module, err)
			return
		}

		statuses := make([]recordStatus, 0, len(results))
		for _, res := range results {
			statuses = append(statuses, recordStatus{ID: res.ID(), Status: res.Status})
		}

		var recordID string
		if len(results) > 0 {
			recordID = results[0].ID()
		}

		resp := writeResult{
			RequestID:   requestIDFrom(r.Context()),
			Module:      string(route.module),
			Records:     statuses,
			Attachments: s.uploadAttachments(r.Context(), route.module, recordID, sub.Attachments),
			Webhooks:    s.fanOut(r.Context(), route.module, recordID, record, route.targets()),
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleList(module zoho.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := queryInt(r, "page", 1)
		perPage := queryInt(r, "per_page", 50)

		records, err := s.crm.List(r.Context(), module, page, perPage)
		if err != nil {
			s.writeCRMError(w, r, module, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": records, "count": len(records)})
	}
}

func (s *Server) handleSearch(module zoho.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		criteria := r.URL.Query().Get("criteria")
		if criteria == "" {
			writeError(w, http.StatusBadRequest, "criteria query parameter is required")
			return
		}

		records, err := s.crm.Search(r.Context(), module, criteria)
		if err != nil {
			s.writeCRMError(w, r, module, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": records, "count": len(records)})
	}
}

func (s *Server) handleGet(module zoho.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		record, err := s.crm.Get(r.Context(), module, id)
		if err != nil {
			if errors.Is(err, zoho.ErrNotFound) {
				writeError(w, http.StatusNotFound, "record not found")
				return
			}
			s.writeCRMError(w, r, module, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": record})
	}
}

func (s *Server) handleDelete(module zoho.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := s.crm.Delete(r.Context(), module, id); err != nil {
			if errors.Is(err, zoho.ErrNotFound) {
				writeError(w, http.StatusNotFound, "record not found")
				return
			}
			s.writeCRMError(w, r, module, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	}
}

// handleTokenRefresh forces the next CRM call onto a fresh credential by
// clearing the cache and exchanging immediately.
func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	s.tokens.Invalidate()

	cred, err := s.tokens.Acquire(r.Context())
	if err != nil {
		s.logger.Error("forced token refresh failed",
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "crm authentication failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "refreshed",
		"expires_at": cred.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// fanOut delivers the processed record to the module's webhook targets. The
// dispatch is detached from the request context so a client disconnect does
// not abort in-flight deliveries.
func (s *Server) fanOut(ctx context.Context, module zoho.Module, recordID string, fields zoho.Record, targets []string) *fanout.Report {
	if len(targets) == 0 {
		s.logger.Warn("no webhook targets configured", "module", string(module))
		return nil
	}

	event := map[string]any{
		"event_id":   "evt_" + uuid.NewString(),
		"module":     string(module),
		"record_id":  recordID,
		"fields":     fields,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}

	report := s.dispatcher.Dispatch(context.WithoutCancel(ctx), event, targets)
	switch {
	case report.Err != nil:
		s.logger.Error("webhook fan-out failed",
			"module", string(module),
			"error", report.Err,
		)
	case report.Failed > 0:
		s.logger.Warn("webhook fan-out partially failed",
			"module", string(module),
			"succeeded", report.Succeeded,
			"failed", report.Failed,
		)
	}
	return &report
}

// uploadAttachments pushes each uploaded file onto the created record.
// Failures are logged and summarized; the record itself already exists.
func (s *Server) uploadAttachments(ctx context.Context, module zoho.Module, recordID string, attachments []form.Attachment) *attachmentResult {
	if len(attachments) == 0 || recordID == "" {
		return nil
	}

	result := &attachmentResult{}
	for _, att := range attachments {
		err := s.crm.UploadAttachment(ctx, module, recordID, att.Filename, bytes.NewReader(att.Data))
		if err != nil {
			s.logger.Warn("attachment upload failed",
				"module", string(module),
				"record_id", recordID,
				"filename", att.Filename,
				"error", err,
			)
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", att.Filename, err))
			continue
		}
		result.Uploaded++
	}
	return result
}

// writeDecodeError maps submission decode failures onto response codes.
func (s *Server) writeDecodeError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds the %d byte limit", maxErr.Limit))
	case errors.Is(err, form.ErrUnsupportedContentType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// writeCRMError maps CRM client failures onto response codes. Credential
// problems surface as 502 "crm authentication failed" so operators can tell
// them apart from CRM-side rejections and outages.
func (s *Server) writeCRMError(w http.ResponseWriter, r *http.Request, module zoho.Module, err error) {
	requestID := requestIDFrom(r.Context())

	if zoho.IsAuthError(err) {
		s.logger.Error("crm authentication failed",
			"request_id", requestID,
			"module", string(module),
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "crm authentication failed")
		return
	}

	var apiErr *zoho.APIError
	if errors.As(err, &apiErr) && apiErr.Status < 500 {
		s.logger.Warn("crm rejected the submission",
			"request_id", requestID,
			"module", string(module),
			"code", apiErr.Code,
			"error", err,
		)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":   "crm rejected the submission",
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
		return
	}

	s.logger.Error("crm call failed",
		"request_id", requestID,
		"module", string(module),
		"error", err,
	)
	writeError(w, http.StatusBadGateway, "crm call failed")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
