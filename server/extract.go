package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/formbridge/formbridge/extract"
	"github.com/formbridge/formbridge/form"
)

// handleExtract relays a document and prompt to the AI provider through the
// server-held encrypted key. The document arrives either as text in the
// body or as a file attachment that is converted to text first.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusServiceUnavailable, "extraction is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Uploads.MaxBytes)

	sub, err := form.Decode(r, s.cfg.Extract.MaxDocumentBytes)
	if err != nil {
		s.writeDecodeError(w, err)
		return
	}

	prompt := form.String(sub.Fields, "prompt")
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	document := form.String(sub.Fields, "document")
	if len(sub.Attachments) > 0 {
		att := sub.Attachments[0]
		if !filenameAllowed(s.cfg.Uploads.AllowedPatterns, att.Filename) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("attachment %q does not match the allowed file patterns", att.Filename))
			return
		}

		document, err = s.extractor.Text(att.Filename, att.ContentType, att.Data)
		if err != nil {
			if errors.Is(err, extract.ErrUnsupportedType) {
				writeError(w, http.StatusUnsupportedMediaType, err.Error())
				return
			}
			writeError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("could not extract text from %q: %v", att.Filename, err))
			return
		}
	}
	if document == "" {
		writeError(w, http.StatusBadRequest, "document text or a file attachment is required")
		return
	}

	result, err := s.relay.Extract(r.Context(), extract.Request{Document: document, Prompt: prompt})
	if err != nil {
		if extract.IsTransient(err) {
			s.logger.Warn("extraction upstream unavailable",
				"request_id", requestIDFrom(r.Context()),
				"error", err,
			)
			writeError(w, http.StatusServiceUnavailable, "extraction upstream unavailable")
			return
		}
		s.logger.Error("extraction failed",
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "extraction failed")
		return
	}

	resp := map[string]any{
		"request_id": requestIDFrom(r.Context()),
		"model":      result.Model,
		"content":    result.Content,
	}
	if result.JSON != nil {
		resp["data"] = result.JSON
	}
	writeJSON(w, http.StatusOK, resp)
}

// checkAttachments rejects uploads whose filenames fall outside the
// configured allowlist.
func (s *Server) checkAttachments(attachments []form.Attachment) error {
	for _, att := range attachments {
		if !filenameAllowed(s.cfg.Uploads.AllowedPatterns, att.Filename) {
			return fmt.Errorf("attachment %q does not match the allowed file patterns", att.Filename)
		}
	}
	return nil
}

// filenameAllowed matches the base filename against the allowlist patterns,
// case-insensitively. An empty allowlist allows everything.
func filenameAllowed(patterns []string, filename string) bool {
	if len(patterns) == 0 {
		return true
	}

	name := strings.ToLower(filepath.Base(filename))
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(strings.ToLower(pattern), name); err == nil && ok {
			return true
		}
	}
	return false
}
