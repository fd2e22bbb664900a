package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrUnsupportedContentType indicates a submission body in a format the
// decoder does not handle.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// multipartMemory bounds how much of a multipart body is buffered in
// memory before spilling to disk.
const multipartMemory = 8 << 20 // 8MB

// Attachment is one file uploaded alongside a submission.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Submission is a decoded form post: normalized field values plus any
// uploaded files.
type Submission struct {
	Fields      map[string]any
	Attachments []Attachment
}

// Decode reads a submission from the request body. JSON,
// multipart/form-data and urlencoded bodies are accepted; attachments only
// arrive via multipart. maxUpload caps each uploaded file's size in bytes.
func Decode(r *http.Request, maxUpload int64) (*Submission, error) {
	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return decodeJSON(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		return decodeMultipart(r, maxUpload)
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		return decodeURLEncoded(r)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
}

func decodeJSON(r *http.Request) (*Submission, error) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode json body: %w", err)
	}

	return &Submission{Fields: Normalize(fields)}, nil
}

func decodeMultipart(r *http.Request, maxUpload int64) (*Submission, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("parse multipart body: %w", err)
	}

	fields := make(map[string]any, len(r.MultipartForm.Value))
	for key, values := range r.MultipartForm.Value {
		fields[key] = values
	}

	var attachments []Attachment
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			if header.Size > maxUpload {
				return nil, fmt.Errorf("attachment %q exceeds the %d byte limit", header.Filename, maxUpload)
			}

			file, err := header.Open()
			if err != nil {
				return nil, fmt.Errorf("open attachment %q: %w", header.Filename, err)
			}
			data, err := io.ReadAll(io.LimitReader(file, maxUpload))
			file.Close()
			if err != nil {
				return nil, fmt.Errorf("read attachment %q: %w", header.Filename, err)
			}

			attachments = append(attachments, Attachment{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	return &Submission{Fields: Normalize(fields), Attachments: attachments}, nil
}

func decodeURLEncoded(r *http.Request) (*Submission, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form body: %w", err)
	}

	fields := make(map[string]any, len(r.PostForm))
	for key, values := range r.PostForm {
		fields[key] = values
	}

	return &Submission{Fields: Normalize(fields)}, nil
}
