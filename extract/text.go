package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
)

// Extractor turns uploaded documents into plain text for the relay.
type Extractor struct {
	converter *md.Converter
}

// NewExtractor creates a document text extractor.
func NewExtractor() *Extractor {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Extractor{converter: converter}
}

// Text extracts plain text from a document. PDFs go through page-by-page
// text extraction, HTML through readability boilerplate removal and
// markdown conversion, and text/* content passes through unchanged.
// Anything else fails with ErrUnsupportedType.
func (e *Extractor) Text(filename, contentType string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case contentType == "application/pdf" || ext == ".pdf":
		return pdfText(data)
	case strings.HasPrefix(contentType, "text/html") || ext == ".html" || ext == ".htm":
		return e.htmlText(data)
	case strings.HasPrefix(contentType, "text/"):
		return strings.TrimSpace(string(data)), nil
	case ext == ".md" || ext == ".txt":
		return strings.TrimSpace(string(data)), nil
	}

	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, filename, contentType)
}

// pdfText extracts text page by page. Pages that fail to parse are
// skipped; a document yielding no text at all (image-only scans) is an
// error since there is nothing to relay.
func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text == "" {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content extracted from pdf (%d pages)", numPages)
	}

	return sb.String(), nil
}

// htmlText strips boilerplate with readability and converts the remaining
// content to markdown. When readability finds no article, the whole
// document is converted instead.
func (e *Extractor) htmlText(data []byte) (string, error) {
	source := string(data)

	article, err := readability.FromReader(bytes.NewReader(data), nil)
	if err == nil && article.Content != "" {
		source = article.Content
	}

	markdown, err := e.converter.ConvertString(source)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}

	markdown = strings.TrimSpace(markdown)
	if article.Title != "" && !strings.HasPrefix(markdown, "#") {
		markdown = "# " + article.Title + "\n\n" + markdown
	}

	return markdown, nil
}
