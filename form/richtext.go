package form

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

// Pre-compiled regexes to avoid runtime compilation per submission
var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Stripper converts the rich-text HTML fragments form editors produce
// into markdown suitable for CRM description fields.
type Stripper struct {
	converter *md.Converter
}

// NewStripper creates a rich-text stripper.
func NewStripper() *Stripper {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Stripper{converter: converter}
}

// Strip converts an HTML fragment to markdown. Plain text passes through
// trimmed; script and style blocks are removed before conversion.
func (s *Stripper) Strip(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}

	cleaned := scriptRe.ReplaceAllString(fragment, "")
	cleaned = styleRe.ReplaceAllString(cleaned, "")

	markdown, err := s.converter.ConvertString(cleaned)
	if err != nil {
		return strings.TrimSpace(textContent(cleaned))
	}

	markdown = excessiveLinesRe.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}

// textContent extracts the text nodes of an HTML fragment, used as the
// fallback when markdown conversion fails.
func textContent(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return sb.String()
}
