package extract

import (
	"regexp"
	"strings"
)

// Models wrap JSON in markdown fences and leave JavaScript artifacts
// behind; these patterns pull the object out before cleanup.
var (
	fencedObjectRe  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	bareObjectRe    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON object out of a model response, handling
// markdown code fences, // comments and trailing commas. Returns "" when
// no object is present.
func ExtractJSON(content string) string {
	var raw string
	if matches := fencedObjectRe.FindStringSubmatch(content); len(matches) > 1 {
		raw = matches[1]
	} else {
		raw = bareObjectRe.FindString(content)
	}
	if raw == "" {
		return ""
	}

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	cleaned := strings.Join(lines, "\n")

	return trailingCommaRe.ReplaceAllString(cleaned, "$1")
}

// stripLineComment removes a // comment from a line unless the // sits
// inside a string value.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}

	return line
}
