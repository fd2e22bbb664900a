package form

import "strings"

// Normalize cleans one decoded submission map: string values are trimmed,
// single-element lists are flattened (multipart text fields arrive as
// one-element lists), and keys holding nothing usable are dropped. The
// input map is not modified.
func Normalize(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))

	for key, value := range fields {
		switch t := value.(type) {
		case nil:
			continue
		case string:
			trimmed := strings.TrimSpace(t)
			if trimmed == "" {
				continue
			}
			out[key] = trimmed
		case []string:
			cleaned := trimAll(t)
			switch len(cleaned) {
			case 0:
				continue
			case 1:
				out[key] = cleaned[0]
			default:
				out[key] = cleaned
			}
		case []any:
			if len(t) == 0 {
				continue
			}
			if len(t) == 1 {
				if s, ok := t[0].(string); ok {
					s = strings.TrimSpace(s)
					if s == "" {
						continue
					}
					out[key] = s
					continue
				}
				out[key] = t[0]
				continue
			}
			out[key] = t
		default:
			out[key] = value
		}
	}

	return out
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// String returns the named field as a trimmed string, or "" when absent
// or not a string.
func String(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}
