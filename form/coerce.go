// Package form normalizes submitted form payloads before they reach the
// CRM: boolean coercion across the spellings clients send, field trimming
// and flattening, and rich-text stripping for description fields.
package form

import (
	"strings"
)

// CoerceBool maps the boolean spellings form clients send onto a bool.
//
// Truthy: true, "true", "yes", "y", "on", "1" and numeric 1.
// Falsy: false, "false", "no", "n", "off", "0", "", nil and numeric 0.
//
// String matching is case-insensitive and ignores surrounding space. ok
// reports whether v was recognized at all; the projections below and every
// handler derive from this single literal set.
func CoerceBool(v any) (value, ok bool) {
	switch t := v.(type) {
	case nil:
		return false, true
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "on", "1":
			return true, true
		case "false", "no", "n", "off", "0", "":
			return false, true
		}
		return false, false
	case int:
		return numericBool(float64(t))
	case int32:
		return numericBool(float64(t))
	case int64:
		return numericBool(float64(t))
	case float32:
		return numericBool(float64(t))
	case float64:
		// JSON numbers decode to float64
		return numericBool(t)
	}
	return false, false
}

func numericBool(f float64) (bool, bool) {
	switch f {
	case 1:
		return true, true
	case 0:
		return false, true
	}
	return false, false
}

// YesNo projects v onto the "Yes"/"No" strings the CRM's picklist fields
// expect. Unrecognized values project to "No".
func YesNo(v any) string {
	if value, ok := CoerceBool(v); ok && value {
		return "Yes"
	}
	return "No"
}

// ZeroOne projects v onto 1/0 for the CRM's checkbox fields. Unrecognized
// values project to 0.
func ZeroOne(v any) int {
	if value, ok := CoerceBool(v); ok && value {
		return 1
	}
	return 0
}
