package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FieldString collapses the shapes a tracker field can arrive in (string,
// object with a display attribute, list of either, number) into one display
// string. Applied once at ingestion so consumers never see raw payloads.
func FieldString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case map[string]any:
		for _, k := range []string{"name", "value", "displayName", "key"} {
			if s := FieldString(x[k]); s != "" { return s }
		}
		return ""
	case []any:
		if len(x) == 0 { return "" }
		return FieldString(x[0])
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

var issueKeyRe = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)

// IssueKeys extracts tracker issue keys (ABC-123) from a commit message,
// preserving order and dropping duplicates.
func IssueKeys(message string) []string {
	if message == "" { return nil }
	matches := issueKeyRe.FindAllString(strings.ToUpper(message), -1)
	seen := map[string]struct{}{}
	var out []string
	for _, k := range matches {
		if _, ok := seen[k]; ok { continue }
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
