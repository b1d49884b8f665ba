package domain

import "strings"

// Labels are stored as one delimited string with leading and trailing commas
// (",bug,backend,") so that LIKE '%,bug,%' matches whole tokens only:
// ",backendteam," never matches a filter for "backend".

func JoinLabels(labels []string) string {
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" { continue }
		parts = append(parts, l)
	}
	if len(parts) == 0 { return "" }
	return "," + strings.Join(parts, ",") + ","
}

func SplitLabels(stored string) []string {
	stored = strings.Trim(stored, ",")
	if stored == "" { return nil }
	return strings.Split(stored, ",")
}

// LabelPattern returns the LIKE pattern matching a single label token.
func LabelPattern(label string) string {
	return "%," + strings.TrimSpace(label) + ",%"
}

// HasLabel reports exact-token membership against the stored form.
func HasLabel(stored, label string) bool {
	if stored == "" { return false }
	return strings.Contains(stored, ","+strings.TrimSpace(label)+",")
}
