package domain

import (
	"reflect"
	"testing"
)

func TestFieldString(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"  Done ", "Done"},
		{map[string]any{"name": "High"}, "High"},
		{map[string]any{"value": "ACME"}, "ACME"},
		{map[string]any{"displayName": "Jane Doe"}, "Jane Doe"},
		{map[string]any{"self": "https://x", "name": ""}, ""},
		{[]any{map[string]any{"value": "first"}, map[string]any{"value": "second"}}, "first"},
		{[]any{}, ""},
		{float64(5), "5"},
		{float64(2.5), "2.5"},
		{true, "true"},
	}
	for _, c := range cases {
		if got := FieldString(c.in); got != c.want {
			t.Fatalf("FieldString(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIssueKeys(t *testing.T) {
	got := IssueKeys("fix PROJ-123 and proj-456, follow-up to PROJ-123 (see AB2-9)")
	want := []string{"PROJ-123", "PROJ-456", "AB2-9"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("IssueKeys = %v, want %v", got, want)
	}
}

func TestIssueKeysNoMatch(t *testing.T) {
	if got := IssueKeys("chore: bump deps to 1-2"); got != nil {
		t.Fatalf("expected no keys, got %v", got)
	}
	if got := IssueKeys(""); got != nil {
		t.Fatalf("expected nil for empty message, got %v", got)
	}
}
