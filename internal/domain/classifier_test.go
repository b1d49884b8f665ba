package domain

import (
	"testing"
	"time"
)

func ts(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil { panic(err) }
	return &t
}

func TestIsResolvedRequiresTimestamp(t *testing.T) {
	c := NewStatusClassifier([]string{"Open", "In Progress", "Reopened"})
	if c.IsResolved(Ticket{Status: "Done"}) {
		t.Fatalf("ticket without resolved_at must not be resolved")
	}
}

func TestIsResolvedStatusWins(t *testing.T) {
	c := NewStatusClassifier([]string{"Open", "In Progress", "Reopened"})

	// reopened ticket keeps its stale resolved_at but is not resolved
	reopened := Ticket{Status: "Reopened", ResolvedAt: ts("2026-01-10")}
	if c.IsResolved(reopened) {
		t.Fatalf("reopened ticket with stale resolved_at counted as resolved")
	}

	done := Ticket{Status: "Done", ResolvedAt: ts("2026-01-10")}
	if !c.IsResolved(done) {
		t.Fatalf("done ticket with resolved_at not counted as resolved")
	}
}

func TestIsResolvedCaseFolding(t *testing.T) {
	c := NewStatusClassifier([]string{"In Progress"})
	tk := Ticket{Status: "IN PROGRESS", ResolvedAt: ts("2026-01-10")}
	if c.IsResolved(tk) {
		t.Fatalf("status matching must be case-insensitive")
	}
}

func TestUnknownStatusIsResolvedCapable(t *testing.T) {
	c := NewStatusClassifier([]string{"Open"})
	tk := Ticket{Status: "Deployed To Prod", ResolvedAt: ts("2026-01-10")}
	if !c.IsResolved(tk) {
		t.Fatalf("unknown status with resolved_at should count as resolved")
	}
}

func TestNonResolvedFoldsAndDedupes(t *testing.T) {
	c := NewStatusClassifier([]string{"Open", " open ", "Blocked", ""})
	got := c.NonResolved()
	if len(got) != 2 || got[0] != "open" || got[1] != "blocked" {
		t.Fatalf("unexpected folded list: %v", got)
	}
}
