package domain

import "strings"

// StatusClassifier decides whether a ticket counts as resolved. resolved_at
// alone is not authoritative: a reopened ticket keeps its old timestamp while
// the status regresses into the non-resolved set, so the status check wins at
// query time. Statuses outside the set are resolved-capable by default.
type StatusClassifier struct {
	nonResolved map[string]struct{}
	folded      []string
}

func NewStatusClassifier(nonResolved []string) StatusClassifier {
	set := make(map[string]struct{}, len(nonResolved))
	folded := make([]string, 0, len(nonResolved))
	for _, s := range nonResolved {
		f := strings.ToLower(strings.TrimSpace(s))
		if f == "" { continue }
		if _, ok := set[f]; ok { continue }
		set[f] = struct{}{}
		folded = append(folded, f)
	}
	return StatusClassifier{nonResolved: set, folded: folded}
}

func (c StatusClassifier) IsResolved(t Ticket) bool {
	if t.ResolvedAt == nil { return false }
	_, open := c.nonResolved[strings.ToLower(t.Status)]
	return !open
}

// NonResolved returns the case-folded status list for SQL-side filtering
// (status != ALL($n)).
func (c StatusClassifier) NonResolved() []string { return c.folded }
