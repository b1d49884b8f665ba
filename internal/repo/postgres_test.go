package repo

import (
	"strings"
	"testing"
	"time"

	"github.com/zieduz/jira-dashboard/internal/services"
)

func TestTicketFiltersLabelsAnyOf(t *testing.T) {
	r := &Repository{}
	c := &cond{}
	r.ticketFilters(c, services.TicketFilters{Labels: []string{"backend", "urgent"}})

	want := " WHERE (t.labels LIKE $1 OR t.labels LIKE $2)"
	if got := c.where(); got != want {
		t.Fatalf("where = %q, want %q", got, want)
	}
	if len(c.args) != 2 || c.args[0] != "%,backend,%" || c.args[1] != "%,urgent,%" {
		t.Fatalf("args = %v", c.args)
	}
}

func TestTicketFiltersLabelsGroupedAgainstOtherClauses(t *testing.T) {
	r := &Repository{}
	c := &cond{}
	r.ticketFilters(c, services.TicketFilters{
		ProjectIDs: []int64{3},
		Labels:     []string{"bug", "backend"},
	})

	// the label group ORs internally but ANDs with the rest of the filter
	want := " WHERE t.project_id = ANY($1) AND (t.labels LIKE $2 OR t.labels LIKE $3)"
	if got := c.where(); got != want {
		t.Fatalf("where = %q, want %q", got, want)
	}
}

func TestTicketFiltersSingleLabel(t *testing.T) {
	r := &Repository{}
	c := &cond{}
	r.ticketFilters(c, services.TicketFilters{Labels: []string{"backend"}})
	if got := c.where(); got != " WHERE (t.labels LIKE $1)" {
		t.Fatalf("where = %q", got)
	}
}

func TestCommitCountsWindowOnCommitsOnly(t *testing.T) {
	r := &Repository{}
	from := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC)
	q, args := r.commitCountsQuery(services.TicketFilters{ProjectIDs: []int64{1}}, from, to)

	if !strings.Contains(q, "c.created_at >= $1") || !strings.Contains(q, "c.created_at <= $2") {
		t.Fatalf("query does not window on commit timestamps: %s", q)
	}
	// a commit in February counts even when its ticket was created or
	// resolved months earlier, so ticket dates must stay out of the predicate
	if strings.Contains(q, "t.created_at") || strings.Contains(q, "t.resolved_at") {
		t.Fatalf("query constrains ticket dates: %s", q)
	}
	if len(args) != 3 {
		t.Fatalf("args = %v", args)
	}
	if !args[0].(time.Time).Equal(from) || !args[1].(time.Time).Equal(to) {
		t.Fatalf("window args = %v, want [%v %v]", args[:2], from, to)
	}
}
