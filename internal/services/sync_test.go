package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zieduz/jira-dashboard/internal/adapters/gitlab"
	"github.com/zieduz/jira-dashboard/internal/adapters/jira"
	"github.com/zieduz/jira-dashboard/internal/config"
	"github.com/zieduz/jira-dashboard/internal/domain"
)

type fakeSyncStore struct {
	projects map[string]int64
	tickets  map[string]domain.Ticket
	users    []domain.User
	commits  []domain.Commit
	hashes   map[string]bool
	lastTicket domain.Ticket
}

func newFakeSyncStore() *fakeSyncStore {
	return &fakeSyncStore{
		projects: map[string]int64{},
		tickets:  map[string]domain.Ticket{},
		hashes:   map[string]bool{},
	}
}

func (f *fakeSyncStore) UpsertProject(ctx context.Context, p domain.Project) (int64, error) {
	if id, ok := f.projects[p.Key]; ok { return id, nil }
	id := int64(len(f.projects) + 1)
	f.projects[p.Key] = id
	return id, nil
}
func (f *fakeSyncStore) ProjectByKey(ctx context.Context, key string) (*domain.Project, error) {
	if id, ok := f.projects[key]; ok { return &domain.Project{ID: id, Key: key}, nil }
	return nil, nil
}
func (f *fakeSyncStore) UpsertUserByIdentity(ctx context.Context, u domain.User) (int64, error) {
	for _, e := range f.users {
		if (u.ExternalID != "" && e.ExternalID == u.ExternalID) || (u.Email != "" && e.Email == u.Email) {
			return e.ID, nil
		}
	}
	u.ID = int64(len(f.users) + 1)
	f.users = append(f.users, u)
	return u.ID, nil
}
func (f *fakeSyncStore) UpsertTicket(ctx context.Context, t domain.Ticket) (int64, error) {
	t.ID = int64(len(f.tickets) + 1)
	f.tickets[t.JiraID] = t
	f.lastTicket = t
	return t.ID, nil
}
func (f *fakeSyncStore) TicketByJiraID(ctx context.Context, jiraID string) (*domain.Ticket, error) {
	if t, ok := f.tickets[jiraID]; ok { return &t, nil }
	return nil, nil
}
func (f *fakeSyncStore) CommitExists(ctx context.Context, hash string) (bool, error) {
	return f.hashes[hash], nil
}
func (f *fakeSyncStore) InsertCommit(ctx context.Context, c domain.Commit) error {
	f.hashes[c.Hash] = true
	f.commits = append(f.commits, c)
	return nil
}
func (f *fakeSyncStore) StartSyncRun(ctx context.Context, source string) (int64, error) { return 1, nil }
func (f *fakeSyncStore) FinishSyncRun(ctx context.Context, id int64, processed int, success bool, errStr string) error {
	return nil
}

func newSyncService(store SyncStore) *SyncService {
	cfg := config.Config{
		JiraStoryPointsField: "customfield_10016",
		JiraCustomerField:    "customfield_10050",
		WorkersJira:          2,
		MaxConcurrency:       2,
		HTTPTimeout:          time.Second,
	}
	log := zerolog.Nop()
	return NewSyncService(cfg, log, store, jira.NewClient(cfg, log), gitlab.NewClient(cfg, log))
}

func TestUpsertIssueFieldMapping(t *testing.T) {
	store := newFakeSyncStore()
	svc := newSyncService(store)

	iss := jira.Issue{
		Key: "PROJ-7",
		Fields: map[string]any{
			"summary":     "Fix login flow",
			"description": "steps...",
			"status":      map[string]any{"name": "In Progress"},
			"priority":    map[string]any{"name": "High"},
			"issuetype":   map[string]any{"name": "Bug"},
			"assignee": map[string]any{
				"accountId":    "abc123",
				"emailAddress": "jane@example.com",
				"displayName":  "Jane Doe",
			},
			"labels":            []any{"backend", "auth"},
			"timeestimate":      float64(7200),  // seconds
			"timespent":         float64(3600),  // seconds
			"customfield_10016": float64(5),
			"customfield_10050": map[string]any{"value": "ACME"},
			"created":           "2026-05-01T09:15:00.000+0200",
			"updated":           "2026-05-02T10:00:00.000+0200",
			"resolutiondate":    nil,
		},
	}
	if err := svc.upsertIssue(context.Background(), 1, iss); err != nil { t.Fatal(err) }

	tk := store.lastTicket
	if tk.JiraID != "PROJ-7" || tk.Status != "In Progress" || tk.Priority != "High" || tk.IssueType != "Bug" {
		t.Fatalf("mapped ticket = %+v", tk)
	}
	if tk.Customer != "ACME" {
		t.Fatalf("customer = %q", tk.Customer)
	}
	if tk.Labels != ",backend,auth," {
		t.Fatalf("labels = %q", tk.Labels)
	}
	if tk.StoryPoints == nil || *tk.StoryPoints != 5 {
		t.Fatalf("story points = %v", tk.StoryPoints)
	}
	// tracker reports seconds, schema stores hours
	if tk.TimeEstimate == nil || *tk.TimeEstimate != 2 {
		t.Fatalf("time estimate = %v, want 2h", tk.TimeEstimate)
	}
	if tk.TimeSpent == nil || *tk.TimeSpent != 1 {
		t.Fatalf("time spent = %v, want 1h", tk.TimeSpent)
	}
	if want := time.Date(2026, 5, 1, 7, 15, 0, 0, time.UTC); !tk.CreatedAt.Equal(want) {
		t.Fatalf("created_at = %v, want %v", tk.CreatedAt, want)
	}
	if tk.ResolvedAt != nil {
		t.Fatalf("unresolved issue got resolved_at %v", tk.ResolvedAt)
	}
	if tk.AssigneeID == nil {
		t.Fatalf("assignee not linked")
	}
	if len(store.users) != 1 || store.users[0].ExternalID != "abc123" {
		t.Fatalf("users = %+v", store.users)
	}
}

func TestUpsertIssueRequiresCreated(t *testing.T) {
	svc := newSyncService(newFakeSyncStore())
	iss := jira.Issue{Key: "PROJ-8", Fields: map[string]any{"summary": "x"}}
	if err := svc.upsertIssue(context.Background(), 1, iss); err == nil {
		t.Fatalf("issue without created timestamp must fail")
	}
}

func TestIngestCommits(t *testing.T) {
	store := newFakeSyncStore()
	store.projects["PROJ"] = 1
	store.tickets["PROJ-7"] = domain.Ticket{ID: 42, JiraID: "PROJ-7", ProjectID: 1}
	store.hashes["dupe"] = true
	svc := newSyncService(store)

	res, err := svc.IngestCommits(context.Background(), []CommitItem{
		{Hash: "a1", Message: "PROJ-7 fix login", CreatedAt: "2026-05-01T10:00:00Z", AuthorEmail: "dev@example.com"},
		{Hash: "dupe", Message: "PROJ-7 already known"},
		{Hash: "b2", Message: "chore: no key"},
		{Hash: "c3", Message: "UNKNOWN-1 orphan"},
	})
	if err != nil { t.Fatal(err) }
	if res.Created != 1 || res.Skipped != 1 || res.Unmatched != 2 || res.Total != 4 {
		t.Fatalf("result = %+v", res)
	}
	if len(store.commits) != 1 {
		t.Fatalf("stored %d commits", len(store.commits))
	}
	c := store.commits[0]
	if c.TicketID == nil || *c.TicketID != 42 || c.ProjectID != 1 {
		t.Fatalf("commit linkage = %+v", c)
	}
	if c.AuthorID == nil {
		t.Fatalf("commit author not linked")
	}
}

func TestIngestCommitsRequiresHash(t *testing.T) {
	svc := newSyncService(newFakeSyncStore())
	if _, err := svc.IngestCommits(context.Background(), []CommitItem{{Message: "PROJ-1 x"}}); err == nil {
		t.Fatalf("missing commit_hash must fail")
	}
}

func TestParseJiraTime(t *testing.T) {
	got := parseJiraTime("2026-05-01T09:15:00.000+0200")
	if got == nil || !got.Equal(time.Date(2026, 5, 1, 7, 15, 0, 0, time.UTC)) {
		t.Fatalf("millis layout = %v", got)
	}
	got = parseJiraTime("2026-05-01T09:15:00+0200")
	if got == nil || !got.Equal(time.Date(2026, 5, 1, 7, 15, 0, 0, time.UTC)) {
		t.Fatalf("no-millis layout = %v", got)
	}
	got = parseJiraTime("2026-05-01T09:15:00Z")
	if got == nil || !got.Equal(time.Date(2026, 5, 1, 9, 15, 0, 0, time.UTC)) {
		t.Fatalf("rfc3339 layout = %v", got)
	}
	if parseJiraTime("") != nil || parseJiraTime("yesterday") != nil {
		t.Fatalf("garbage input must yield nil")
	}
}

func TestSecondsToHours(t *testing.T) {
	if got := secondsToHours(float64(5400)); got == nil || *got != 1.5 {
		t.Fatalf("5400s = %v, want 1.5h", got)
	}
	if secondsToHours(nil) != nil || secondsToHours("3600") != nil {
		t.Fatalf("non-numeric input must yield nil")
	}
}
