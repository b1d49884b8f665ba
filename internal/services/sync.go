package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zieduz/jira-dashboard/internal/adapters/gitlab"
	"github.com/zieduz/jira-dashboard/internal/adapters/jira"
	"github.com/zieduz/jira-dashboard/internal/config"
	"github.com/zieduz/jira-dashboard/internal/domain"
)

// ErrInvalidInput marks sync failures the caller can fix (missing
// configuration, malformed dates); handlers map it to 400.
var ErrInvalidInput = errors.New("invalid input")

// SyncStore is the write surface of the ingestion pipeline.
type SyncStore interface {
	UpsertProject(ctx context.Context, p domain.Project) (int64, error)
	ProjectByKey(ctx context.Context, key string) (*domain.Project, error)
	// UpsertUserByIdentity reconciles by external id first, then email, and
	// updates the display name opportunistically.
	UpsertUserByIdentity(ctx context.Context, u domain.User) (int64, error)
	UpsertTicket(ctx context.Context, t domain.Ticket) (int64, error)
	TicketByJiraID(ctx context.Context, jiraID string) (*domain.Ticket, error)
	CommitExists(ctx context.Context, hash string) (bool, error)
	InsertCommit(ctx context.Context, c domain.Commit) error
	StartSyncRun(ctx context.Context, source string) (int64, error)
	FinishSyncRun(ctx context.Context, id int64, processed int, success bool, errStr string) error
}

type SyncService struct {
	cfg    config.Config
	log    zerolog.Logger
	store  SyncStore
	jira   *jira.Client
	gitlab *gitlab.Client
}

func NewSyncService(cfg config.Config, log zerolog.Logger, store SyncStore, jc *jira.Client, gl *gitlab.Client) *SyncService {
	return &SyncService{cfg: cfg, log: log, store: store, jira: jc, gitlab: gl}
}

type JiraSyncResult struct {
	ProjectsProcessed int      `json:"projects_processed"`
	IssuesProcessed   int      `json:"issues_processed"`
	CreatedSince      string   `json:"created_since"`
	ProjectKeys       []string `json:"project_keys"`
}

// SyncJira pages issues for the given project keys (or the configured ones)
// and upserts projects, assignees, and tickets. Issues are processed by a
// bounded worker pool per page, mirroring the paginated fetch.
func (s *SyncService) SyncJira(ctx context.Context, projectKeys []string, createdSince string) (JiraSyncResult, error) {
	if len(projectKeys) == 0 { projectKeys = s.cfg.JiraProjectKeys }
	if len(projectKeys) == 0 {
		return JiraSyncResult{}, fmt.Errorf("%w: no project keys provided or configured", ErrInvalidInput)
	}
	if createdSince == "" { createdSince = s.cfg.JiraCreatedSince }
	if _, err := time.Parse("2006-01-02", createdSince); err != nil {
		return JiraSyncResult{}, fmt.Errorf("%w: created_since must be YYYY-MM-DD", ErrInvalidInput)
	}

	runID, err := s.store.StartSyncRun(ctx, "jira")
	if err != nil { s.log.Error().Err(err).Msg("start sync run failed") }

	res := JiraSyncResult{CreatedSince: createdSince, ProjectKeys: projectKeys}
	var syncErr error
	defer func() {
		if runID != 0 {
			msg := ""
			if syncErr != nil { msg = syncErr.Error() }
			_ = s.store.FinishSyncRun(ctx, runID, res.IssuesProcessed, syncErr == nil, msg)
		}
	}()

	// Project metadata is best effort; issue sync works from keys alone.
	meta := map[string]jira.Project{}
	if projects, err := s.jira.Projects(ctx); err == nil {
		for _, p := range projects {
			if p.Key != "" { meta[p.Key] = p }
		}
	} else {
		s.log.Warn().Err(err).Msg("jira project listing failed, syncing by key only")
	}

	for _, key := range projectKeys {
		res.ProjectsProcessed++
		name := key
		desc := ""
		if p, ok := meta[key]; ok {
			if p.Name != "" { name = p.Name }
			desc = p.Description
		}
		projectID, err := s.store.UpsertProject(ctx, domain.Project{Key: key, Name: name, Description: desc})
		if err != nil { syncErr = err; return res, err }

		const pageSize = 100
		startAt := 0
		for {
			page, err := s.jira.ProjectIssues(ctx, key, createdSince, startAt, pageSize)
			if err != nil { syncErr = err; return res, err }
			if len(page.Issues) == 0 { break }

			workers := s.cfg.WorkersJira
			if workers <= 0 { workers = 6 }
			jobs := make(chan jira.Issue)
			var wg sync.WaitGroup
			var mu sync.Mutex
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for iss := range jobs {
						if err := s.upsertIssue(ctx, projectID, iss); err != nil {
							s.log.Error().Err(err).Str("issue", iss.Key).Msg("issue upsert failed")
							continue
						}
						mu.Lock()
						res.IssuesProcessed++
						mu.Unlock()
					}
				}()
			}
			for _, iss := range page.Issues { jobs <- iss }
			close(jobs)
			wg.Wait()

			if len(page.Issues) < pageSize { break }
			startAt += pageSize
		}
	}
	return res, nil
}

func (s *SyncService) upsertIssue(ctx context.Context, projectID int64, iss jira.Issue) error {
	if iss.Key == "" { return errors.New("issue without key") }
	fields := iss.Fields

	var assigneeID *int64
	if am, ok := fields["assignee"].(map[string]any); ok && am != nil {
		u := domain.User{
			ExternalID:  domain.FieldString(am["accountId"]),
			Email:       domain.FieldString(am["emailAddress"]),
			DisplayName: domain.FieldString(am["displayName"]),
		}
		if u.ExternalID == "" { u.ExternalID = domain.FieldString(am["name"]) }
		if av, ok := am["avatarUrls"].(map[string]any); ok { u.AvatarURL = domain.FieldString(av["48x48"]) }
		if u.DisplayName == "" { u.DisplayName = u.Email }
		if u.ExternalID != "" || u.Email != "" {
			id, err := s.store.UpsertUserByIdentity(ctx, u)
			if err != nil { return err }
			assigneeID = &id
		}
	}

	t := domain.Ticket{
		JiraID:      iss.Key,
		ProjectID:   projectID,
		AssigneeID:  assigneeID,
		Summary:     domain.FieldString(fields["summary"]),
		Description: domain.FieldString(fields["description"]),
		Status:      domain.FieldString(fields["status"]),
		Priority:    domain.FieldString(fields["priority"]),
		IssueType:   domain.FieldString(fields["issuetype"]),
		Customer:    domain.FieldString(fields[s.jira.CustomerField()]),
		StoryPoints: storyPoints(fields[s.jira.PointsField()]),
		TimeEstimate: secondsToHours(fields["timeestimate"]),
		TimeSpent:    secondsToHours(fields["timespent"]),
	}
	if lv, ok := fields["labels"].([]any); ok {
		labels := make([]string, 0, len(lv))
		for _, l := range lv {
			if str, ok := l.(string); ok { labels = append(labels, str) }
		}
		t.Labels = domain.JoinLabels(labels)
	}
	created := parseJiraTime(domain.FieldString(fields["created"]))
	if created == nil { return fmt.Errorf("issue %s without created timestamp", iss.Key) }
	t.CreatedAt = *created
	t.UpdatedAt = parseJiraTime(domain.FieldString(fields["updated"]))
	t.ResolvedAt = parseJiraTime(domain.FieldString(fields["resolutiondate"]))

	_, err := s.store.UpsertTicket(ctx, t)
	return err
}

type CommitItem struct {
	Hash        string `json:"commit_hash"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at"`
	AuthorEmail string `json:"author_email"`
	AuthorName  string `json:"author_name"`
	ProjectKey  string `json:"project_key"`
}

type IngestResult struct {
	Created   int `json:"created"`
	Skipped   int `json:"skipped"`
	Unmatched int `json:"unmatched"`
	Total     int `json:"total"`
}

// IngestCommits links pushed commit metadata to tickets by the first issue
// key found in each message. Known hashes are skipped, keyless or unknown-key
// commits counted as unmatched.
func (s *SyncService) IngestCommits(ctx context.Context, items []CommitItem) (IngestResult, error) {
	res := IngestResult{Total: len(items)}
	for _, item := range items {
		if item.Hash == "" { return res, fmt.Errorf("%w: commit_hash is required", ErrInvalidInput) }
		exists, err := s.store.CommitExists(ctx, item.Hash)
		if err != nil { return res, err }
		if exists { res.Skipped++; continue }

		keys := domain.IssueKeys(item.Message)
		if len(keys) == 0 { res.Unmatched++; continue }
		ticket, err := s.store.TicketByJiraID(ctx, keys[0])
		if err != nil { return res, err }
		if ticket == nil { res.Unmatched++; continue }

		projectID := ticket.ProjectID
		if item.ProjectKey != "" {
			if p, err := s.store.ProjectByKey(ctx, item.ProjectKey); err != nil {
				return res, err
			} else if p != nil {
				projectID = p.ID
			}
		}

		var authorID *int64
		if item.AuthorEmail != "" || item.AuthorName != "" {
			id, err := s.store.UpsertUserByIdentity(ctx, domain.User{Email: item.AuthorEmail, DisplayName: authorName(item)})
			if err != nil { return res, err }
			authorID = &id
		}

		createdAt := time.Now().UTC()
		if t := parseISOTime(item.CreatedAt); t != nil { createdAt = *t }

		tid := ticket.ID
		err = s.store.InsertCommit(ctx, domain.Commit{
			Hash:      item.Hash,
			Message:   item.Message,
			CreatedAt: createdAt,
			ProjectID: projectID,
			TicketID:  &tid,
			AuthorID:  authorID,
		})
		if err != nil { return res, err }
		res.Created++
	}
	return res, nil
}

type GitLabSyncResult struct {
	CommitsCreated int     `json:"commits_created"`
	ProjectIDs     []int64 `json:"project_ids"`
	Since          string  `json:"since"`
	Until          string  `json:"until"`
}

// SyncGitLab ingests repository commits from the given GitLab projects into
// the commit store, linking them to tickets by issue key when the message
// carries one. Projects are fetched concurrently under a semaphore.
func (s *SyncService) SyncGitLab(ctx context.Context, projectIDs []int64, since, until time.Time) (GitLabSyncResult, error) {
	if len(projectIDs) == 0 { projectIDs = s.cfg.GitLabProjectIDs }
	if len(projectIDs) == 0 {
		return GitLabSyncResult{}, fmt.Errorf("%w: no gitlab project ids provided or configured", ErrInvalidInput)
	}
	now := time.Now().UTC()
	if until.IsZero() { until = now }
	if since.IsZero() { since = until.AddDate(0, 0, -s.cfg.GitLabSinceDays) }
	if since.After(until) { since, until = until, since }

	runID, err := s.store.StartSyncRun(ctx, "gitlab")
	if err != nil { s.log.Error().Err(err).Msg("start sync run failed") }

	res := GitLabSyncResult{ProjectIDs: projectIDs, Since: since.Format(time.RFC3339), Until: until.Format(time.RFC3339)}
	limit := s.cfg.MaxConcurrency
	if limit <= 0 { limit = 6 }
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, pid := range projectIDs {
		wg.Add(1)
		go func(pid int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			n, err := s.syncGitLabProject(ctx, pid, since, until)
			mu.Lock()
			defer mu.Unlock()
			res.CommitsCreated += n
			if err != nil && firstErr == nil { firstErr = err }
		}(pid)
	}
	wg.Wait()

	if runID != 0 {
		msg := ""
		if firstErr != nil { msg = firstErr.Error() }
		_ = s.store.FinishSyncRun(ctx, runID, res.CommitsCreated, firstErr == nil, msg)
	}
	return res, firstErr
}

func (s *SyncService) syncGitLabProject(ctx context.Context, pid int64, since, until time.Time) (int, error) {
	name := fmt.Sprintf("%d", pid)
	if p, err := s.gitlab.Project(ctx, pid); err == nil {
		if p.NameWithNamespace != "" {
			name = p.NameWithNamespace
		} else if p.Name != "" {
			name = p.Name
		}
	}
	projectID, err := s.store.UpsertProject(ctx, domain.Project{Key: fmt.Sprintf("GL-%d", pid), Name: name})
	if err != nil { return 0, err }

	created := 0
	for page := 1; ; page++ {
		commits, err := s.gitlab.Commits(ctx, pid, since.Format(time.RFC3339), until.Format(time.RFC3339), page)
		if err != nil { return created, err }
		if len(commits) == 0 { break }
		for _, c := range commits {
			exists, err := s.store.CommitExists(ctx, c.ID)
			if err != nil { return created, err }
			if exists { continue }

			occurred := parseISOTime(c.CreatedAt)
			if occurred == nil { occurred = parseISOTime(c.CommittedDate) }
			if occurred == nil { continue }

			var ticketID *int64
			commitProject := projectID
			if keys := domain.IssueKeys(c.Message); len(keys) > 0 {
				if t, err := s.store.TicketByJiraID(ctx, keys[0]); err != nil {
					return created, err
				} else if t != nil {
					ticketID = &t.ID
					commitProject = t.ProjectID
				}
			}

			var authorID *int64
			if c.AuthorEmail != "" || c.AuthorName != "" {
				dn := c.AuthorName
				if dn == "" { dn = c.AuthorEmail }
				id, err := s.store.UpsertUserByIdentity(ctx, domain.User{Email: c.AuthorEmail, DisplayName: dn})
				if err != nil { return created, err }
				authorID = &id
			}

			err = s.store.InsertCommit(ctx, domain.Commit{
				Hash:      c.ID,
				Message:   c.Message,
				CreatedAt: occurred.UTC(),
				ProjectID: commitProject,
				TicketID:  ticketID,
				AuthorID:  authorID,
			})
			if err != nil { return created, err }
			created++
		}
		if len(commits) < s.gitlab.PageSize() { break }
	}
	return created, nil
}

func authorName(item CommitItem) string {
	if item.AuthorName != "" { return item.AuthorName }
	if item.AuthorEmail != "" { return item.AuthorEmail }
	return "Unknown"
}

func storyPoints(v any) *int {
	if f, ok := v.(float64); ok {
		n := int(f)
		return &n
	}
	return nil
}

// secondsToHours converts Jira's second-valued time tracking fields into the
// hour floats the schema stores.
func secondsToHours(v any) *float64 {
	if f, ok := v.(float64); ok {
		h := f / 3600
		return &h
	}
	return nil
}

var jiraTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
}

func parseJiraTime(s string) *time.Time {
	if s == "" { return nil }
	for _, layout := range jiraTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func parseISOTime(s string) *time.Time {
	if s == "" { return nil }
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		u := t.UTC()
		return &u
	}
	return parseJiraTime(s)
}
