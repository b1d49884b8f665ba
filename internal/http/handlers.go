package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/zieduz/jira-dashboard/internal/config"
	"github.com/zieduz/jira-dashboard/internal/domain"
	"github.com/zieduz/jira-dashboard/internal/services"
)

// store is the direct-read surface the handlers use next to the services.
type store interface {
	ListTickets(ctx context.Context, f services.TicketFilters, from, to time.Time, limit, offset int) ([]domain.Ticket, int, error)
	TicketByID(ctx context.Context, id int64) (*domain.Ticket, error)
	TicketByJiraID(ctx context.Context, jiraID string) (*domain.Ticket, error)
	Projects(ctx context.Context) ([]domain.Project, error)
	Users(ctx context.Context) ([]domain.User, error)
	DistinctStatuses(ctx context.Context) ([]string, error)
	DistinctCustomers(ctx context.Context) ([]string, error)
	DistinctLabels(ctx context.Context) ([]string, error)
	LastSyncRun(ctx context.Context) (*domain.SyncRun, error)
}

type Handlers struct {
	cfg      config.Config
	log      zerolog.Logger
	metrics  *services.MetricsService
	forecast *services.ForecastService
	sync     *services.SyncService
	store    store
}

func NewHandlers(cfg config.Config, log zerolog.Logger, m *services.MetricsService, f *services.ForecastService, s *services.SyncService, st store) *Handlers {
	return &Handlers{cfg: cfg, log: log, metrics: m, forecast: f, sync: s, store: st}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- query parsing ----

// window returns the inclusive [from, to] range from start_date/end_date
// (YYYY-MM-DD, whole days) defaulting to the trailing 30 days.
func window(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	if s := c.Query("start_date"); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
			return from, to, false
		}
		from = d
	}
	if s := c.Query("end_date"); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return from, to, false
		}
		to = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date before start_date"})
		return from, to, false
	}
	return from, to, true
}

func filters(c *gin.Context) services.TicketFilters {
	var f services.TicketFilters
	if v := c.Query("project_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil { f.ProjectIDs = append(f.ProjectIDs, id) }
	}
	for _, v := range splitCSV(c.Query("project_ids")) {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil { f.ProjectIDs = append(f.ProjectIDs, id) }
	}
	if v := c.Query("user_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil { f.UserID = id }
	}
	f.Status = c.Query("status")
	f.Customers = splitCSV(c.Query("customers"))
	f.Labels = splitCSV(c.Query("labels"))
	return f
}

func splitCSV(s string) []string {
	if s == "" { return nil }
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" { continue }
		out = append(out, p)
	}
	return out
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" { return def }
	n, err := strconv.Atoi(v)
	if err != nil { return def }
	return n
}

func int64Query(c *gin.Context, key string) int64 {
	n, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil { return 0 }
	return n
}

// ---- metrics ----

func (h *Handlers) Metrics(c *gin.Context) {
	from, to, ok := window(c)
	if !ok { return }
	out, err := h.metrics.GetMetrics(c.Request.Context(), filters(c), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) Throughput(c *gin.Context) {
	from, to, ok := window(c)
	if !ok { return }
	g := services.ParseGranularity(c.Query("group_by"))
	out, err := h.metrics.Throughput(c.Request.Context(), filters(c), from, to, g)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_by": string(g), "points": out})
}

func (h *Handlers) CumulativeFlow(c *gin.Context) {
	from, to, ok := window(c)
	if !ok { return }
	g := services.ParseGranularity(c.Query("group_by"))
	out, err := h.metrics.CumulativeFlow(c.Request.Context(), filters(c), from, to, g)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_by": string(g), "points": out})
}

func (h *Handlers) ControlChart(c *gin.Context) {
	from, to, ok := window(c)
	if !ok { return }
	out, err := h.metrics.CycleTime(c.Request.Context(), filters(c), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) CommitsPerIssue(c *gin.Context) {
	from, to, ok := window(c)
	if !ok { return }
	out, err := h.metrics.CommitsPerIssue(c.Request.Context(), filters(c), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commits_per_issue": out})
}

// ---- forecast ----

func (h *Handlers) Forecast(c *gin.Context) {
	daysAhead := intQuery(c, "days_ahead", 30)
	out, err := h.forecast.Forecast(c.Request.Context(), daysAhead, int64Query(c, "project_id"), int64Query(c, "user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) SprintForecast(c *gin.Context) {
	length := intQuery(c, "sprint_length_days", 14)
	out, err := h.forecast.SprintForecast(c.Request.Context(), length, int64Query(c, "project_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// ---- tickets ----

type ticketDTO struct {
	ID           int64      `json:"id"`
	JiraID       string     `json:"jira_id"`
	ProjectID    int64      `json:"project_id"`
	AssigneeID   *int64     `json:"assignee_id"`
	Summary      string     `json:"summary"`
	Description  string     `json:"description"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	IssueType    string     `json:"issue_type"`
	Customer     string     `json:"customer"`
	Labels       []string   `json:"labels"`
	StoryPoints  *int       `json:"story_points"`
	TimeEstimate *float64   `json:"time_estimate"`
	TimeSpent    *float64   `json:"time_spent"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at"`
	ResolvedAt   *time.Time `json:"resolved_at"`
}

func toTicketDTO(t domain.Ticket) ticketDTO {
	labels := domain.SplitLabels(t.Labels)
	if labels == nil { labels = []string{} }
	return ticketDTO{
		ID: t.ID, JiraID: t.JiraID, ProjectID: t.ProjectID, AssigneeID: t.AssigneeID,
		Summary: t.Summary, Description: t.Description, Status: t.Status,
		Priority: t.Priority, IssueType: t.IssueType, Customer: t.Customer,
		Labels: labels, StoryPoints: t.StoryPoints,
		TimeEstimate: t.TimeEstimate, TimeSpent: t.TimeSpent,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt, StartedAt: t.StartedAt, ResolvedAt: t.ResolvedAt,
	}
}

func (h *Handlers) ListTickets(c *gin.Context) {
	from, to, ok := window(c)
	if !ok { return }
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	tickets, total, err := h.store.ListTickets(c.Request.Context(), filters(c), from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]ticketDTO, 0, len(tickets))
	for _, t := range tickets { out = append(out, toTicketDTO(t)) }
	c.JSON(http.StatusOK, gin.H{"total": total, "limit": limit, "offset": offset, "tickets": out})
}

func (h *Handlers) TicketByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}
	t, err := h.store.TicketByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	c.JSON(http.StatusOK, toTicketDTO(*t))
}

func (h *Handlers) TicketByJiraKey(c *gin.Context) {
	t, err := h.store.TicketByJiraID(c.Request.Context(), strings.ToUpper(c.Param("key")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	c.JSON(http.StatusOK, toTicketDTO(*t))
}

// ---- filter options ----

func (h *Handlers) FilterOptions(c *gin.Context) {
	ctx := c.Request.Context()
	projects, err := h.store.Projects(ctx)
	if err != nil { c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return }
	users, err := h.store.Users(ctx)
	if err != nil { c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return }
	statuses, err := h.store.DistinctStatuses(ctx)
	if err != nil { c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return }
	customers, err := h.store.DistinctCustomers(ctx)
	if err != nil { c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return }
	labels, err := h.store.DistinctLabels(ctx)
	if err != nil { c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return }

	type projectDTO struct {
		ID   int64  `json:"id"`
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	type userDTO struct {
		ID          int64  `json:"id"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	ps := make([]projectDTO, 0, len(projects))
	for _, p := range projects { ps = append(ps, projectDTO{ID: p.ID, Key: p.Key, Name: p.Name}) }
	us := make([]userDTO, 0, len(users))
	for _, u := range users { us = append(us, userDTO{ID: u.ID, DisplayName: u.DisplayName, Email: u.Email}) }
	if statuses == nil { statuses = []string{} }
	if customers == nil { customers = []string{} }
	if labels == nil { labels = []string{} }

	c.JSON(http.StatusOK, gin.H{
		"projects":  ps,
		"users":     us,
		"statuses":  statuses,
		"customers": customers,
		"labels":    labels,
	})
}

// ---- ingestion ----

func (h *Handlers) SyncJira(c *gin.Context) {
	var req struct {
		ProjectKeys  []string `json:"project_keys"`
		CreatedSince string   `json:"created_since"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	out, err := h.sync.SyncJira(c.Request.Context(), req.ProjectKeys, req.CreatedSince)
	if err != nil {
		c.JSON(syncStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func syncStatus(err error) int {
	if errors.Is(err, services.ErrInvalidInput) { return http.StatusBadRequest }
	return http.StatusInternalServerError
}

func (h *Handlers) SyncGitLab(c *gin.Context) {
	var req struct {
		ProjectIDs []int64 `json:"project_ids"`
		Since      string  `json:"since"`
		Until      string  `json:"until"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	var since, until time.Time
	if req.Since != "" {
		t, err := parseDateOrTime(req.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be YYYY-MM-DD or RFC3339"})
			return
		}
		since = t
	}
	if req.Until != "" {
		t, err := parseDateOrTime(req.Until)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be YYYY-MM-DD or RFC3339"})
			return
		}
		until = t
	}
	out, err := h.sync.SyncGitLab(c.Request.Context(), req.ProjectIDs, since, until)
	if err != nil {
		c.JSON(syncStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) IngestCommits(c *gin.Context) {
	var req struct {
		Commits []services.CommitItem `json:"commits"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Commits) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commits list is empty"})
		return
	}
	out, err := h.sync.IngestCommits(c.Request.Context(), req.Commits)
	if err != nil {
		c.JSON(syncStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) LastSync(c *gin.Context) {
	sr, err := h.store.LastSyncRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sr == nil {
		c.JSON(http.StatusOK, gin.H{"last_sync": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_sync": sr})
}

func parseDateOrTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil { return t, nil }
	return time.Parse(time.RFC3339, s)
}
