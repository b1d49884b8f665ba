package services

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/zieduz/jira-dashboard/internal/config"
	"github.com/zieduz/jira-dashboard/internal/domain"
)

// TicketFilters carries the non-temporal filter set shared by every metric.
// Labels match any-of against the delimited label field; customers are exact.
type TicketFilters struct {
	ProjectIDs []int64
	UserID     int64
	Status     string
	Customers  []string
	Labels     []string
}

type ThroughputPoint struct {
	Date     string `json:"date"`
	Created  int    `json:"created"`
	Resolved int    `json:"resolved"`
}

type FlowPoint struct {
	Date string `json:"date"`
	Open int    `json:"open"`
	Done int    `json:"done"`
}

type ControlPoint struct {
	TicketID      string  `json:"ticket_id"`
	CycleTimeDays float64 `json:"cycle_time_days"`
	ResolvedAt    string  `json:"resolved_at"`
}

type ControlChart struct {
	Points      []ControlPoint `json:"points"`
	AverageDays float64        `json:"average_days"`
	P85Days     float64        `json:"p85_days"`
	P95Days     float64        `json:"p95_days"`
}

type IssueCommits struct {
	TicketID    string `json:"ticket_id"`
	CommitCount int    `json:"commit_count"`
}

type UserProductivity struct {
	User            string  `json:"user"`
	TicketsCreated  int     `json:"tickets_created"`
	TicketsResolved int     `json:"tickets_resolved"`
	AvgStoryPoints  float64 `json:"avg_story_points"`
	AvgTimeSpent    float64 `json:"avg_time_spent"`
}

type ProjectProductivity struct {
	Project          string  `json:"project"`
	TicketsCreated   int     `json:"tickets_created"`
	TicketsResolved  int     `json:"tickets_resolved"`
	AvgStoryPoints   float64 `json:"avg_story_points"`
	TotalStoryPoints float64 `json:"total_story_points"`
}

type Overview struct {
	TotalTickets          int                   `json:"total_tickets"`
	TicketsCreated        int                   `json:"tickets_created"`
	TicketsResolved       int                   `json:"tickets_resolved"`
	TicketsInProgress     int                   `json:"tickets_in_progress"`
	ProductivityPerUser   []UserProductivity    `json:"productivity_per_user"`
	ProductivityPerProject []ProjectProductivity `json:"productivity_per_project"`
	TicketThroughput      []ThroughputPoint     `json:"ticket_throughput"`
	CommitsPerIssue       []IssueCommits        `json:"commits_per_issue"`
	SLACompliance         float64               `json:"sla_compliance"`
	AverageResolutionTime float64               `json:"average_resolution_time"`
}

// MetricsStore is the read-only query surface the aggregation engine needs.
// The resolved predicate (resolved_at set AND status outside the non-resolved
// set) is applied store-side for every "resolved" query.
type MetricsStore interface {
	TicketCreationTimes(ctx context.Context, f TicketFilters, from, to time.Time) ([]time.Time, error)
	TicketResolutionTimes(ctx context.Context, f TicketFilters, from, to time.Time) ([]time.Time, error)
	ResolvedTicketsResolvedBetween(ctx context.Context, f TicketFilters, from, to time.Time) ([]domain.Ticket, error)
	ResolvedTicketsCreatedBetween(ctx context.Context, f TicketFilters, from, to time.Time) ([]domain.Ticket, error)
	CountTicketsCreated(ctx context.Context, f TicketFilters, from, to time.Time) (int, error)
	CommitCountsByTicket(ctx context.Context, f TicketFilters, from, to time.Time) ([]IssueCommits, error)
	UserProductivity(ctx context.Context, f TicketFilters, from, to time.Time) ([]UserProductivity, error)
	ProjectProductivity(ctx context.Context, f TicketFilters, from, to time.Time) ([]ProjectProductivity, error)
}

type MetricsService struct {
	store      MetricsStore
	classifier domain.StatusClassifier
	slaDays    int
	log        zerolog.Logger
}

func NewMetricsService(cfg config.Metrics, store MetricsStore, log zerolog.Logger) *MetricsService {
	return &MetricsService{
		store:      store,
		classifier: domain.NewStatusClassifier(cfg.NonResolvedStatuses),
		slaDays:    cfg.SLADays,
		log:        log,
	}
}

func (s *MetricsService) Classifier() domain.StatusClassifier { return s.classifier }

// Throughput counts tickets created and tickets resolved per bucket. The
// resolved side is windowed on resolved_at only: a ticket created before the
// window still counts when it resolves inside it.
func (s *MetricsService) Throughput(ctx context.Context, f TicketFilters, start, end time.Time, g Granularity) ([]ThroughputPoint, error) {
	periods := Periods(start, end, g)
	if len(periods) == 0 { return []ThroughputPoint{}, nil }

	created, err := s.store.TicketCreationTimes(ctx, f, start, end)
	if err != nil { return nil, err }
	resolved, err := s.store.TicketResolutionTimes(ctx, f, start, end)
	if err != nil { return nil, err }

	out := make([]ThroughputPoint, len(periods))
	for i, p := range periods {
		out[i] = ThroughputPoint{Date: p.Label()}
	}
	bucket := func(instants []time.Time, hit func(i int)) {
		for _, t := range instants {
			for i, p := range periods {
				if p.Contains(t.UTC()) { hit(i); break }
			}
		}
	}
	bucket(created, func(i int) { out[i].Created++ })
	bucket(resolved, func(i int) { out[i].Resolved++ })
	return out, nil
}

// CumulativeFlow turns the throughput series into running open/done totals.
// Open is clamped at zero: resolved work created before the window would
// otherwise push it negative.
func (s *MetricsService) CumulativeFlow(ctx context.Context, f TicketFilters, start, end time.Time, g Granularity) ([]FlowPoint, error) {
	through, err := s.Throughput(ctx, f, start, end, g)
	if err != nil { return nil, err }
	out := make([]FlowPoint, len(through))
	cumCreated, cumResolved := 0, 0
	for i, tp := range through {
		cumCreated += tp.Created
		cumResolved += tp.Resolved
		open := cumCreated - cumResolved
		if open < 0 { open = 0 }
		out[i] = FlowPoint{Date: tp.Date, Open: open, Done: cumResolved}
	}
	return out, nil
}

// CycleTime builds the control chart for tickets resolved within [start, end].
// Logged time wins over wall-clock elapsed time when present.
func (s *MetricsService) CycleTime(ctx context.Context, f TicketFilters, start, end time.Time) (ControlChart, error) {
	tickets, err := s.store.ResolvedTicketsResolvedBetween(ctx, f, start, end)
	if err != nil { return ControlChart{}, err }

	chart := ControlChart{Points: []ControlPoint{}}
	if len(tickets) == 0 { return chart, nil }

	days := make([]float64, 0, len(tickets))
	for _, t := range tickets {
		if t.ResolvedAt == nil { continue }
		var hours float64
		if t.TimeSpent != nil && *t.TimeSpent > 0 {
			hours = *t.TimeSpent
		} else {
			hours = t.ResolvedAt.Sub(t.CreatedAt).Hours()
		}
		d := hours / 24
		if d < 0 { d = 0 }
		days = append(days, d)
		chart.Points = append(chart.Points, ControlPoint{
			TicketID:      t.JiraID,
			CycleTimeDays: d,
			ResolvedAt:    t.ResolvedAt.UTC().Format("2006-01-02"),
		})
	}
	if len(days) == 0 { return chart, nil }

	sort.Slice(chart.Points, func(i, j int) bool { return chart.Points[i].ResolvedAt < chart.Points[j].ResolvedAt })
	sort.Float64s(days)
	sum := 0.0
	for _, d := range days { sum += d }
	chart.AverageDays = sum / float64(len(days))
	chart.P85Days = percentile(days, 0.85)
	chart.P95Days = percentile(days, 0.95)
	return chart, nil
}

// percentile interpolates linearly between order statistics of an ascending
// slice. percentile(v, 0) == min, percentile(v, 1) == max, empty input == 0.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 { return 0 }
	if n == 1 { return sorted[0] }
	k := float64(n-1) * p
	lo := int(math.Floor(k))
	hi := int(math.Ceil(k))
	if lo == hi { return sorted[lo] }
	return sorted[lo] + (sorted[hi]-sorted[lo])*(k-float64(lo))
}

// CommitsPerIssue counts commit activity per ticket. The window applies to
// commit timestamps only; the linked ticket's own dates are irrelevant. The
// answer is "activity in this window", not "activity on new tickets".
func (s *MetricsService) CommitsPerIssue(ctx context.Context, f TicketFilters, start, end time.Time) ([]IssueCommits, error) {
	counts, err := s.store.CommitCountsByTicket(ctx, f, start, end)
	if err != nil { return nil, err }
	if counts == nil { counts = []IssueCommits{} }
	return counts, nil
}

// SLACompliance is the percentage of resolved tickets (created in the window)
// resolved within the SLA allowance. Zero resolved tickets yields 0.0.
func (s *MetricsService) SLACompliance(ctx context.Context, f TicketFilters, start, end time.Time) (float64, error) {
	tickets, err := s.store.ResolvedTicketsCreatedBetween(ctx, f, start, end)
	if err != nil { return 0, err }
	if len(tickets) == 0 { return 0, nil }
	allowance := time.Duration(s.slaDays) * 24 * time.Hour
	onTime := 0
	for _, t := range tickets {
		if t.ResolvedAt != nil && !t.ResolvedAt.After(t.CreatedAt.Add(allowance)) { onTime++ }
	}
	return float64(onTime) / float64(len(tickets)) * 100, nil
}

// AverageResolutionHours is the mean created→resolved duration over the same
// resolved set as SLACompliance. Empty set yields 0.0.
func (s *MetricsService) AverageResolutionHours(ctx context.Context, f TicketFilters, start, end time.Time) (float64, error) {
	tickets, err := s.store.ResolvedTicketsCreatedBetween(ctx, f, start, end)
	if err != nil { return 0, err }
	if len(tickets) == 0 { return 0, nil }
	sum := 0.0
	n := 0
	for _, t := range tickets {
		if t.ResolvedAt == nil { continue }
		sum += t.ResolvedAt.Sub(t.CreatedAt).Hours()
		n++
	}
	if n == 0 { return 0, nil }
	return sum / float64(n), nil
}

// GetMetrics composes the dashboard overview. One atomic computation: any
// failing sub-query fails the whole response.
func (s *MetricsService) GetMetrics(ctx context.Context, f TicketFilters, start, end time.Time) (Overview, error) {
	total, err := s.store.CountTicketsCreated(ctx, f, start, end)
	if err != nil { return Overview{}, err }
	resolvedSet, err := s.store.ResolvedTicketsCreatedBetween(ctx, f, start, end)
	if err != nil { return Overview{}, err }
	perUser, err := s.store.UserProductivity(ctx, f, start, end)
	if err != nil { return Overview{}, err }
	perProject, err := s.store.ProjectProductivity(ctx, f, start, end)
	if err != nil { return Overview{}, err }
	throughput, err := s.Throughput(ctx, f, start, end, GranularityDay)
	if err != nil { return Overview{}, err }
	commits, err := s.CommitsPerIssue(ctx, f, start, end)
	if err != nil { return Overview{}, err }
	sla, err := s.SLACompliance(ctx, f, start, end)
	if err != nil { return Overview{}, err }
	avgRes, err := s.AverageResolutionHours(ctx, f, start, end)
	if err != nil { return Overview{}, err }

	if perUser == nil { perUser = []UserProductivity{} }
	if perProject == nil { perProject = []ProjectProductivity{} }
	resolved := len(resolvedSet)
	inProgress := total - resolved
	if inProgress < 0 { inProgress = 0 }
	return Overview{
		TotalTickets:           total,
		TicketsCreated:         total,
		TicketsResolved:        resolved,
		TicketsInProgress:      inProgress,
		ProductivityPerUser:    perUser,
		ProductivityPerProject: perProject,
		TicketThroughput:       throughput,
		CommitsPerIssue:        commits,
		SLACompliance:          sla,
		AverageResolutionTime:  avgRes,
	}, nil
}
