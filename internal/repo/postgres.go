package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/zieduz/jira-dashboard/internal/config"
	"github.com/zieduz/jira-dashboard/internal/domain"
	"github.com/zieduz/jira-dashboard/internal/services"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

// Repository implements the service store interfaces against Postgres. The
// resolved predicate lives here: resolved_at set AND the folded status outside
// the non-resolved set.
type Repository struct {
	db          *DB
	nonResolved []string
	log         zerolog.Logger
}

func NewRepository(d *DB, classifier domain.StatusClassifier, log zerolog.Logger) *Repository {
	return &Repository{db: d, nonResolved: classifier.NonResolved(), log: log}
}

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil { return errors.New("advisory unlock returned false") }
	return err
}

// ---- filter assembly ----

// cond accumulates WHERE clauses with positional args. Each clause is a
// fmt verb string whose single %d receives the next placeholder index.
type cond struct {
	sql  []string
	args []any
}

func (c *cond) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.sql = append(c.sql, fmt.Sprintf(clause, len(c.args)))
}

func (c *cond) raw(clause string) { c.sql = append(c.sql, clause) }

func (c *cond) where() string {
	if len(c.sql) == 0 { return "" }
	return " WHERE " + strings.Join(c.sql, " AND ")
}

func (r *Repository) ticketFilters(c *cond, f services.TicketFilters) {
	if len(f.ProjectIDs) > 0 { c.add("t.project_id = ANY($%d)", f.ProjectIDs) }
	if f.UserID > 0 { c.add("t.assignee_id = $%d", f.UserID) }
	if f.Status != "" { c.add("lower(t.status) = lower($%d)", f.Status) }
	if len(f.Customers) > 0 { c.add("t.customer = ANY($%d)", f.Customers) }
	if len(f.Labels) > 0 {
		// any-of: a ticket matches when it carries at least one filter label
		ors := make([]string, 0, len(f.Labels))
		for _, l := range f.Labels {
			c.args = append(c.args, domain.LabelPattern(l))
			ors = append(ors, fmt.Sprintf("t.labels LIKE $%d", len(c.args)))
		}
		c.raw("(" + strings.Join(ors, " OR ") + ")")
	}
}

func (r *Repository) resolvedPredicate(c *cond) {
	c.raw("t.resolved_at IS NOT NULL")
	c.add("lower(t.status) != ALL($%d)", r.nonResolved)
}

// ---- MetricsStore ----

func (r *Repository) TicketCreationTimes(ctx context.Context, f services.TicketFilters, from, to time.Time) ([]time.Time, error) {
	c := &cond{}
	c.add("t.created_at >= $%d", from)
	c.add("t.created_at <= $%d", to)
	r.ticketFilters(c, f)
	return r.queryTimes(ctx, "SELECT t.created_at FROM tickets t"+c.where(), c.args)
}

func (r *Repository) TicketResolutionTimes(ctx context.Context, f services.TicketFilters, from, to time.Time) ([]time.Time, error) {
	c := &cond{}
	r.resolvedPredicate(c)
	c.add("t.resolved_at >= $%d", from)
	c.add("t.resolved_at <= $%d", to)
	r.ticketFilters(c, f)
	return r.queryTimes(ctx, "SELECT t.resolved_at FROM tickets t"+c.where(), c.args)
}

func (r *Repository) queryTimes(ctx context.Context, q string, args []any) ([]time.Time, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil { return nil, err }
		out = append(out, t)
	}
	return out, rows.Err()
}

const ticketColumns = `t.id, t.jira_id, t.project_id, t.assignee_id,
	COALESCE(t.summary,''), COALESCE(t.description,''), COALESCE(t.status,''),
	COALESCE(t.priority,''), COALESCE(t.issue_type,''), COALESCE(t.customer,''),
	COALESCE(t.labels,''), t.story_points, t.time_estimate, t.time_spent,
	t.created_at, t.updated_at, t.started_at, t.resolved_at`

func scanTicket(rows pgx.Rows) (domain.Ticket, error) {
	var t domain.Ticket
	err := rows.Scan(&t.ID, &t.JiraID, &t.ProjectID, &t.AssigneeID,
		&t.Summary, &t.Description, &t.Status,
		&t.Priority, &t.IssueType, &t.Customer,
		&t.Labels, &t.StoryPoints, &t.TimeEstimate, &t.TimeSpent,
		&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.ResolvedAt)
	return t, err
}

func (r *Repository) queryTickets(ctx context.Context, q string, args []any) ([]domain.Ticket, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil { return nil, err }
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) ResolvedTicketsResolvedBetween(ctx context.Context, f services.TicketFilters, from, to time.Time) ([]domain.Ticket, error) {
	c := &cond{}
	r.resolvedPredicate(c)
	c.add("t.resolved_at >= $%d", from)
	c.add("t.resolved_at <= $%d", to)
	r.ticketFilters(c, f)
	return r.queryTickets(ctx, "SELECT "+ticketColumns+" FROM tickets t"+c.where()+" ORDER BY t.resolved_at", c.args)
}

func (r *Repository) ResolvedTicketsCreatedBetween(ctx context.Context, f services.TicketFilters, from, to time.Time) ([]domain.Ticket, error) {
	c := &cond{}
	r.resolvedPredicate(c)
	c.add("t.created_at >= $%d", from)
	c.add("t.created_at <= $%d", to)
	r.ticketFilters(c, f)
	return r.queryTickets(ctx, "SELECT "+ticketColumns+" FROM tickets t"+c.where()+" ORDER BY t.created_at", c.args)
}

func (r *Repository) CountTicketsCreated(ctx context.Context, f services.TicketFilters, from, to time.Time) (int, error) {
	c := &cond{}
	c.add("t.created_at >= $%d", from)
	c.add("t.created_at <= $%d", to)
	r.ticketFilters(c, f)
	var n int
	err := r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM tickets t"+c.where(), c.args...).Scan(&n)
	return n, err
}

// commitCountsQuery windows on commit timestamps only; the linked ticket's
// creation and resolution dates never enter the predicate.
func (r *Repository) commitCountsQuery(f services.TicketFilters, from, to time.Time) (string, []any) {
	c := &cond{}
	c.add("c.created_at >= $%d", from)
	c.add("c.created_at <= $%d", to)
	r.ticketFilters(c, f)
	q := `SELECT t.jira_id, COUNT(c.id)
		FROM commits c JOIN tickets t ON t.id = c.ticket_id` + c.where() + `
		GROUP BY t.jira_id ORDER BY COUNT(c.id) DESC, t.jira_id`
	return q, c.args
}

func (r *Repository) CommitCountsByTicket(ctx context.Context, f services.TicketFilters, from, to time.Time) ([]services.IssueCommits, error) {
	q, args := r.commitCountsQuery(f, from, to)
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []services.IssueCommits
	for rows.Next() {
		var ic services.IssueCommits
		if err := rows.Scan(&ic.TicketID, &ic.CommitCount); err != nil { return nil, err }
		out = append(out, ic)
	}
	return out, rows.Err()
}

func (r *Repository) UserProductivity(ctx context.Context, f services.TicketFilters, from, to time.Time) ([]services.UserProductivity, error) {
	c := &cond{}
	c.add("t.created_at >= $%d", from)
	c.add("t.created_at <= $%d", to)
	c.raw("t.assignee_id IS NOT NULL")
	r.ticketFilters(c, f)
	resolvedCase, resolvedArg := r.resolvedCase(c)
	q := fmt.Sprintf(`SELECT COALESCE(NULLIF(u.display_name,''), NULLIF(u.email,''), 'Unknown'),
			COUNT(*),
			COUNT(*) FILTER (WHERE %s),
			COALESCE(AVG(t.story_points), 0),
			COALESCE(AVG(t.time_spent), 0)
		FROM tickets t JOIN users u ON u.id = t.assignee_id`+c.where()+`
		GROUP BY 1 ORDER BY 2 DESC, 1`, resolvedCase)
	rows, err := r.db.Pool.Query(ctx, q, append(c.args, resolvedArg)...)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []services.UserProductivity
	for rows.Next() {
		var up services.UserProductivity
		if err := rows.Scan(&up.User, &up.TicketsCreated, &up.TicketsResolved, &up.AvgStoryPoints, &up.AvgTimeSpent); err != nil { return nil, err }
		out = append(out, up)
	}
	return out, rows.Err()
}

func (r *Repository) ProjectProductivity(ctx context.Context, f services.TicketFilters, from, to time.Time) ([]services.ProjectProductivity, error) {
	c := &cond{}
	c.add("t.created_at >= $%d", from)
	c.add("t.created_at <= $%d", to)
	r.ticketFilters(c, f)
	resolvedCase, resolvedArg := r.resolvedCase(c)
	q := fmt.Sprintf(`SELECT COALESCE(NULLIF(p.name,''), p.key),
			COUNT(*),
			COUNT(*) FILTER (WHERE %s),
			COALESCE(AVG(t.story_points), 0),
			COALESCE(SUM(t.story_points), 0)
		FROM tickets t JOIN projects p ON p.id = t.project_id`+c.where()+`
		GROUP BY 1 ORDER BY 2 DESC, 1`, resolvedCase)
	rows, err := r.db.Pool.Query(ctx, q, append(c.args, resolvedArg)...)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []services.ProjectProductivity
	for rows.Next() {
		var pp services.ProjectProductivity
		if err := rows.Scan(&pp.Project, &pp.TicketsCreated, &pp.TicketsResolved, &pp.AvgStoryPoints, &pp.TotalStoryPoints); err != nil { return nil, err }
		out = append(out, pp)
	}
	return out, rows.Err()
}

// resolvedCase renders the resolved predicate as an inline FILTER expression,
// appending the status-list argument after the assembled filter args.
func (r *Repository) resolvedCase(c *cond) (string, any) {
	return fmt.Sprintf("t.resolved_at IS NOT NULL AND lower(t.status) != ALL($%d)", len(c.args)+1), r.nonResolved
}

// ---- ForecastStore ----

func (r *Repository) DailyResolvedVelocity(ctx context.Context, projectID, userID int64, from, to time.Time) ([]services.DailyVelocity, error) {
	c := &cond{}
	r.resolvedPredicate(c)
	c.add("t.resolved_at >= $%d", from)
	c.add("t.resolved_at <= $%d", to)
	if projectID > 0 { c.add("t.project_id = $%d", projectID) }
	if userID > 0 { c.add("t.assignee_id = $%d", userID) }
	q := `SELECT date_trunc('day', t.resolved_at), COALESCE(SUM(t.story_points),0), COUNT(*)
		FROM tickets t` + c.where() + ` GROUP BY 1 ORDER BY 1`
	rows, err := r.db.Pool.Query(ctx, q, c.args...)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []services.DailyVelocity
	for rows.Next() {
		var dv services.DailyVelocity
		if err := rows.Scan(&dv.Day, &dv.Points, &dv.Resolved); err != nil { return nil, err }
		out = append(out, dv)
	}
	return out, rows.Err()
}

// ---- SyncStore ----

func (r *Repository) UpsertProject(ctx context.Context, p domain.Project) (int64, error) {
	const q = `INSERT INTO projects(key, name, description) VALUES($1,$2,$3)
		ON CONFLICT(key) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE projects.name END,
			description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description ELSE projects.description END
		RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, p.Key, p.Name, p.Description).Scan(&id)
	return id, err
}

func (r *Repository) ProjectByKey(ctx context.Context, key string) (*domain.Project, error) {
	const q = `SELECT id, key, COALESCE(name,''), COALESCE(description,'') FROM projects WHERE key=$1`
	var p domain.Project
	err := r.db.Pool.QueryRow(ctx, q, key).Scan(&p.ID, &p.Key, &p.Name, &p.Description)
	if errors.Is(err, pgx.ErrNoRows) { return nil, nil }
	if err != nil { return nil, err }
	return &p, nil
}

// UpsertUserByIdentity reconciles on external id first, then email, so a
// commit author (email only) and a Jira assignee (account id + email) collapse
// into one row. Name and avatar are refreshed when the caller has better data.
func (r *Repository) UpsertUserByIdentity(ctx context.Context, u domain.User) (int64, error) {
	const sel = `SELECT id FROM users
		WHERE (external_id = $1 AND $1 <> '') OR (email = $2 AND $2 <> '')
		ORDER BY (external_id = $1 AND $1 <> '') DESC LIMIT 1`
	var id int64
	err := r.db.Pool.QueryRow(ctx, sel, u.ExternalID, u.Email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		const ins = `INSERT INTO users(external_id, email, display_name, avatar_url)
			VALUES($1,$2,$3,$4) RETURNING id`
		err = r.db.Pool.QueryRow(ctx, ins, u.ExternalID, u.Email, u.DisplayName, u.AvatarURL).Scan(&id)
		return id, err
	}
	if err != nil { return 0, err }

	const upd = `UPDATE users SET
		external_id = CASE WHEN $2 <> '' THEN $2 ELSE external_id END,
		email = CASE WHEN $3 <> '' THEN $3 ELSE email END,
		display_name = CASE WHEN $4 <> '' THEN $4 ELSE display_name END,
		avatar_url = CASE WHEN $5 <> '' THEN $5 ELSE avatar_url END
		WHERE id = $1`
	_, err = r.db.Pool.Exec(ctx, upd, id, u.ExternalID, u.Email, u.DisplayName, u.AvatarURL)
	return id, err
}

func (r *Repository) UpsertTicket(ctx context.Context, t domain.Ticket) (int64, error) {
	const q = `INSERT INTO tickets(jira_id, project_id, assignee_id, summary, description,
			status, priority, issue_type, customer, labels, story_points,
			time_estimate, time_spent, created_at, updated_at, started_at, resolved_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT(jira_id) DO UPDATE SET
			project_id=EXCLUDED.project_id,
			assignee_id=EXCLUDED.assignee_id,
			summary=EXCLUDED.summary,
			description=EXCLUDED.description,
			status=EXCLUDED.status,
			priority=EXCLUDED.priority,
			issue_type=EXCLUDED.issue_type,
			customer=EXCLUDED.customer,
			labels=EXCLUDED.labels,
			story_points=EXCLUDED.story_points,
			time_estimate=EXCLUDED.time_estimate,
			time_spent=EXCLUDED.time_spent,
			created_at=EXCLUDED.created_at,
			updated_at=EXCLUDED.updated_at,
			started_at=COALESCE(EXCLUDED.started_at, tickets.started_at),
			resolved_at=EXCLUDED.resolved_at
		RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, t.JiraID, t.ProjectID, t.AssigneeID, t.Summary, t.Description,
		t.Status, t.Priority, t.IssueType, t.Customer, t.Labels, t.StoryPoints,
		t.TimeEstimate, t.TimeSpent, t.CreatedAt, t.UpdatedAt, t.StartedAt, t.ResolvedAt).Scan(&id)
	return id, err
}

func (r *Repository) TicketByJiraID(ctx context.Context, jiraID string) (*domain.Ticket, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT "+ticketColumns+" FROM tickets t WHERE t.jira_id=$1", jiraID)
	if err != nil { return nil, err }
	defer rows.Close()
	if !rows.Next() { return nil, rows.Err() }
	t, err := scanTicket(rows)
	if err != nil { return nil, err }
	return &t, nil
}

func (r *Repository) TicketByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT "+ticketColumns+" FROM tickets t WHERE t.id=$1", id)
	if err != nil { return nil, err }
	defer rows.Close()
	if !rows.Next() { return nil, rows.Err() }
	t, err := scanTicket(rows)
	if err != nil { return nil, err }
	return &t, nil
}

func (r *Repository) CommitExists(ctx context.Context, hash string) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM commits WHERE hash=$1)", hash).Scan(&ok)
	return ok, err
}

func (r *Repository) InsertCommit(ctx context.Context, c domain.Commit) error {
	const q = `INSERT INTO commits(hash, message, created_at, project_id, ticket_id, author_id)
		VALUES($1,$2,$3,$4,$5,$6) ON CONFLICT(hash) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, c.Hash, c.Message, c.CreatedAt, c.ProjectID, c.TicketID, c.AuthorID)
	return err
}

func (r *Repository) StartSyncRun(ctx context.Context, source string) (int64, error) {
	const q = `INSERT INTO sync_runs(source, started_at, success) VALUES($1, now(), false) RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, source).Scan(&id)
	return id, err
}

func (r *Repository) FinishSyncRun(ctx context.Context, id int64, processed int, success bool, errStr string) error {
	const q = `UPDATE sync_runs SET finished_at=now(), processed=$2, success=$3, error=$4 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, processed, success, errStr)
	return err
}

func (r *Repository) LastSyncRun(ctx context.Context) (*domain.SyncRun, error) {
	const q = `SELECT id, source, started_at, finished_at, COALESCE(processed,0),
		COALESCE(success,false), COALESCE(error,'')
		FROM sync_runs ORDER BY id DESC LIMIT 1`
	var sr domain.SyncRun
	err := r.db.Pool.QueryRow(ctx, q).Scan(&sr.ID, &sr.Source, &sr.StartedAt, &sr.FinishedAt, &sr.Processed, &sr.Success, &sr.Error)
	if errors.Is(err, pgx.ErrNoRows) { return nil, nil }
	if err != nil { return nil, err }
	return &sr, nil
}

// ---- listing and filter options ----

func (r *Repository) ListTickets(ctx context.Context, f services.TicketFilters, from, to time.Time, limit, offset int) ([]domain.Ticket, int, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	if offset < 0 { offset = 0 }
	c := &cond{}
	c.add("t.created_at >= $%d", from)
	c.add("t.created_at <= $%d", to)
	r.ticketFilters(c, f)

	var total int
	if err := r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM tickets t"+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	q := fmt.Sprintf("SELECT "+ticketColumns+" FROM tickets t"+c.where()+
		" ORDER BY t.created_at DESC LIMIT %d OFFSET %d", limit, offset)
	tickets, err := r.queryTickets(ctx, q, c.args)
	if err != nil { return nil, 0, err }
	return tickets, total, nil
}

func (r *Repository) Projects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, key, COALESCE(name,''), COALESCE(description,'') FROM projects ORDER BY key`)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.Description); err != nil { return nil, err }
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Users(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, COALESCE(external_id,''), COALESCE(email,''),
		COALESCE(display_name,''), COALESCE(avatar_url,'') FROM users ORDER BY display_name, email`)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.ExternalID, &u.Email, &u.DisplayName, &u.AvatarURL); err != nil { return nil, err }
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) DistinctStatuses(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT status FROM tickets WHERE status <> '' ORDER BY status`)
}

func (r *Repository) DistinctCustomers(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT customer FROM tickets WHERE customer <> '' ORDER BY customer`)
}

// DistinctLabels splits the stored delimited strings back into tokens; the
// dedup happens here since SQL only sees opaque label blobs.
func (r *Repository) DistinctLabels(ctx context.Context) ([]string, error) {
	stored, err := r.distinct(ctx, `SELECT DISTINCT labels FROM tickets WHERE labels <> ''`)
	if err != nil { return nil, err }
	set := map[string]struct{}{}
	for _, s := range stored {
		for _, l := range domain.SplitLabels(s) { set[l] = struct{}{} }
	}
	out := make([]string, 0, len(set))
	for l := range set { out = append(out, l) }
	sort.Strings(out)
	return out, nil
}

func (r *Repository) distinct(ctx context.Context, q string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil { return nil, err }
		out = append(out, s)
	}
	return out, rows.Err()
}
