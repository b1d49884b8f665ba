package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/zieduz/jira-dashboard/internal/config"
	"github.com/zieduz/jira-dashboard/internal/repo"
	"github.com/zieduz/jira-dashboard/internal/services"
)

type syncer interface {
	SyncJira(ctx context.Context, projectKeys []string, createdSince string) (services.JiraSyncResult, error)
	SyncGitLab(ctx context.Context, projectIDs []int64, since, until time.Time) (services.GitLabSyncResult, error)
}

type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	sync syncer
	repo *repo.Repository
	c    *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, sync syncer, r *repo.Repository) *Cron {
	loc, _ := time.LoadLocation(cfg.TZ)
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, sync: sync, repo: r, c: c}
	_, _ = c.AddFunc(cfg.SyncCron, cr.scheduledSync)
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

// scheduledSync pulls Jira (and GitLab when configured) on the cron schedule.
// The advisory lock keeps concurrent replicas from double-syncing.
func (cr *Cron) scheduledSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	const lockKey int64 = 771203
	ok, err := cr.repo.TryAdvisoryLock(ctx, lockKey)
	if err != nil { cr.log.Error().Err(err).Msg("cron: lock error"); return }
	if !ok { cr.log.Info().Msg("cron: sync already running elsewhere"); return }
	defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), lockKey) }()

	cr.log.Info().Msg("cron: scheduled sync")
	if len(cr.cfg.JiraProjectKeys) > 0 {
		if res, err := cr.sync.SyncJira(ctx, nil, ""); err != nil {
			cr.log.Error().Err(err).Msg("cron: jira sync failed")
		} else {
			cr.log.Info().Int("issues", res.IssuesProcessed).Msg("cron: jira sync done")
		}
	}
	if len(cr.cfg.GitLabProjectIDs) > 0 {
		if res, err := cr.sync.SyncGitLab(ctx, nil, time.Time{}, time.Time{}); err != nil {
			cr.log.Error().Err(err).Msg("cron: gitlab sync failed")
		} else {
			cr.log.Info().Int("commits", res.CommitsCreated).Msg("cron: gitlab sync done")
		}
	}
}
