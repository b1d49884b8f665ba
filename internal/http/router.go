package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/zieduz/jira-dashboard/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, h *Handlers) *gin.Engine {
	if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/metrics", h.Metrics)
		api.GET("/metrics/throughput", h.Throughput)
		api.GET("/metrics/cfd", h.CumulativeFlow)
		api.GET("/metrics/control-chart", h.ControlChart)
		api.GET("/metrics/commits-per-issue", h.CommitsPerIssue)

		api.GET("/forecast", h.Forecast)
		api.GET("/forecast/sprint", h.SprintForecast)

		api.GET("/tickets", h.ListTickets)
		api.GET("/tickets/:id", h.TicketByID)
		api.GET("/tickets/jira/:key", h.TicketByJiraKey)

		api.GET("/filters/options", h.FilterOptions)

		api.POST("/jira/sync", h.SyncJira)
		api.POST("/gitlab/sync", h.SyncGitLab)
		api.POST("/commits/ingest", h.IngestCommits)
	}

	r.GET("/admin/last-sync", h.LastSync)

	return r
}
