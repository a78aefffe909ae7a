// Package handlers exposes the presentation surface: direct item
// submission, the approval queue, decisions, run history, preferences, and
// scheduler control.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/config"
	"ambient-email-agent/internal/dedup"
	"ambient-email-agent/internal/dispatcher"
	"ambient-email-agent/internal/metrics"
	"ambient-email-agent/internal/pipeline"
	"ambient-email-agent/internal/prefs"
	"ambient-email-agent/internal/scheduler"
	"ambient-email-agent/internal/store"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	store      *store.Store
	prefs      *prefs.Repository
	filter     *dedup.Filter
	pipeline   *pipeline.Pipeline
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics
	userID     string
	secret     string
}

// NewHandlers creates new HTTP handlers
func NewHandlers(st *store.Store, pr *prefs.Repository, filter *dedup.Filter, pl *pipeline.Pipeline, d *dispatcher.Dispatcher, sched *scheduler.Scheduler, m *metrics.Metrics, cfg *config.Config) *Handlers {
	return &Handlers{
		store:      st,
		prefs:      pr,
		filter:     filter,
		pipeline:   pl,
		dispatcher: d,
		scheduler:  sched,
		metrics:    m,
		userID:     cfg.Pipeline.UserID,
		secret:     cfg.Approval.Secret,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Health check
	router.GET("/healthz", h.HealthCheck)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	{
		// Direct submission
		api.POST("/emails", h.SubmitEmail)

		// Approval queue
		api.GET("/pending", h.ListPending)
		api.GET("/pending/:run_id", h.GetPending)
		api.POST("/pending/:run_id/decision", h.Decide)

		// Runs and history
		api.GET("/runs/:run_id", h.GetRun)
		api.GET("/history", h.GetHistory)
		api.GET("/stats", h.GetStats)

		// Preferences
		api.GET("/profile", h.GetProfile)
		api.PUT("/profile", h.UpsertProfile)
		api.GET("/vip-contacts", h.ListVIPContacts)
		api.POST("/vip-contacts", h.AddVIPContact)
		api.DELETE("/vip-contacts/:email", h.RemoveVIPContact)

		// Scheduler control
		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if err := h.store.Ping(); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	if count, err := h.store.CountPending(); err == nil {
		response.Metrics["pending_approvals"] = formatInt(count)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// requireSecret enforces the shared approval secret when one is configured.
func (h *Handlers) requireSecret(c *gin.Context) bool {
	if h.secret == "" {
		return true
	}
	if c.GetHeader("x-hitl-secret") != h.secret {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "Invalid approval secret",
			Code:    http.StatusForbidden,
		})
		return false
	}
	return true
}
