// Package app wires the pipeline core to its collaborators and runs the
// process: embedded store, ingestion loop, and HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/config"
	"ambient-email-agent/internal/dedup"
	"ambient-email-agent/internal/dispatcher"
	"ambient-email-agent/internal/genai"
	"ambient-email-agent/internal/handlers"
	"ambient-email-agent/internal/mailbox"
	"ambient-email-agent/internal/metrics"
	"ambient-email-agent/internal/pipeline"
	"ambient-email-agent/internal/prefs"
	"ambient-email-agent/internal/scheduler"
	"ambient-email-agent/internal/store"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Ambient Email Agent")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	// Runs suspended before a restart stay resumable; report what came back.
	if gated, err := st.GatedRuns(); err != nil {
		logrus.Errorf("Failed to load suspended runs: %v", err)
	} else if len(gated) > 0 {
		logrus.Infof("Recovered %d suspended runs awaiting approval", len(gated))
	}

	m := metrics.NewMetrics()
	if count, err := st.CountPending(); err == nil {
		m.PendingApprovals.Set(float64(count))
	}

	preferences := prefs.New(st.DB())
	filter := dedup.New(st, preferences, cfg.Pipeline.FingerprintTTL)

	gmailClient, err := mailbox.NewGmailClient(&cfg.Mailbox)
	if err != nil {
		return fmt.Errorf("failed to create Gmail client: %w", err)
	}
	defer gmailClient.Close()

	var fetcher mailbox.Fetcher = gmailClient
	if cfg.Mailbox.UseIMAP {
		imapFetcher, err := mailbox.NewIMAPFetcher(&cfg.Mailbox)
		if err != nil {
			return fmt.Errorf("failed to create IMAP fetcher: %w", err)
		}
		defer imapFetcher.Close()
		fetcher = imapFetcher
		logrus.Info("Using IMAP for mail fetching")
	} else {
		logrus.Info("Using Gmail API for mail fetching")
	}

	executor := mailbox.NewExecutor(gmailClient)
	pl := pipeline.New(st, preferences, genai.HeuristicClassifier{}, genai.TemplateDrafter{}, executor, m, cfg.Pipeline.CollaboratorTimeout)
	d := dispatcher.New(st, executor, m, cfg.Pipeline.CollaboratorTimeout)

	sched := scheduler.NewScheduler(&cfg.Scheduler, cfg.Pipeline.UserID, cfg.Approval.MaxAge, fetcher, filter, pl, d, m)

	h := handlers.NewHandlers(st, preferences, filter, pl, d, sched, m, cfg)

	router := setupRouter(h)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start ingestion loop: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop ingestion loop: %v", err)
	}
	sched.Wait()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

// setupRouter sets up the HTTP router with middleware
func setupRouter(h *handlers.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	h.SetupRoutes(router)

	return router
}

// loggerMiddleware adds logging middleware
func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
