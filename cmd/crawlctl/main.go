// Command crawlctl is a demo HTTP server around the hybrid crawl engine:
// it accepts job submissions over REST, streams lifecycle events over a
// websocket relay, and optionally posts a webhook on completion. It is not
// part of the engine's public API — internal/hybridcrawl works standalone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/heyitsk/autoCrawler/internal/clock/system"
	"github.com/heyitsk/autoCrawler/internal/hcconfig"
	"github.com/heyitsk/autoCrawler/internal/hcmetrics"
	"github.com/heyitsk/autoCrawler/internal/httpapi"
	"github.com/heyitsk/autoCrawler/internal/hybridcrawl"
	"github.com/heyitsk/autoCrawler/internal/jobstore"
	"github.com/heyitsk/autoCrawler/internal/logging"
	"github.com/heyitsk/autoCrawler/internal/robots"
	"github.com/heyitsk/autoCrawler/internal/webhook"
	"github.com/heyitsk/autoCrawler/internal/wsrelay"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := hcconfig.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := hcmetrics.New()
	engine := hybridcrawl.NewEngine(logger.Named("engine"), metrics)
	defer engine.Close()

	jobs := jobstore.New(system.New())
	ws := wsrelay.NewHub(logger.Named("wsrelay"))
	notifier := webhook.New(cfg.Webhook.URL, cfg.WebhookTimeout(), logger.Named("webhook"))
	robotsChecker := robots.New("crawlctl/1.0", logger.Named("robots"))

	server := httpapi.New(engine, jobs, ws, notifier, metrics, robotsChecker, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
