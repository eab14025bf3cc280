// Command server runs the Homebox sync add-on backend: the periodic
// hub refresh cycle, the fast-poll scheduler, the scheduled reboot and
// the ingress HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/config"
	"github.com/micro-ha/homebox-sync/addon/internal/configsync"
	"github.com/micro-ha/homebox-sync/addon/internal/discovery"
	"github.com/micro-ha/homebox-sync/addon/internal/event"
	"github.com/micro-ha/homebox-sync/addon/internal/homebox"
	httpapi "github.com/micro-ha/homebox-sync/addon/internal/http"
	"github.com/micro-ha/homebox-sync/addon/internal/hub"
	"github.com/micro-ha/homebox-sync/addon/internal/logging"
	"github.com/micro-ha/homebox-sync/addon/internal/oui"
	"github.com/micro-ha/homebox-sync/addon/internal/poller"
	"github.com/micro-ha/homebox-sync/addon/internal/refresh"
	"github.com/micro-ha/homebox-sync/addon/internal/schedule"
	"github.com/micro-ha/homebox-sync/addon/internal/storage"
	"github.com/micro-ha/homebox-sync/addon/internal/timer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("create data dir failed", "dir", cfg.DBDir(), "err", err)
		os.Exit(1)
	}
	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("open database failed", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	var fetcher configsync.Fetcher
	if cfg.Supervised() {
		fetcher = configsync.NewClient(cfg.SupervisorURL, cfg.SupervisorToken)
	} else {
		fetcher = configsync.NewFileClient(cfg.OptionsPath)
	}
	cfgManager := configsync.NewManager(fetcher, logger)
	if _, err := cfgManager.Refresh(ctx); err != nil {
		logger.Warn("initial options sync failed; waiting for hub configuration", "err", err)
	}

	vendors, err := oui.LoadEmbedded()
	if err != nil {
		logger.Warn("vendor table unavailable", "err", err)
	}

	client := homebox.NewClient(logger, repo)
	registry := timer.NewRegistry(logger)
	scheduler := refresh.NewScheduler(registry, logger)
	bus := event.NewBus()
	defer bus.Close()
	defer registry.StopAll()
	defer scheduler.StopAll()

	svc := hub.New(repo, client, cfgManager, scheduler, bus, vendors, logger)
	hubPoller := poller.New(svc, cfgManager, logger)

	rebootSched := schedule.New(svc, repo, cfgManager, logger)
	rebootSched.Rearm(ctx)
	defer rebootSched.Stop()

	onConfigChanged := func() {
		hubPoller.TriggerRefresh()
		rebootSched.Rearm(ctx)
	}

	go runConfigFallbackRefresh(ctx, cfgManager, cfg.ConfigRefreshInterval, onConfigChanged, logger)

	if cfg.Supervised() {
		watcher := configsync.NewWatcher(cfg.SupervisorURL, cfg.SupervisorToken, logger)
		go watcher.Run(ctx, func() {
			refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			changed, err := cfgManager.Refresh(refreshCtx)
			if err != nil {
				logger.Warn("options refresh after update event failed", "err", err)
				return
			}
			if changed {
				onConfigChanged()
			}
		})
	} else {
		logger.Info("running on local options file; live option events disabled")
	}

	go hubPoller.Run(ctx)
	hubPoller.TriggerRefresh()

	scanner := discovery.NewScanner(logger)
	api := httpapi.New(svc, hubPoller, cfgManager, scanner, rebootSched, bus, logger, cfg.StaticDir)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", cfg.HTTPAddr, "db", cfg.DBPath, "supervised", cfg.Supervised())
	if err := httpapi.RunServer(ctx, server, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// runConfigFallbackRefresh polls the options source at a fixed interval
// so option changes still land when the event stream is unavailable.
func runConfigFallbackRefresh(ctx context.Context, manager *configsync.Manager, interval time.Duration, onChanged func(), logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		changed, err := manager.Refresh(refreshCtx)
		cancel()
		if err != nil {
			logger.Debug("periodic options refresh failed", "err", err)
			continue
		}
		if changed {
			logger.Info("hub options changed")
			onChanged()
		}
	}
}
