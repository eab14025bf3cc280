// Package schedule arms the optional automatic hub reboot: a daily cron
// tick at the configured clock time, gated by the reboot interval so the
// hub restarts every N days rather than every night.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/micro-ha/homebox-sync/addon/internal/configsync"
	"github.com/micro-ha/homebox-sync/addon/internal/storage"
)

const rebootTimeout = 30 * time.Second

// Rebooter is the slice of the hub service the schedule drives.
type Rebooter interface {
	RebootHub(ctx context.Context) error
}

type Scheduler struct {
	svc    Rebooter
	repo   *storage.Repository
	config *configsync.Manager
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	current string
}

func New(svc Rebooter, repo *storage.Repository, config *configsync.Manager, logger *slog.Logger) *Scheduler {
	return &Scheduler{svc: svc, repo: repo, config: config, logger: logger}
}

// Rearm aligns the cron with the current config. Call it at startup and
// after every config change; a matching spec is left running untouched.
func (s *Scheduler) Rearm(ctx context.Context) {
	spec := ""
	if cfg, ok := s.config.Get(); ok && cfg.RebootInterval() > 0 {
		hour, minute := cfg.RebootClock()
		spec = fmt.Sprintf("0 %d %d * * *", minute, hour)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.current {
		return
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.current = spec
	if spec == "" {
		s.logger.Info("scheduled reboot disabled")
		return
	}
	c := cron.New()
	if err := c.AddFunc(spec, func() { s.fire(ctx) }); err != nil {
		s.logger.Error("arming reboot schedule failed", "spec", spec, "err", err)
		s.current = ""
		return
	}
	c.Start()
	s.cron = c
	s.logger.Info("scheduled reboot armed", "spec", spec)
}

// Stop halts the cron; pending fires are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.current = ""
}

// Spec returns the armed cron spec, empty when disabled.
func (s *Scheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// fire runs on the daily tick and decides whether enough days have
// passed since the last recorded reboot. The recorded time lands a
// moment after the tick, so an hour of slack keeps an N-day interval
// from reading as N days and a few seconds.
func (s *Scheduler) fire(ctx context.Context) {
	cfg, ok := s.config.Get()
	if !ok {
		return
	}
	interval := cfg.RebootInterval()
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, rebootTimeout)
	defer cancel()

	last, err := s.repo.MaintenanceAt(ctx, storage.KeyLastReboot)
	if err != nil {
		s.logger.Warn("reading last reboot time failed", "err", err)
		return
	}
	if last != nil && time.Since(*last) < interval-time.Hour {
		s.logger.Debug("scheduled reboot skipped; interval not elapsed",
			"last", last.Format(time.RFC3339), "interval", interval)
		return
	}
	s.logger.Warn("scheduled reboot firing", "interval", interval)
	if err := s.svc.RebootHub(ctx); err != nil {
		s.logger.Error("scheduled reboot failed", "err", err)
	}
}
