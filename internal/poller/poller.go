package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/configsync"
	"github.com/micro-ha/homebox-sync/addon/internal/homebox"
	"github.com/micro-ha/homebox-sync/addon/internal/hub"
)

// retryInterval paces the loop while no usable hub config exists yet.
const retryInterval = 5 * time.Second

type Poller struct {
	service   *hub.Service
	config    *configsync.Manager
	refreshCh chan struct{}
	logger    *slog.Logger
}

func New(svc *hub.Service, cfg *configsync.Manager, logger *slog.Logger) *Poller {
	return &Poller{service: svc, config: cfg, refreshCh: make(chan struct{}, 1), logger: logger}
}

// TriggerRefresh requests an immediate cycle. Multiple triggers while a
// cycle is pending collapse into one.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Run drives full refresh cycles at the configured scan interval until
// ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		interval := retryInterval
		if cfg, ok := p.config.Get(); ok {
			interval = cfg.ScanInterval()
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C:
		}
		if err := p.service.UpdateAll(ctx); err != nil {
			switch {
			case errors.Is(err, hub.ErrNotConfigured):
				p.logger.Info("cycle skipped; hub not configured")
			case errors.Is(err, homebox.ErrNotPaired):
				p.logger.Info("cycle skipped; hub not paired yet")
			default:
				p.logger.Error("refresh cycle failed", "err", err)
			}
		}
	}
}
