package configsync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/micro-ha/homebox-sync/addon/internal/model"
)

type Manager struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu         sync.RWMutex
	configured bool
	config     model.HubConfig
}

func NewManager(fetcher Fetcher, logger *slog.Logger) *Manager {
	return &Manager{fetcher: fetcher, logger: logger}
}

// Refresh pulls the current options and reports whether they changed
// since the last successful refresh.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	res, err := m.fetcher.FetchConfig(ctx)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	if !res.Configured {
		if m.configured {
			changed = true
		}
		m.configured = false
		m.config = model.HubConfig{}
		return changed, nil
	}

	if !m.configured || res.Config.Version != m.config.Version {
		changed = true
	}
	m.configured = true
	m.config = res.Config
	return changed, nil
}

func (m *Manager) Get() (model.HubConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.configured {
		return model.HubConfig{}, false
	}
	return m.config, true
}
