package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/logging"
)

const (
	defaultHTTPAddr              = ":8099"
	defaultDBPath                = "/data/homebox_sync.db"
	defaultOptionsPath           = "/data/options.json"
	defaultSupervisorURL         = "http://supervisor/core"
	defaultStaticDir             = "/app/frontend/dist"
	defaultConfigRefreshInterval = 20 * time.Second
)

// Config stores runtime settings loaded from environment variables.
type Config struct {
	HTTPAddr              string
	DBPath                string
	OptionsPath           string
	SupervisorURL         string
	SupervisorToken       string
	StaticDir             string
	ConfigRefreshInterval time.Duration
	LogLevel              slog.Level
}

// Load builds Config from environment variables using stable defaults.
func Load() Config {
	return Config{
		HTTPAddr:              getenv("HTTP_ADDR", defaultHTTPAddr),
		DBPath:                getenv("DB_PATH", defaultDBPath),
		OptionsPath:           getenv("ADDON_OPTIONS_PATH", defaultOptionsPath),
		SupervisorURL:         getenv("HA_BASE_URL", defaultSupervisorURL),
		SupervisorToken:       strings.TrimSpace(os.Getenv("SUPERVISOR_TOKEN")),
		StaticDir:             getenv("FRONTEND_DIST", defaultStaticDir),
		ConfigRefreshInterval: parseDuration("CONFIG_REFRESH_INTERVAL", defaultConfigRefreshInterval),
		LogLevel:              logging.ParseLevel(getenv("LOG_LEVEL", "info")),
	}
}

// Supervised reports whether the process runs under the Home Assistant
// supervisor and syncs its options through the supervisor API. Without a
// token the add-on falls back to the local options file.
func (c Config) Supervised() bool {
	return c.SupervisorToken != ""
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
