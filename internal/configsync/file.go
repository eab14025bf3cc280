package configsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/micro-ha/homebox-sync/addon/internal/model"
)

// FileClient reads add-on options from a local file. The file is parsed
// as YAML, which also accepts the JSON the supervisor writes to
// /data/options.json. When the file is absent the client falls back to
// HOMEBOX_* environment variables so the add-on can run standalone.
type FileClient struct {
	path string
}

func NewFileClient(path string) *FileClient {
	return &FileClient{path: strings.TrimSpace(path)}
}

type fileOptions struct {
	Host               string `yaml:"hub_host"`
	Port               int    `yaml:"hub_port"`
	UseTLS             bool   `yaml:"hub_ssl"`
	VerifyTLS          bool   `yaml:"hub_verify_tls"`
	ScanIntervalSec    int    `yaml:"scan_interval_sec"`
	BurstIntervalSec   int    `yaml:"burst_interval_sec"`
	BurstDurationSec   int    `yaml:"burst_duration_sec"`
	RebootIntervalDays int    `yaml:"reboot_interval_days"`
	RebootTime         string `yaml:"reboot_time"`
}

func (c *FileClient) FetchConfig(ctx context.Context) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}

	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return c.fromEnv(), nil
	}
	if err != nil {
		return FetchResult{}, fmt.Errorf("read options file: %w", err)
	}

	var opts fileOptions
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return FetchResult{}, fmt.Errorf("parse options file %s: %w", c.path, err)
	}

	cfg := model.HubConfig{
		Host:               strings.TrimSpace(opts.Host),
		Port:               opts.Port,
		UseTLS:             opts.UseTLS,
		VerifyTLS:          opts.VerifyTLS,
		ScanIntervalSec:    opts.ScanIntervalSec,
		BurstIntervalSec:   opts.BurstIntervalSec,
		BurstDurationSec:   opts.BurstDurationSec,
		RebootIntervalDays: opts.RebootIntervalDays,
		RebootTime:         opts.RebootTime,
	}
	if info, statErr := os.Stat(c.path); statErr == nil {
		// The file's mtime doubles as the config version so edits are
		// picked up by the manager's change detection.
		cfg.UpdatedAt = info.ModTime().UTC()
		cfg.Version = info.ModTime().Unix()
	}
	if !cfg.ValidHost() {
		return FetchResult{Configured: false}, nil
	}
	return FetchResult{Configured: true, Config: cfg}, nil
}

func (c *FileClient) fromEnv() FetchResult {
	cfg := model.HubConfig{
		Host:               strings.TrimSpace(os.Getenv("HOMEBOX_HOST")),
		Port:               envInt("HOMEBOX_PORT"),
		UseTLS:             envBool("HOMEBOX_SSL"),
		VerifyTLS:          envBool("HOMEBOX_VERIFY_TLS"),
		ScanIntervalSec:    envInt("HOMEBOX_SCAN_INTERVAL_SEC"),
		BurstIntervalSec:   envInt("HOMEBOX_BURST_INTERVAL_SEC"),
		BurstDurationSec:   envInt("HOMEBOX_BURST_DURATION_SEC"),
		RebootIntervalDays: envInt("HOMEBOX_REBOOT_INTERVAL_DAYS"),
		RebootTime:         strings.TrimSpace(os.Getenv("HOMEBOX_REBOOT_TIME")),
	}
	if !cfg.ValidHost() {
		return FetchResult{Configured: false}
	}
	return FetchResult{Configured: true, Config: cfg}
}

func envInt(key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return value
}

func envBool(key string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return false
	}
	return value
}
