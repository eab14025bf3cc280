package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Option bounds enforced on every hub config read. Values outside a bound
// silently fall back to the default so a bad options payload can never stall
// the poll loop or turn a burst into a runaway.
const (
	MinScanIntervalSec     = 10
	MaxScanIntervalSec     = 300
	DefaultScanIntervalSec = 30

	MinBurstIntervalSec     = 1
	MaxBurstIntervalSec     = 5
	DefaultBurstIntervalSec = 2

	MinBurstDurationSec     = 30
	MaxBurstDurationSec     = 120
	DefaultBurstDurationSec = 120

	MinRebootIntervalDays     = 0
	MaxRebootIntervalDays     = 30
	DefaultRebootIntervalDays = 7

	DefaultRebootTime = "03:00"

	DefaultAPIPort = 443
)

// HubConfig is one normalized Homebox connection and polling profile.
type HubConfig struct {
	Version            int64     `json:"version"`
	UpdatedAt          time.Time `json:"updated_at"`
	Host               string    `json:"host"`
	Port               int       `json:"port"`
	UseTLS             bool      `json:"use_tls"`
	VerifyTLS          bool      `json:"verify_tls"`
	ScanIntervalSec    int       `json:"scan_interval_sec"`
	BurstIntervalSec   int       `json:"burst_interval_sec"`
	BurstDurationSec   int       `json:"burst_duration_sec"`
	RebootIntervalDays int       `json:"reboot_interval_days"`
	RebootTime         string    `json:"reboot_time"`
}

// ScanInterval returns the full-cycle poll interval clamped to its bounds.
func (c HubConfig) ScanInterval() time.Duration {
	return clampSeconds(c.ScanIntervalSec, MinScanIntervalSec, MaxScanIntervalSec, DefaultScanIntervalSec)
}

// BurstInterval returns the fast-poll tick interval clamped to its bounds.
func (c HubConfig) BurstInterval() time.Duration {
	return clampSeconds(c.BurstIntervalSec, MinBurstIntervalSec, MaxBurstIntervalSec, DefaultBurstIntervalSec)
}

// BurstDuration returns the requested fast-poll window clamped to its bounds.
// The refresh scheduler applies its own hard ceiling on top of this.
func (c HubConfig) BurstDuration() time.Duration {
	return clampSeconds(c.BurstDurationSec, MinBurstDurationSec, MaxBurstDurationSec, DefaultBurstDurationSec)
}

// RebootInterval returns the scheduled-reboot spacing; zero disables the job.
func (c HubConfig) RebootInterval() time.Duration {
	days := c.RebootIntervalDays
	if days < MinRebootIntervalDays || days > MaxRebootIntervalDays {
		days = DefaultRebootIntervalDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// RebootClock parses the scheduled-reboot time of day, falling back to the
// default on any malformed value.
func (c HubConfig) RebootClock() (hour, minute int) {
	if h, m, ok := parseClock(c.RebootTime); ok {
		return h, m
	}
	h, m, _ := parseClock(DefaultRebootTime)
	return h, m
}

// APIPort returns the hub API port, defaulting when out of range.
func (c HubConfig) APIPort() int {
	if c.Port < 1 || c.Port > 65535 {
		return DefaultAPIPort
	}
	return c.Port
}

// BaseURL builds the hub root, for example "https://homebox.local:443".
func (c HubConfig) BaseURL() string {
	scheme := "https"
	if !c.UseTLS {
		scheme = "http"
	}
	host := strings.TrimSpace(c.Host)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(c.APIPort())))
}

// APIBase builds the hub API root, for example "https://homebox.local:443/api/v8".
func (c HubConfig) APIBase() string {
	return c.BaseURL() + "/api/v8"
}

// ValidHost reports whether the configured host is usable: non-empty, at most
// 255 characters, hostname/IP charset only.
func (c HubConfig) ValidHost() bool {
	host := strings.TrimSpace(c.Host)
	if host == "" || len(host) > 255 {
		return false
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == ':', r == '[', r == ']':
		default:
			return false
		}
	}
	return true
}

func clampSeconds(value, min, max, fallback int) time.Duration {
	if value < min || value > max {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func parseClock(raw string) (hour, minute int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
