package configsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/model"
)

type FetchResult struct {
	Configured bool
	Config     model.HubConfig
}

// Fetcher yields the current add-on options. Satisfied by the supervisor
// REST client and by the standalone options file client.
type Fetcher interface {
	FetchConfig(ctx context.Context) (FetchResult, error)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://supervisor/core"
	}
	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type configResponse struct {
	Configured         bool      `json:"configured"`
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

func (c *Client) FetchConfig(ctx context.Context) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/homebox_sync/config", nil)
	if err != nil {
		return FetchResult{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return FetchResult{Configured: false}, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return FetchResult{}, fmt.Errorf("config fetch status %d: %s", resp.StatusCode, string(body))
	}

	var payload configResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return FetchResult{}, err
	}
	cfg := model.HubConfig{
		Version:            payload.Version,
		UpdatedAt:          payload.UpdatedAt.UTC(),
		Host:               payload.Host,
		Port:               payload.Port,
		UseTLS:             payload.UseTLS,
		VerifyTLS:          payload.VerifyTLS,
		ScanIntervalSec:    payload.ScanIntervalSec,
		BurstIntervalSec:   payload.BurstIntervalSec,
		BurstDurationSec:   payload.BurstDurationSec,
		RebootIntervalDays: payload.RebootIntervalDays,
		RebootTime:         payload.RebootTime,
	}
	if !payload.Configured || !cfg.ValidHost() {
		return FetchResult{Configured: false}, nil
	}
	return FetchResult{Configured: true, Config: cfg}, nil
}
