// Package homebox talks to the Homebox gateway REST API: pairing, session
// login and the read/write endpoints the sync loop consumes.
package homebox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/model"
)

const (
	defaultTimeout   = 10 * time.Second
	maxRetryAttempts = 3
	maxBodyBytes     = 1 << 20
	pairingPollWait  = time.Second

	authHeader = "X-Homebox-App-Auth"

	appID      = "homebox-sync"
	appName    = "Homebox Sync"
	appVersion = "1.3.0"
)

// TokenStore persists application tokens across restarts, keyed by hub
// host. AppToken returns an empty token (not an error) when the hub was
// never paired; errors are reserved for storage failures.
type TokenStore interface {
	AppToken(ctx context.Context, host string) (string, error)
	SaveAppToken(ctx context.Context, host, appToken string, trackID int) error
}

type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	tokens     TokenStore
	deviceName string

	mu           sync.Mutex
	sessionBase  string
	sessionToken string
}

func NewClient(logger *slog.Logger, tokens TokenStore) *Client {
	return NewClientWithHTTPClient(logger, tokens, &http.Client{Timeout: defaultTimeout})
}

func NewClientWithHTTPClient(logger *slog.Logger, tokens TokenStore, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultTimeout
	}
	deviceName, err := os.Hostname()
	if err != nil || deviceName == "" {
		deviceName = appID
	}
	return &Client{httpClient: httpClient, logger: logger, tokens: tokens, deviceName: deviceName}
}

// Version probes the unauthenticated root descriptor. Used to validate a
// configured or discovered host before pairing.
func (c *Client) Version(ctx context.Context, cfg model.HubConfig) (VersionInfo, error) {
	var info VersionInfo
	client := c.httpFor(cfg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL()+"/api_version", nil)
	if err != nil {
		return info, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return info, fmt.Errorf("homebox version probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return info, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&info); err != nil {
		return info, fmt.Errorf("decode version: %w", err)
	}
	return info, nil
}

// Paired reports whether an application token is stored for the host.
func (c *Client) Paired(ctx context.Context, host string) (bool, error) {
	token, err := c.tokens.AppToken(ctx, host)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// RequestAuthorization asks the hub for a new application token. The
// token is unusable until the returned track id reports status granted.
func (c *Client) RequestAuthorization(ctx context.Context, cfg model.HubConfig) (TokenGrant, error) {
	payload := map[string]string{
		"app_id":      appID,
		"app_name":    appName,
		"app_version": appVersion,
		"device_name": c.deviceName,
	}
	var grant TokenGrant
	err := c.request(ctx, cfg, http.MethodPost, "/login/authorize/", payload, &grant, false)
	return grant, err
}

// TrackAuthorization reads the pairing status for a track id: pending,
// granted, denied or timeout.
func (c *Client) TrackAuthorization(ctx context.Context, cfg model.HubConfig, trackID int) (string, error) {
	var reply struct {
		Status string `json:"status"`
	}
	err := c.request(ctx, cfg, http.MethodGet, fmt.Sprintf("/login/authorize/%d", trackID), nil, &reply, false)
	return reply.Status, err
}

// Pair runs the full pairing flow and blocks until the user grants the
// request on the hub, the hub rejects it, or ctx ends. On grant the app
// token is persisted and the current session dropped so the next call
// logs in with the fresh token.
func (c *Client) Pair(ctx context.Context, cfg model.HubConfig) error {
	grant, err := c.RequestAuthorization(ctx, cfg)
	if err != nil {
		return err
	}

	prompted := false
	for {
		status, err := c.TrackAuthorization(ctx, cfg, grant.TrackID)
		if err != nil {
			return err
		}
		switch status {
		case "granted":
			if err := c.tokens.SaveAppToken(ctx, cfg.Host, grant.AppToken, grant.TrackID); err != nil {
				return fmt.Errorf("store app token: %w", err)
			}
			c.invalidateSession()
			c.logger.Info("hub pairing granted", "host", cfg.Host)
			return nil
		case "denied":
			return ErrPairingDenied
		case "timeout":
			return ErrPairingTimeout
		case "pending":
			if !prompted {
				prompted = true
				c.logger.Info("confirm the pairing request on the hub front panel", "host", cfg.Host)
			}
		default:
			return fmt.Errorf("homebox: unexpected authorization status %q", status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pairingPollWait):
		}
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	ErrorCode string          `json:"error_code"`
	Msg       string          `json:"msg"`
	Result    json.RawMessage `json:"result"`
}

// get performs an authenticated read with retries on transient failures.
func (c *Client) get(ctx context.Context, cfg model.HubConfig, path string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		err := c.request(ctx, cfg, http.MethodGet, path, nil, out, true)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 400 * time.Millisecond):
		}
	}
	return lastErr
}

func (c *Client) request(ctx context.Context, cfg model.HubConfig, method, path string, payload, out any, authed bool) error {
	client := c.httpFor(cfg)

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	url := cfg.APIBase() + path
	result, err := c.doOnce(ctx, client, cfg, method, url, body, authed)
	if authed {
		// A session can expire or be dropped by a hub reboot at any
		// moment; one relogin-and-retry covers it.
		var aerr *APIError
		if errors.As(err, &aerr) && aerr.Code == "auth_required" {
			c.invalidateSession()
			result, err = c.doOnce(ctx, client, cfg, method, url, body, authed)
		}
	}
	if err != nil {
		return fmt.Errorf("homebox request %s %s: %w", method, path, err)
	}

	if out != nil && len(result) > 0 && string(result) != "null" {
		if err := json.Unmarshal(result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", path, err)
		}
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, client *http.Client, cfg model.HubConfig, method, url string, body []byte, authed bool) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := c.ensureSession(ctx, client, cfg)
		if err != nil {
			return nil, err
		}
		req.Header.Set(authHeader, token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			if len(raw) > 256 {
				raw = raw[:256]
			}
			return nil, &HTTPError{Status: resp.StatusCode, Body: string(raw)}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return nil, &APIError{Code: env.ErrorCode, Msg: env.Msg}
	}
	return env.Result, nil
}

// ensureSession returns a live session token for the hub, logging in with
// the stored app token when none is cached. Holding the mutex across the
// login keeps concurrent callers from opening duplicate sessions.
func (c *Client) ensureSession(ctx context.Context, client *http.Client, cfg model.HubConfig) (string, error) {
	base := cfg.APIBase()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionToken != "" && c.sessionBase == base {
		return c.sessionToken, nil
	}

	token, err := c.openSession(ctx, client, cfg, base)
	if err != nil {
		return "", err
	}
	c.sessionBase = base
	c.sessionToken = token
	return token, nil
}

func (c *Client) openSession(ctx context.Context, client *http.Client, cfg model.HubConfig, base string) (string, error) {
	appToken, err := c.tokens.AppToken(ctx, cfg.Host)
	if err != nil {
		return "", fmt.Errorf("load app token: %w", err)
	}
	if appToken == "" {
		return "", ErrNotPaired
	}

	raw, err := c.doOnce(ctx, client, cfg, http.MethodGet, base+"/login/", nil, false)
	if err != nil {
		return "", fmt.Errorf("fetch login challenge: %w", err)
	}
	var challenge struct {
		LoggedIn  bool   `json:"logged_in"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return "", fmt.Errorf("decode login challenge: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"app_id":   appID,
		"password": signChallenge(appToken, challenge.Challenge),
	})
	if err != nil {
		return "", err
	}
	raw, err = c.doOnce(ctx, client, cfg, http.MethodPost, base+"/login/session/", payload, false)
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	var grant struct {
		SessionToken string          `json:"session_token"`
		Permissions  map[string]bool `json:"permissions"`
	}
	if err := json.Unmarshal(raw, &grant); err != nil {
		return "", fmt.Errorf("decode session grant: %w", err)
	}

	c.logger.Debug("hub session opened", "host", cfg.Host, "permissions", len(grant.Permissions))
	return grant.SessionToken, nil
}

func (c *Client) invalidateSession() {
	c.mu.Lock()
	c.sessionToken = ""
	c.sessionBase = ""
	c.mu.Unlock()
}

// httpFor returns a copy of the base client, swapping in a transport that
// honors the per-hub TLS verification setting.
func (c *Client) httpFor(cfg model.HubConfig) *http.Client {
	client := *c.httpClient
	if cfg.UseTLS {
		var transport *http.Transport
		if existing, ok := client.Transport.(*http.Transport); ok {
			transport = existing.Clone()
		} else if defaultTransport, ok := http.DefaultTransport.(*http.Transport); ok {
			transport = defaultTransport.Clone()
		} else {
			transport = &http.Transport{}
		}
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS} //nolint:gosec
		client.Transport = transport
	}
	return &client
}

// signChallenge derives the session password: hex HMAC-SHA1 of the login
// challenge keyed by the application token, as the hub firmware expects.
func signChallenge(appToken, challenge string) string {
	mac := hmac.New(sha1.New, []byte(appToken))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}
