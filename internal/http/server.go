package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-ha/homebox-sync/addon/internal/discovery"
	"github.com/micro-ha/homebox-sync/addon/internal/event"
	"github.com/micro-ha/homebox-sync/addon/internal/homebox"
	"github.com/micro-ha/homebox-sync/addon/internal/hub"
	"github.com/micro-ha/homebox-sync/addon/internal/model"
	"github.com/micro-ha/homebox-sync/addon/internal/storage"
)

// Poller triggers an asynchronous refresh cycle.
type Poller interface {
	TriggerRefresh()
}

// ConfigProvider exposes the current hub config status.
type ConfigProvider interface {
	Get() (model.HubConfig, bool)
}

// Scanner finds gateways on the local network.
type Scanner interface {
	Scan(ctx context.Context) ([]discovery.Candidate, error)
}

// RebootSchedule reports the armed reboot cron spec, empty when disabled.
type RebootSchedule interface {
	Spec() string
}

// API groups HTTP handlers and dependencies.
type API struct {
	service   *hub.Service
	poller    Poller
	config    ConfigProvider
	scanner   Scanner
	schedule  RebootSchedule
	bus       *event.Bus
	logger    *slog.Logger
	staticDir string
}

// New creates HTTP handlers with explicit dependencies.
func New(
	svc *hub.Service,
	p Poller,
	config ConfigProvider,
	scanner Scanner,
	schedule RebootSchedule,
	bus *event.Bus,
	logger *slog.Logger,
	staticDir string,
) *API {
	return &API{
		service:   svc,
		poller:    p,
		config:    config,
		scanner:   scanner,
		schedule:  schedule,
		bus:       bus,
		logger:    logger,
		staticDir: staticDir,
	}
}

// Handler builds the full routing tree for the backend API and the
// static frontend. The events socket and the pairing flow sit in their
// own groups because both outlive the standard request timeout.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON(a.logger))
	r.Use(StripIngressPrefix)
	r.Use(RequestLogger(a.logger))

	r.Get("/healthz", a.health)
	r.Route("/api", func(api chi.Router) {
		api.Group(func(g chi.Router) {
			g.Use(middleware.Timeout(20 * time.Second))

			g.Get("/status", a.status)
			g.Post("/refresh", a.refresh)
			g.Get("/discover", a.discover)
			g.Post("/probe", a.probe)
			g.Get("/bursts", a.bursts)

			g.Get("/devices", a.listDevices)
			g.Get("/devices/{mac}", a.getDevice)
			g.Patch("/devices/{mac}", a.patchDevice)

			g.Get("/sensors", a.sensors)
			g.Get("/disks", a.disks)
			g.Get("/calls", a.calls)
			g.Get("/attributes", a.attributes)

			g.Get("/nodes", a.listNodes)
			g.Get("/nodes/{id}", a.getNode)
			g.Patch("/nodes/{id}", a.patchNode)
			g.Get("/nodes/{id}/endpoints/{endpoint}", a.endpointValue)
			g.Post("/nodes/{id}/position", a.setPosition)
			g.Post("/nodes/{id}/open", a.openCover)
			g.Post("/nodes/{id}/close", a.closeCover)
			g.Post("/nodes/{id}/stop", a.stopCover)
			g.Post("/nodes/{id}/alarm", a.setAlarm)

			g.Get("/wifi", a.getWifi)
			g.Put("/wifi", a.setWifi)
			g.Post("/reboot", a.reboot)

			g.Get("/pair", a.pairStatus)
			g.Delete("/pair", a.unpair)
		})

		// Pairing blocks until the user confirms on the hub front panel.
		api.Group(func(g chi.Router) {
			g.Use(middleware.Timeout(3 * time.Minute))
			g.Post("/pair", a.pair)
		})

		api.Get("/events", a.events)
	})

	r.Get("/*", a.static)
	r.Get("/", a.static)
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	_, configured := a.config.Get()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "configured": configured})
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	cfg, configured := a.config.Get()
	payload := map[string]any{"status": "ok", "configured": configured}
	if configured {
		payload["host"] = cfg.Host
		if paired, err := a.service.PairedStatus(r.Context()); err == nil {
			payload["paired"] = paired
		}
	}
	snap := a.service.Snapshot()
	if !snap.UpdatedAt.IsZero() {
		payload["last_cycle_at"] = snap.UpdatedAt
		payload["devices"] = len(snap.Devices)
		payload["nodes"] = len(snap.Nodes)
	}
	if bursts := a.service.ActiveBursts(); len(bursts) > 0 {
		payload["bursts"] = bursts
	}
	if spec := a.schedule.Spec(); spec != "" {
		payload["reboot_schedule"] = spec
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) refresh(w http.ResponseWriter, _ *http.Request) {
	a.service.ClearCaches()
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) discover(w http.ResponseWriter, r *http.Request) {
	candidates, err := a.scanner.Scan(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "discover_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": candidates})
}

func (a *API) bursts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.service.ActiveBursts()})
}

func (a *API) static(w http.ResponseWriter, r *http.Request) {
	if a.staticDir == "" {
		writeError(w, http.StatusNotFound, "frontend_missing", "Frontend dist not found")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}
	cleanPath := strings.TrimPrefix(filepath.Clean("/"+path), "/")
	fullPath := filepath.Join(a.staticDir, cleanPath)
	if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
		http.ServeFile(w, r, fullPath)
		return
	}
	http.ServeFile(w, r, filepath.Join(a.staticDir, "index.html"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// serviceError maps hub layer failures onto HTTP statuses; anything
// unrecognized falls through as a 500 with the handler's code.
func serviceError(w http.ResponseWriter, err error, fallbackCode string) {
	switch {
	case errors.Is(err, hub.ErrNotConfigured):
		writeError(w, http.StatusConflict, "hub_not_configured", "Hub not configured")
	case errors.Is(err, homebox.ErrNotPaired):
		writeError(w, http.StatusConflict, "hub_not_paired", "Hub not paired")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case homebox.IsPermission(err):
		writeError(w, http.StatusForbidden, "hub_permission_denied", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

// RunServer starts and gracefully stops the HTTP server with context
// cancellation.
func RunServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "err", err)
			return err
		}
		return nil
	}
}
