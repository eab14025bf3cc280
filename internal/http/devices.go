package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/micro-ha/homebox-sync/addon/internal/hub"
)

func (a *API) listDevices(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.config.Get(); !ok {
		writeError(w, http.StatusConflict, "hub_not_configured", "Hub not configured")
		return
	}
	filter := hub.Filter{Query: r.URL.Query().Get("query")}
	reachable, ok, err := boolQuery(r, "reachable")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_reachable_filter", "reachable must be true or false")
		return
	}
	if ok {
		filter.Reachable = &reachable
	}
	registered, ok, err := boolQuery(r, "registered")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_registered_filter", "registered must be true or false")
		return
	}
	if ok {
		filter.Registered = &registered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.service.Devices(filter)})
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request) {
	device, err := a.service.Device(chi.URLParam(r, "mac"))
	if err != nil {
		serviceError(w, err, "get_failed")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

type devicePatch struct {
	Name *string `json:"name"`
	Icon *string `json:"icon"`
}

func (a *API) patchDevice(w http.ResponseWriter, r *http.Request) {
	var payload devicePatch
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if payload.Name == nil && payload.Icon == nil {
		writeError(w, http.StatusBadRequest, "empty_patch", "Provide name or icon")
		return
	}
	if err := a.service.PatchDevice(r.Context(), chi.URLParam(r, "mac"), payload.Name, payload.Icon); err != nil {
		serviceError(w, err, "patch_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func boolQuery(r *http.Request, name string) (value, present bool, err error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, false, nil
	}
	value, err = strconv.ParseBool(raw)
	if err != nil {
		return false, false, err
	}
	return value, true, nil
}
