package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micro-ha/homebox-sync/addon/internal/homebox"
)

func (a *API) sensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.service.Snapshot().Sensors})
}

func (a *API) disks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.service.Snapshot().Disks})
}

func (a *API) calls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.service.Snapshot().Calls})
}

func (a *API) attributes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Snapshot().Attributes)
}

func (a *API) getWifi(w http.ResponseWriter, r *http.Request) {
	enabled, err := a.service.Wifi(r.Context())
	if err != nil {
		serviceError(w, err, "wifi_read_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled})
}

type wifiRequest struct {
	Enabled *bool `json:"enabled"`
}

func (a *API) setWifi(w http.ResponseWriter, r *http.Request) {
	var payload wifiRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Provide enabled true or false")
		return
	}
	if err := a.service.SetWifiEnabled(r.Context(), *payload.Enabled); err != nil {
		serviceError(w, err, "wifi_write_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) reboot(w http.ResponseWriter, r *http.Request) {
	if err := a.service.RebootHub(r.Context()); err != nil {
		serviceError(w, err, "reboot_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

type probeRequest struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	UseTLS *bool  `json:"use_tls"`
}

// probe checks whether a host answers the version endpoint like a
// Homebox, so the frontend can validate a discovery candidate before
// offering to pair with it.
func (a *API) probe(w http.ResponseWriter, r *http.Request) {
	var payload probeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Provide a host to probe")
		return
	}
	if payload.Port == 0 {
		payload.Port = 443
	}
	useTLS := true
	if payload.UseTLS != nil {
		useTLS = *payload.UseTLS
	}
	version, err := a.service.ProbeHub(r.Context(), payload.Host, payload.Port, useTLS)
	if err != nil {
		writeError(w, http.StatusBadGateway, "probe_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (a *API) pairStatus(w http.ResponseWriter, r *http.Request) {
	paired, err := a.service.PairedStatus(r.Context())
	if err != nil {
		serviceError(w, err, "pair_status_failed")
		return
	}
	payload := map[string]any{"paired": paired}
	// The version endpoint answers before pairing; it tells the UI what
	// it is talking to.
	if version, err := a.service.HubVersion(r.Context()); err == nil {
		payload["hub"] = version
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) pair(w http.ResponseWriter, r *http.Request) {
	err := a.service.PairHub(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"paired": true})
	case errors.Is(err, homebox.ErrPairingDenied):
		writeError(w, http.StatusForbidden, "pairing_denied", "The hub rejected the pairing request")
	case errors.Is(err, homebox.ErrPairingTimeout):
		writeError(w, http.StatusRequestTimeout, "pairing_timeout", "Nobody confirmed the request on the hub in time")
	default:
		serviceError(w, err, "pairing_failed")
	}
}

func (a *API) unpair(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Unpair(r.Context()); err != nil {
		serviceError(w, err, "unpair_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paired": false})
}
