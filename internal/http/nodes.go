package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (a *API) listNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.service.Nodes()})
}

func (a *API) getNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	node, err := a.service.Node(nodeID)
	if err != nil {
		serviceError(w, err, "get_failed")
		return
	}
	writeJSON(w, http.StatusOK, node)
}

type nodePatch struct {
	Label          *string `json:"label"`
	InvertPosition *bool   `json:"invert_position"`
	Disabled       *bool   `json:"disabled"`
}

func (a *API) patchNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var payload nodePatch
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if payload.Label == nil && payload.InvertPosition == nil && payload.Disabled == nil {
		writeError(w, http.StatusBadRequest, "empty_patch", "Provide label, invert_position or disabled")
		return
	}
	if err := a.service.PatchNode(r.Context(), nodeID, payload.Label, payload.InvertPosition, payload.Disabled); err != nil {
		serviceError(w, err, "patch_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) endpointValue(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	endpointID, err := strconv.Atoi(chi.URLParam(r, "endpoint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_endpoint_id", "endpoint id must be an integer")
		return
	}
	value, err := a.service.EndpointValue(r.Context(), nodeID, endpointID)
	if err != nil {
		serviceError(w, err, "endpoint_read_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}

type positionRequest struct {
	Position *int `json:"position"`
}

func (a *API) setPosition(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var payload positionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Position == nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Provide position 0..100")
		return
	}
	if err := a.service.SetCoverPosition(r.Context(), nodeID, *payload.Position); err != nil {
		serviceError(w, err, "command_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) openCover(w http.ResponseWriter, r *http.Request) {
	a.coverCommand(w, r, a.service.OpenCover)
}

func (a *API) closeCover(w http.ResponseWriter, r *http.Request) {
	a.coverCommand(w, r, a.service.CloseCover)
}

func (a *API) stopCover(w http.ResponseWriter, r *http.Request) {
	a.coverCommand(w, r, a.service.StopCover)
}

func (a *API) coverCommand(w http.ResponseWriter, r *http.Request, command func(context.Context, int) error) {
	nodeID, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	if err := command(r.Context(), nodeID); err != nil {
		serviceError(w, err, "command_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

type alarmRequest struct {
	Mode string `json:"mode"`
}

func (a *API) setAlarm(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var payload alarmRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Mode == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Provide an alarm mode")
		return
	}
	if err := a.service.SetAlarmMode(r.Context(), nodeID, payload.Mode); err != nil {
		serviceError(w, err, "command_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	value, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_node_id", "node id must be an integer")
		return 0, false
	}
	return value, true
}
