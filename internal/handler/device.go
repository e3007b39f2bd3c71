package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/store"
)

// DeviceHandler serves the cross-license device views of the administrative
// API.
type DeviceHandler struct {
	store *store.Store
	audit *audit.Recorder
}

// NewDeviceHandler creates a DeviceHandler.
func NewDeviceHandler(st *store.Store, rec *audit.Recorder) *DeviceHandler {
	return &DeviceHandler{store: st, audit: rec}
}

// List returns every device binding joined with its license key, most
// recently seen first.
// GET /api/v1/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.ListAllDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list devices: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: devices,
		Meta:     &model.ResponseMeta{Count: len(devices)},
	})
}

// Delete removes a device binding by ID regardless of license.
// DELETE /api/v1/devices/{id}
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid device id")
		return
	}

	if err := h.store.DeleteDevice(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete device: "+err.Error())
		return
	}

	details := fmt.Sprintf("Device %d deleted", id)
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		details = fmt.Sprintf("%s by %s", details, p.Username)
	}
	h.audit.Record(model.ActionDeleteDevice, id, details, r.RemoteAddr)

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
