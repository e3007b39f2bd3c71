package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
)

// LicenseHandler manages licenses and their device bindings through the
// administrative API.
type LicenseHandler struct {
	store *store.Store
	audit *audit.Recorder
}

// NewLicenseHandler creates a LicenseHandler.
func NewLicenseHandler(st *store.Store, rec *audit.Recorder) *LicenseHandler {
	return &LicenseHandler{store: st, audit: rec}
}

// List returns all licenses, newest first.
// GET /api/v1/licenses
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.store.ListLicenses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list licenses: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: licenses,
		Meta:     &model.ResponseMeta{Count: len(licenses)},
	})
}

// createLicenseRequest is the payload for issuing a new license. The key is
// always generated server-side.
type createLicenseRequest struct {
	MaxDevices         int        `json:"max_devices"`
	IsLifetime         bool       `json:"is_lifetime"`
	ExpireAt           *time.Time `json:"expire_at"`
	AllowedPackageName *string    `json:"allowed_package_name"`
}

// Create issues a new license with a freshly generated key.
// POST /api/v1/licenses
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLicenseRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.MaxDevices <= 0 {
		writeError(w, http.StatusBadRequest, "max_devices must be positive")
		return
	}

	lic := &model.License{
		Status:             model.LicenseActive,
		MaxDevices:         req.MaxDevices,
		IsLifetime:         req.IsLifetime,
		ExpireAt:           req.ExpireAt,
		AllowedPackageName: req.AllowedPackageName,
	}
	if err := service.IssueLicense(r.Context(), h.store, lic); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create license: "+err.Error())
		return
	}

	h.record(r, model.ActionCreateLicense, lic.ID, fmt.Sprintf("License %s created", lic.LicenseKey))
	writeJSON(w, http.StatusCreated, lic)
}

// updateLicenseRequest carries the mutable license policy fields. Absent
// fields keep their current values; the key itself can never change.
type updateLicenseRequest struct {
	Status             *string    `json:"status"`
	MaxDevices         *int       `json:"max_devices"`
	IsLifetime         *bool      `json:"is_lifetime"`
	ExpireAt           *time.Time `json:"expire_at"`
	AllowedPackageName *string    `json:"allowed_package_name"`
}

// Update modifies a license's policy fields.
// PUT /api/v1/licenses/{id}
func (h *LicenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid license id")
		return
	}

	var req updateLicenseRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	lic, err := h.store.GetLicense(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "License not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load license: "+err.Error())
		return
	}

	if req.Status != nil {
		if *req.Status != model.LicenseActive && *req.Status != model.LicenseBlocked {
			writeError(w, http.StatusBadRequest, "status must be active or blocked")
			return
		}
		lic.Status = *req.Status
	}
	if req.MaxDevices != nil {
		if *req.MaxDevices <= 0 {
			writeError(w, http.StatusBadRequest, "max_devices must be positive")
			return
		}
		lic.MaxDevices = *req.MaxDevices
	}
	if req.IsLifetime != nil {
		lic.IsLifetime = *req.IsLifetime
	}
	if req.ExpireAt != nil {
		lic.ExpireAt = req.ExpireAt
	}
	if req.AllowedPackageName != nil {
		lic.AllowedPackageName = req.AllowedPackageName
	}

	if err := h.store.UpdateLicense(r.Context(), lic); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update license: "+err.Error())
		return
	}

	h.record(r, model.ActionUpdateLicense, lic.ID, fmt.Sprintf("License %s updated", lic.LicenseKey))
	writeJSON(w, http.StatusOK, lic)
}

// Delete removes a license and, via cascade, its device bindings.
// DELETE /api/v1/licenses/{id}
func (h *LicenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid license id")
		return
	}

	if err := h.store.DeleteLicense(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "License not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete license: "+err.Error())
		return
	}

	h.record(r, model.ActionDeleteLicense, id, fmt.Sprintf("License %d deleted", id))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ListDevices returns the device bindings for one license.
// GET /api/v1/licenses/{id}/devices
func (h *LicenseHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid license id")
		return
	}

	if _, err := h.store.GetLicense(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "License not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load license: "+err.Error())
		return
	}

	devices, err := h.store.ListDevices(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list devices: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: devices,
		Meta:     &model.ResponseMeta{Count: len(devices)},
	})
}

// DeleteDevice detaches one device from a license, freeing a quota slot. The
// binding must belong to the license in the URL.
// DELETE /api/v1/licenses/{id}/devices/{deviceId}
func (h *LicenseHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	licenseID, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid license id")
		return
	}
	deviceID, ok := urlID(r, "deviceId")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid device id")
		return
	}

	if err := h.store.DeleteLicenseDevice(r.Context(), licenseID, deviceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to remove device: "+err.Error())
		return
	}

	h.record(r, model.ActionRemoveDevice, deviceID,
		fmt.Sprintf("Device %d removed from license %d", deviceID, licenseID))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// record emits an audit event attributed to the requesting operator.
func (h *LicenseHandler) record(r *http.Request, action string, targetID int64, details string) {
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		details = fmt.Sprintf("%s by %s", details, p.Username)
	}
	h.audit.Record(action, targetID, details, r.RemoteAddr)
}
