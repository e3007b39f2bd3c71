package handler

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/keygate/keygate/internal/service"
)

var validate = newValidator()

// newValidator builds a validator that reports field names by their json tag,
// so clients see "license_key" rather than "LicenseKey".
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkRequest is the payload clients send to validate a license on a device.
type checkRequest struct {
	LicenseKey        string `json:"license_key" validate:"required,max=64"`
	DeviceFingerprint string `json:"device_fingerprint" validate:"required,max=255"`
	PackageName       string `json:"package_name" validate:"required,max=255"`
	Version           string `json:"version" validate:"omitempty,max=64"`
}

// CheckHandler serves the public license check endpoint.
type CheckHandler struct {
	engine *service.LicenseService
	signer *service.Signer
	logger *slog.Logger
}

// NewCheckHandler creates a CheckHandler.
func NewCheckHandler(engine *service.LicenseService, signer *service.Signer, logger *slog.Logger) *CheckHandler {
	return &CheckHandler{engine: engine, signer: signer, logger: logger}
}

// Check validates a license key for a device and returns the verdict as a
// signed JWT. Policy failures (unknown key, blocked, expired, quota) are still
// HTTP 200: the verdict inside the signed envelope carries the outcome.
// POST /api/v1/check
func (h *CheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", fieldErrors(err))
		return
	}

	verdict, err := h.engine.Check(r.Context(), service.CheckRequest{
		LicenseKey:        req.LicenseKey,
		DeviceFingerprint: req.DeviceFingerprint,
		PackageName:       req.PackageName,
		Version:           req.Version,
		SourceIP:          r.RemoteAddr,
	})
	if err != nil {
		h.logger.Error("license check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	token, err := h.signer.Sign(verdict.Payload())
	if err != nil {
		h.logger.Error("response signing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	// The body is the signed envelope itself, a JSON string. Clients verify
	// the signature and read the verdict from the claims.
	writeJSON(w, http.StatusOK, token)
}

// fieldErrors flattens validator errors into a field → problem map. Validation
// failures are returned unsigned: there is no verdict to protect yet.
func fieldErrors(err error) map[string]interface{} {
	out := make(map[string]interface{})
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		out["request"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out[fe.Field()] = "required"
		case "max":
			out[fe.Field()] = "too long"
		default:
			out[fe.Field()] = "invalid"
		}
	}
	return out
}
