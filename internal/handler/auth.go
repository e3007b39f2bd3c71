package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
)

// AuthHandler serves operator login, profile, and admin account management.
type AuthHandler struct {
	store      *store.Store
	authSvc    *service.AuthService
	sessionTTL time.Duration
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(st *store.Store, authSvc *service.AuthService, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{store: st, authSvc: authSvc, sessionTTL: sessionTTL}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"access_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

// Login authenticates an operator and returns a session token.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	token, user, err := h.authSvc.Login(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, service.ErrAccountDisabled):
			writeError(w, http.StatusForbidden, "Account is disabled")
		default:
			writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.sessionTTL.Seconds()),
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
	})
}

// Profile returns the authenticated operator's account.
// GET /api/v1/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "Account no longer exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load profile: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListAdmins returns all admin-role accounts. Owner accounts are managed out
// of band and never listed here.
// GET /api/v1/auth/admins
func (h *AuthHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: admins,
		Meta:     &model.ResponseMeta{Count: len(admins)},
	})
}

type createAdminRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateAdmin creates a new admin-role account.
// POST /api/v1/auth/admins
func (h *AuthHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "Username is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	hash, err := service.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password: "+err.Error())
		return
	}

	user := &model.User{Username: req.Username, PasswordHash: hash, Role: model.RoleAdmin}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if store.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "Username already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create admin: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// DeleteAdmin removes an admin-role account. Owners cannot be deleted through
// this endpoint.
// DELETE /api/v1/auth/admins/{id}
func (h *AuthHandler) DeleteAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid admin id")
		return
	}

	if p := middleware.GetPrincipal(r.Context()); p != nil && p.UserID == id {
		writeError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	if err := h.store.DeleteAdmin(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Admin not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete admin: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type adminStatusRequest struct {
	Status string `json:"status"`
}

// SetAdminStatus enables or disables an admin-role account. Disabling blocks
// new logins; tokens issued earlier stay valid until they expire.
// PATCH /api/v1/auth/admins/{id}/status
func (h *AuthHandler) SetAdminStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid admin id")
		return
	}

	var req adminStatusRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Status != model.UserEnabled && req.Status != model.UserDisabled {
		writeError(w, http.StatusBadRequest, "status must be enabled or disabled")
		return
	}

	if p := middleware.GetPrincipal(r.Context()); p != nil && p.UserID == id {
		writeError(w, http.StatusBadRequest, "Cannot change your own status")
		return
	}

	if err := h.store.SetAdminStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Admin not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update status: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": req.Status})
}
