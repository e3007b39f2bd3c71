package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID == "" {
		t.Error("expected X-Request-ID in response header")
	}
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	id := GetRequestID(context.Background())
	if id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

func TestRequestIDRejectsUnsafeClientIDs(t *testing.T) {
	cases := []struct {
		name string
		id   string
	}{
		{"oversized", strings.Repeat("x", 200)},
		{"control characters", "trace\nid"},
		{"non-ascii", "trace-\xc3\xa9-id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("POST", "/api/v1/check", nil)
			req.Header.Set("X-Request-ID", tc.id)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			respID := rr.Header().Get("X-Request-ID")
			if respID == tc.id {
				t.Errorf("unsafe client ID %q was passed through", tc.id)
			}
			if len(respID) != 36 {
				t.Errorf("expected generated UUID replacement, got %q", respID)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Logger middleware tests
// ---------------------------------------------------------------------------

func loggedOutput(t *testing.T, level slog.Level, status int, method, path string) string {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level}))

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return buf.String()
}

func TestLoggerDemotesCheckTraffic(t *testing.T) {
	// Successful checks are the hot path and must stay below info.
	out := loggedOutput(t, slog.LevelInfo, http.StatusOK, "POST", "/api/v1/check")
	if out != "" {
		t.Errorf("successful check logged at info level: %q", out)
	}

	out = loggedOutput(t, slog.LevelDebug, http.StatusOK, "POST", "/api/v1/check")
	if !strings.Contains(out, "license check") {
		t.Errorf("expected debug check log, got %q", out)
	}
}

func TestLoggerWarnsOnRateLimit(t *testing.T) {
	out := loggedOutput(t, slog.LevelInfo, http.StatusTooManyRequests, "POST", "/api/v1/check")
	if !strings.Contains(out, "request rate limited") {
		t.Errorf("expected rate-limit warning, got %q", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("expected WARN level, got %q", out)
	}
}

func TestLoggerAdminRequestsAtInfo(t *testing.T) {
	out := loggedOutput(t, slog.LevelInfo, http.StatusOK, "GET", "/api/v1/licenses")
	if !strings.Contains(out, "level=INFO") {
		t.Errorf("expected info-level admin request log, got %q", out)
	}
}

func TestLoggerServerErrorsAtError(t *testing.T) {
	out := loggedOutput(t, slog.LevelInfo, http.StatusInternalServerError, "POST", "/api/v1/check")
	if !strings.Contains(out, "level=ERROR") {
		t.Errorf("expected error-level log for 500, got %q", out)
	}
}

// ---------------------------------------------------------------------------
// RequireRole middleware tests
// ---------------------------------------------------------------------------

func withPrincipal(req *http.Request, p *Principal) *http.Request {
	ctx := context.WithValue(req.Context(), AuthPrincipalKey, p)
	return req.WithContext(ctx)
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireRole(model.RoleAdmin)(inner)

	req := withPrincipal(httptest.NewRequest("GET", "/licenses", nil),
		&Principal{UserID: 1, Username: "alice", Role: model.RoleAdmin})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleOwnerPassesEveryGate(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireRole(model.RoleAdmin)(inner)

	req := withPrincipal(httptest.NewRequest("GET", "/licenses", nil),
		&Principal{UserID: 1, Username: "root", Role: model.RoleOwner})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for owner, got %d", rr.Code)
	}
}

func TestRequireRoleBlocksLowerRole(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called")
	})
	handler := RequireRole(model.RoleOwner)(inner)

	req := withPrincipal(httptest.NewRequest("GET", "/admins", nil),
		&Principal{UserID: 2, Username: "bob", Role: model.RoleAdmin})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestRequireRoleBlocksSupport(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called")
	})
	handler := RequireRole(model.RoleAdmin)(inner)

	req := withPrincipal(httptest.NewRequest("GET", "/licenses", nil),
		&Principal{UserID: 3, Username: "helpdesk", Role: model.RoleSupport})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestRequireRoleBlocksUnauthenticated(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called")
	})
	handler := RequireRole(model.RoleAdmin)(inner)

	req := httptest.NewRequest("GET", "/licenses", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// GetPrincipal tests
// ---------------------------------------------------------------------------

func TestGetPrincipalWithValue(t *testing.T) {
	expected := &Principal{UserID: 42, Username: "alice", Role: model.RoleOwner}
	ctx := context.WithValue(context.Background(), AuthPrincipalKey, expected)

	got := GetPrincipal(ctx)
	if got == nil {
		t.Fatal("expected non-nil principal")
	}
	if got.UserID != 42 || got.Role != model.RoleOwner {
		t.Errorf("unexpected principal: %+v", got)
	}
}

func TestGetPrincipalWithoutValue(t *testing.T) {
	got := GetPrincipal(context.Background())
	if got != nil {
		t.Error("expected nil principal from bare context")
	}
}
