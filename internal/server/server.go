package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/handler"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	CheckRateLimit  int // requests per minute per IP on the public check endpoint
	SessionTTL      time.Duration
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		CheckRateLimit:  100,
		SessionTTL:      24 * time.Hour,
		Version:         "dev",
	}
}

// Server is the top-level HTTP server for Keygate. It owns the chi router,
// the store, the decision engine, and the authentication service.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	engine     *service.LicenseService
	signer     *service.Signer
	authSvc    *service.AuthService
	recorder   *audit.Recorder
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, engine *service.LicenseService, signer *service.Signer,
	authSvc *service.AuthService, recorder *audit.Recorder, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		engine:   engine,
		signer:   signer,
		authSvc:  authSvc,
		recorder: recorder,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.Version).ServeSpec)

	checkHandler := handler.NewCheckHandler(s.engine, s.signer, s.logger)
	authHandler := handler.NewAuthHandler(s.store, s.authSvc, s.cfg.SessionTTL)
	licenseHandler := handler.NewLicenseHandler(s.store, s.recorder)
	deviceHandler := handler.NewDeviceHandler(s.store, s.recorder)

	r.Route("/api/v1", func(r chi.Router) {

		// Public license validation, rate limited per IP.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.CheckRateLimit))
			r.Post("/check", checkHandler.Check)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(s.authSvc))
				r.Get("/profile", authHandler.Profile)
			})

			// Admin account management is reserved for owners.
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(s.authSvc))
				r.Use(middleware.RequireRole(model.RoleOwner))

				r.Get("/admins", authHandler.ListAdmins)
				r.Post("/admins", authHandler.CreateAdmin)
				r.Delete("/admins/{id}", authHandler.DeleteAdmin)
				r.Patch("/admins/{id}/status", authHandler.SetAdminStatus)
			})
		})

		// License and device management requires at least admin.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc))
			r.Use(middleware.RequireRole(model.RoleAdmin))

			r.Get("/licenses", licenseHandler.List)
			r.Post("/licenses", licenseHandler.Create)
			r.Put("/licenses/{id}", licenseHandler.Update)
			r.Delete("/licenses/{id}", licenseHandler.Delete)
			r.Get("/licenses/{id}/devices", licenseHandler.ListDevices)
			r.Delete("/licenses/{id}/devices/{deviceId}", licenseHandler.DeleteDevice)

			r.Get("/devices", deviceHandler.List)
			r.Delete("/devices/{id}", deviceHandler.Delete)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is reachable,
// 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK

	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{"status": status})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and the audit recorder before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Flush queued audit events before the store goes away.
	s.recorder.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
