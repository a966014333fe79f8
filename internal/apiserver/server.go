// Package apiserver provides the HTTP intake for lifecycle events
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lattiam/batchanalysis/internal/apiserver/handlers"
	customMiddleware "github.com/lattiam/batchanalysis/internal/apiserver/middleware"
	"github.com/lattiam/batchanalysis/internal/config"
	"github.com/lattiam/batchanalysis/pkg/logging"
)

// APIServer accepts lifecycle events over HTTP and runs them through the trigger
type APIServer struct {
	router  chi.Router
	server  *http.Server
	trigger handlers.EventTrigger
	config  *config.Config
	logger  *logging.Logger
}

// NewAPIServer creates an API server for the configured stack
func NewAPIServer(cfg *config.Config, trigger handlers.EventTrigger) (*APIServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}

	eventHandler, err := handlers.NewEventHandler(trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event handler: %w", err)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID) // Generate unique request ID for tracing
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(RequestTimeout))

	s := &APIServer{
		router:  router,
		trigger: trigger,
		config:  cfg,
		logger:  logging.Server,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  ReadTimeout,
			WriteTimeout: WriteTimeout,
			IdleTimeout:  IdleTimeout,
		},
	}

	router.Route(config.APIBasePath, func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			handlers.WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
		})
		r.Use(customMiddleware.ContentTypeValidator())

		r.Route("/events", func(r chi.Router) {
			r.With(customMiddleware.EventValidator()).Post("/", eventHandler.FireEvent)
			r.Get("/", eventHandler.ListEvents)
			r.With(customMiddleware.IDValidator("requestId")).Get("/{requestId}", eventHandler.GetEvent)
		})

		r.Get("/system/health", s.getSystemHealth)
	})

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handlers.WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
	})

	return s, nil
}

// componentHealth represents the health status of a system component
type componentHealth struct {
	Details map[string]interface{}
	Healthy bool
}

// getSystemHealth reports whether the token store answers
func (s *APIServer) getSystemHealth(w http.ResponseWriter, r *http.Request) {
	store := s.checkStateStoreHealth(r.Context())

	status := "healthy"
	statusCode := http.StatusOK
	if !store.Healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	handlers.WriteJSON(w, statusCode, map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"stack":  s.trigger.Stack(),
		"components": map[string]interface{}{
			"stateStore": store.Details,
		},
		"config":  s.config.GetSanitized(),
		"system":  systemMetrics(),
		"version": map[string]interface{}{
			"api": APIVersion,
			"app": config.AppVersion,
		},
	})
}

func (s *APIServer) checkStateStoreHealth(ctx context.Context) componentHealth {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	tokens, err := s.trigger.History(ctx)
	if err != nil {
		return componentHealth{
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"type":    s.config.StateStore.Type,
				"message": fmt.Sprintf("State store connectivity issue: %v", err),
			},
		}
	}
	return componentHealth{
		Details: map[string]interface{}{
			"status": "healthy",
			"type":   s.config.StateStore.Type,
			"events": len(tokens),
		},
		Healthy: true,
	}
}

func systemMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"gc_count": m.NumGC,
		},
	}
}

// Start serves until the server is shut down
func (s *APIServer) Start() error {
	s.logger.Info("Starting API server on %s for stack %s", s.server.Addr, s.trigger.Stack())
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Router returns the HTTP router for testing
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
