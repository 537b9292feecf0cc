package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ailego/application/commands/bus"
	querybus "ailego/application/queries/bus"
	"ailego/interfaces/http/rest/handlers"
	"ailego/interfaces/http/rest/middleware"
	"ailego/pkg/auth"
	pkgerrors "ailego/pkg/errors"
	"ailego/pkg/observability"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether the host can serve editor traffic
type ReadinessCheck func(ctx context.Context) error

// RouterConfig holds the optional parts of the HTTP surface
type RouterConfig struct {
	EnableCORS     bool
	AllowedOrigins []string
	// RateLimit and RateWindow describe the limiter in 429 responses
	RateLimit  int
	RateWindow string
}

// Router creates and configures the HTTP router
type Router struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *pkgerrors.ErrorHandler
	verifier   middleware.Verifier
	limiter    auth.RateLimiter
	metrics    *observability.Collector
	ready      ReadinessCheck
	cfg        RouterConfig
	logger     *zap.Logger
}

// NewRouter creates a new router instance. verifier, limiter, metrics and
// ready may be nil.
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errorHandler *pkgerrors.ErrorHandler,
	verifier middleware.Verifier,
	limiter auth.RateLimiter,
	metrics *observability.Collector,
	ready ReadinessCheck,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     errorHandler,
		verifier:   verifier,
		limiter:    limiter,
		metrics:    metrics,
		ready:      ready,
		cfg:        cfg,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(rt.errors.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}

	if rt.cfg.EnableCORS {
		origins := rt.cfg.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.metrics != nil {
		router.Handle("/metrics", rt.metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.verifier, rt.errors, rt.logger))
		r.Use(middleware.RateLimit(rt.limiter, rt.cfg.RateLimit, rt.cfg.RateWindow, rt.errors, rt.logger))

		projects := handlers.NewProjectHandler(rt.commandBus, rt.queryBus, rt.errors, rt.logger)

		r.Get("/templates", projects.ListTemplates)
		r.Post("/projects", projects.CreateProject)

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/graph", projects.GetGraph)
			r.Get("/sync", projects.GetSyncStatus)
			r.Post("/cards", projects.AddCard)
			r.Post("/links", projects.AddLink)
			r.Post("/refresh-links", projects.RefreshLinks)
			r.Post("/reset", projects.Reset)
			r.Post("/templates/{name}", projects.ApplyTemplate)
			r.Post("/reconcile", projects.Reconcile)
			r.Post("/gestures", projects.HandleGesture)
			r.Delete("/session", projects.CloseSession)

			r.Route("/cards/{cardID}", func(r chi.Router) {
				r.Delete("/", projects.DeleteCard)
				r.Put("/description", projects.SetDescription)
				r.Put("/position", projects.SetPosition)
				r.Put("/size", projects.SetSize)
				r.Post("/comments", projects.AddComment)
				r.Get("/thread", projects.GetCardThread)
			})
		})
	})

	return router
}

func writeStatus(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readinessCheck reports the remote store reachable
func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	if rt.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.ready(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeStatus(w, http.StatusOK, map[string]string{"status": "ready"})
}
