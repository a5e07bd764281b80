package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bcnelson/stack-executor/internal/api/handler"
	"github.com/bcnelson/stack-executor/internal/api/middleware"
	"github.com/bcnelson/stack-executor/internal/resource"
	"github.com/bcnelson/stack-executor/internal/service"
	"github.com/bcnelson/stack-executor/internal/storage"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(
	store storage.Storage,
	resolver *resource.Resolver,
	executor *service.StackExecutor,
	bootstrapKey string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(store, bootstrapKey))

		// API Keys
		keyHandler := handler.NewAPIKeyHandler(store)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		// Commands
		executeHandler := handler.NewExecuteHandler(executor)
		r.Post("/execute", executeHandler.Execute)

		// Stacks
		stackHandler := handler.NewStackHandler(store, resolver, executor)
		r.Post("/stacks", stackHandler.Create)
		r.Get("/stacks", stackHandler.List)
		r.Route("/stacks/{stack_id}", func(r chi.Router) {
			r.Get("/", stackHandler.Get)
			r.Get("/action-state", stackHandler.ActionState)
			r.Post("/refresh", stackHandler.Refresh)
		})

		// Execution history
		updateHandler := handler.NewUpdateHandler(store, resolver)
		r.Get("/updates", updateHandler.List)
		r.Get("/updates/{id}", updateHandler.Get)

		// Administration
		adminHandler := handler.NewAdminHandler(store)
		r.Post("/servers", adminHandler.CreateServer)
		r.Get("/servers", adminHandler.ListServers)
		r.Post("/repos", adminHandler.CreateRepo)
		r.Get("/variables", adminHandler.ListVariables)
		r.Put("/variables/{name}", adminHandler.SetVariable)
		r.Post("/users", adminHandler.CreateUser)
		r.Put("/permissions", adminHandler.SetPermission)
	})

	return r
}
