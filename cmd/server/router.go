package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/dispatch/internal/api"
	apiMiddleware "github.com/phrazzld/dispatch/internal/api/middleware"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	processHandler := api.NewProcessHandler(app.orch)
	taskHandler := api.NewTaskHandler(app.queue)
	opsHandler := api.NewOpsHandler(app.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/process", processHandler.Process)

		r.Post("/tasks", taskHandler.Submit)
		r.Get("/tasks/{id}", taskHandler.Status)
		r.Get("/tasks/{id}/result", taskHandler.Result)
		r.Delete("/tasks/{id}", taskHandler.Cancel)
	})

	r.Get("/healthz", opsHandler.Health)
	r.Get("/metrics", opsHandler.Metrics)

	return r
}
