package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/orchestrator/internal/api"
	apiMiddleware "github.com/phrazzld/orchestrator/internal/api/middleware"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
)

// setupRouter creates the router with every route and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	taskHandler := api.NewTaskHandler(app.taskService)
	runHandler := api.NewRunHandler(app.taskService)
	dlqHandler := api.NewDLQHandler(app.taskService)
	webhookHandler := api.NewWebhookHandler(app.taskService, app.config.Webhook.Secret)

	var authenticate func(http.Handler) http.Handler
	if app.config.Auth.Enabled {
		authenticate = apiMiddleware.NewAuthMiddleware(app.jwtService, app.apiKeys).Authenticate
	}

	r.Route("/api", func(r chi.Router) {
		// Webhooks authenticate with their signature. Without a secret they
		// fall back to the API credentials.
		r.Group(func(r chi.Router) {
			if authenticate != nil && app.config.Webhook.Secret == "" {
				app.logger.Warn("webhook secret not set, webhooks require API credentials")
				r.Use(authenticate)
			}
			if app.limiter != nil {
				r.Use(apiMiddleware.NewRateLimitMiddleware(app.limiter, "webhook"))
			}
			r.Post("/webhooks", webhookHandler.Receive)
		})

		r.Group(func(r chi.Router) {
			if authenticate != nil {
				r.Use(authenticate)
			}

			r.Group(func(r chi.Router) {
				if app.limiter != nil {
					r.Use(apiMiddleware.NewRateLimitMiddleware(app.limiter, "submit_task"))
				}
				r.Post("/tasks", taskHandler.Submit)
			})
			r.Get("/tasks", taskHandler.List)
			r.Get("/tasks/{id}", taskHandler.Get)
			r.Get("/tasks/{id}/history", taskHandler.History)
			r.Patch("/tasks/{id}/metadata", taskHandler.UpdateMetadata)

			r.Get("/runs", runHandler.List)
			r.Get("/runs/{id}", runHandler.Get)

			r.Get("/dlq", dlqHandler.List)
			r.Post("/dlq/replay", dlqHandler.Replay)
			r.Delete("/dlq", dlqHandler.Purge)
		})
	})

	metricsHandler := app.metrics.Handler()
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if err := app.taskService.RefreshGauges(r.Context()); err != nil {
			logger.FromContext(r.Context()).Warn("failed to refresh gauges", "error", err)
		}
		metricsHandler.ServeHTTP(w, r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
