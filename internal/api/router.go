// Package api wires HTTP handlers with their dependencies. This is the
// composition root; handlers stay unaware of how they are mounted.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"delivery-insights/internal/api/handler"
)

// NewRouter builds the HTTP routing tree around a run handler.
func NewRouter(h *handler.RunHandler, log *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", handler.Health)
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.CreateRun)
			r.Get("/", h.ListRuns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRun)
				r.Delete("/", h.DeleteRun)
				r.Post("/retry", h.RetryRun)
				r.Get("/report", h.GetReport)
				r.Get("/insights/{name}", h.GetInsight)
				r.Get("/failures", h.GetFailures)
				r.Get("/progress", h.GetProgress)
				r.Get("/exports", h.ListExports)
				r.Get("/files/{filename}", h.DownloadFile)
			})
		})
	})

	return r
}
