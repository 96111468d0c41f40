// Package api exposes persisted records over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

// Records is the record service as seen by the HTTP layer.
type Records interface {
	List(ctx context.Context, userID string) ([]models.RecordSummary, error)
	Get(ctx context.Context, userID, id string) (*models.RecordView, error)
	GetFull(ctx context.Context, userID, id string) (*models.Record, error)
	Delete(ctx context.Context, userID, id string) error
	VerificationStatus(ctx context.Context, userID, id string) (*models.VerificationCall, error)
}

// NewRouter builds the record API. /healthz and /metrics are served without
// a caller identity; everything under /records requires X-User-ID.
func NewRouter(records Records, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{records: records, logger: logger}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(metrics)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/records", func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/full", h.getFull)
		r.Get("/{id}/verification", h.verification)
		r.Delete("/{id}", h.delete)
	})
	return r
}
