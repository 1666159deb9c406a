// Package server exposes the batch processor over HTTP: POST /v1/batch for
// direct submissions (the same envelope the queue carries), plus health and
// Prometheus metrics endpoints.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	router "github.com/tessera-ops/bedrock-router"
	"github.com/tessera-ops/bedrock-router/internal/logging"
)

// batchRequest is the POST /v1/batch payload.
type batchRequest struct {
	Records []router.Record `json:"records"`
}

// Handler builds the HTTP router around a Processor. loadRouting is called
// once per batch so configuration changes take effect without a restart.
func Handler(p *router.Processor, loadRouting func() router.RoutingConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/batch", func(w http.ResponseWriter, req *http.Request) {
		var batch batchRequest
		if err := json.NewDecoder(req.Body).Decode(&batch); err != nil {
			writeJSON(w, http.StatusBadRequest, router.BatchResult{
				StatusCode: http.StatusBadRequest,
				Body:       `{"error":"Invalid JSON format"}`,
			})
			return
		}

		routing := loadRouting()
		result := p.ProcessBatch(req.Context(), batch.Records, routing)
		writeJSON(w, result.StatusCode, result)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
