package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func registerSystemRoutes(mux *http.ServeMux, handler *Handler, metricsEnabled bool) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
	if metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
}

func registerPublicRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /v1/sync/status", handler.GetSyncStatus)
	mux.HandleFunc("GET /v1/matches/{matchID}", handler.GetMatch)
}

func registerInternalJobRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	mux.Handle("POST /v1/internal/jobs/sync-details", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunSyncDetailsJob)))
}
