package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/potooio/cdcwatch/internal/dashboard"
)

// newHTTPServer serves the API next to the Prometheus and health endpoints.
func newHTTPServer(addr string, svc *dashboard.Service) *http.Server {
	mux := http.NewServeMux()
	svc.API.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		// Ready once data flows from realtime or the last poll succeeded.
		st := svc.Poller.Stats()
		if !svc.Client.IsAvailable() && (st.Polls == 0 || st.LastError != "") {
			http.Error(w, "no data source available", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
