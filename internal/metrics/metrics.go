// Package metrics exposes the gateway's Prometheus collectors and the
// optional standalone metrics endpoint.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wagate_sessions_active",
		Help: "The current number of sessions with a live protocol handle.",
	})
	SessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_session_events_total",
		Help: "The total number of protocol lifecycle events observed.",
	}, []string{"event"})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_reconnect_attempts_total",
		Help: "The total number of reconnect attempts after unexpected disconnects.",
	})

	// Dispatch
	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_sends_total",
		Help: "The total number of single-send requests by result.",
	}, []string{"result"})
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_rate_limit_rejections_total",
		Help: "The total number of sends rejected by admission control.",
	})
	BulkRecipients = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_bulk_recipients_total",
		Help: "The total number of bulk recipients processed by outcome.",
	}, []string{"status"})
)

// StartServer serves the Prometheus scrape endpoint on its own listener.
func StartServer(addr, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	log.Printf("[metrics] serving on %s%s", addr, path)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("[metrics] server stopped: %v", err)
		}
	}()
}
