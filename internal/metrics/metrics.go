// Package metrics exposes coordinator counters and the monitoring endpoint.
package metrics

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "huddle",
		Name:      "joins_total",
		Help:      "Join attempts by outcome code (ok or error code).",
	}, []string{"outcome"})

	SessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Name:      "sessions_live",
		Help:      "Currently open sessions across all meetings.",
	})

	MeetingsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Name:      "meetings_ended_total",
		Help:      "Meetings transitioned to the ended status.",
	})

	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Name:      "sessions_swept_total",
		Help:      "Open sessions closed by the stale-session sweeper.",
	})

	SignalsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Name:      "signals_relayed_total",
		Help:      "Signaling envelopes relayed between participants.",
	})
)

// Server serves /metrics and, when enabled, the pprof endpoints on a
// dedicated port, separate from the API server.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, profiling bool) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if profiling {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return &Server{srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
}

func (s *Server) Run() {
	log.Info().Str("module", "metrics").Str("addr", s.srv.Addr).Msg("monitoring server started")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Str("module", "metrics").Msg("monitoring server error")
	}
}

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
