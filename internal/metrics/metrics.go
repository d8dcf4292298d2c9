// Package metrics exposes the planner's run statistics over a prometheus
// /metrics HTTP endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/khryptorgraphics/placementplanner/internal/config"
)

// Collectors holds every metric a planning run reports. It is exported so
// planner drivers can update it directly without going through Server.
type Collectors struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	Objective        *prometheus.GaugeVec
	Goodput          *prometheus.GaugeVec
	InfeasibleTotal  *prometheus.CounterVec
}

// NewCollectors registers the planner's metrics on reg and returns them.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placementplanner",
			Name:      "runs_total",
			Help:      "Number of planning runs completed, by backend.",
		}, []string{"backend"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "placementplanner",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a planning run, by backend.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"backend"}),
		Objective: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "placementplanner",
			Name:      "last_objective",
			Help:      "Objective value of the most recent planning run, by backend.",
		}, []string{"backend"}),
		Goodput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "placementplanner",
			Name:      "last_goodput",
			Help:      "Evaluator goodput score of the most recent planning run, by backend.",
		}, []string{"backend"}),
		InfeasibleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placementplanner",
			Name:      "infeasible_total",
			Help:      "Number of planning runs that reported an infeasible memory budget, by backend.",
		}, []string{"backend"}),
	}
	reg.MustRegister(c.RunsTotal, c.RunDuration, c.Objective, c.Goodput, c.InfeasibleTotal)
	return c
}

// ObserveRun records the outcome of one planning run.
func (c *Collectors) ObserveRun(backend string, duration time.Duration, objective, goodput float64) {
	c.RunsTotal.WithLabelValues(backend).Inc()
	c.RunDuration.WithLabelValues(backend).Observe(duration.Seconds())
	c.Objective.WithLabelValues(backend).Set(objective)
	c.Goodput.WithLabelValues(backend).Set(goodput)
}

// ObserveInfeasible records a run that failed with an infeasible budget.
func (c *Collectors) ObserveInfeasible(backend string) {
	c.InfeasibleTotal.WithLabelValues(backend).Inc()
}

// Server serves the /metrics endpoint on its own registry.
type Server struct {
	cfg        config.MetricsConfig
	httpServer *http.Server
	Collectors *Collectors
}

// NewServer builds a metrics server with its own prometheus registry and
// the standard process/go runtime collectors, matching the registration
// pattern used across the reference corpus's monitoring packages.
func NewServer(cfg config.MetricsConfig) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	collectors := NewCollectors(reg)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	return &Server{
		cfg:        cfg,
		Collectors: collectors,
		httpServer: &http.Server{
			Addr:         cfg.Listen,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start runs the metrics HTTP server in the background. It is a no-op if
// metrics are disabled in configuration.
func (s *Server) Start() {
	if !s.cfg.Enabled {
		return
	}
	log.Info().Str("address", s.cfg.Listen).Str("path", s.cfg.Path).Msg("metrics: starting server")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics: server error")
		}
	}()
}

// Shutdown gracefully stops the metrics HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	log.Info().Msg("metrics: shutting down server")
	return s.httpServer.Shutdown(ctx)
}
