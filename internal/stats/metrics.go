package stats

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PromExporter exposes the collector over a Prometheus /metrics endpoint so a
// long run can be watched live. All series read straight from the collector
// snapshot; nothing in the core depends on the exporter being present.
type PromExporter struct {
	registry *prometheus.Registry
	server   *http.Server
	simTime  func() time.Duration
}

// NewPromExporter registers the simulation metrics against a fresh registry.
// simTime reports current virtual time and may be nil.
func NewPromExporter(c *Collector, simTime func() time.Duration) *PromExporter {
	e := &PromExporter{
		registry: prometheus.NewRegistry(),
		simTime:  simTime,
	}

	e.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "fanet_frames_sent_total",
		Help: "Total frames admitted onto the shared medium.",
	}, func() float64 { return float64(c.TotalFrames()) }))

	e.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "fanet_data_attempted_total",
		Help: "DataMsgs emitted at their sources after handshake.",
	}, func() float64 { return float64(c.AttemptedCount()) }))

	e.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "fanet_data_delivered_total",
		Help: "DataMsgs that reached their destinations.",
	}, func() float64 { return float64(c.DeliveredCount()) }))

	e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fanet_pdr",
		Help: "Packet delivery ratio over the run so far.",
	}, func() float64 { return c.Report().PDR }))

	if simTime != nil {
		e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fanet_sim_time_seconds",
			Help: "Current virtual time of the simulation.",
		}, func() float64 { return simTime().Seconds() }))
	}

	return e
}

// Handler exposes a ready-to-use /metrics handler.
func (e *PromExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics endpoint on addr in a goroutine.
func (e *PromExporter) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.WithField("addr", addr).Info("Metrics endpoint listening")
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("Metrics endpoint stopped")
		}
	}()
}

// Close shuts the endpoint down.
func (e *PromExporter) Close() error {
	if e.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.server.Shutdown(ctx)
}
