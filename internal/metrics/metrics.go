// Package metrics registers the service's Prometheus collectors and runs
// the periodic system sampler.
package metrics

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	// Consumer metrics
	MessagesConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_messages_consumed_total",
		Help: "Total messages processed successfully, per inbound queue",
	}, []string{"queue"})

	MessagesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_messages_failed_total",
		Help: "Total messages rejected (nack without requeue), per inbound queue",
	}, []string{"queue"})

	ConsumerConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proctor_consumer_connected",
		Help: "Consumer broker connection status (1=subscribed, 0=reconnecting)",
	}, []string{"queue"})

	ConsumerReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_consumer_reconnects_total",
		Help: "Total reconnect attempts, per inbound queue",
	}, []string{"queue"})

	// Publisher metrics
	ResultsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_results_published_total",
		Help: "Total results published to the outbound exchange",
	}, []string{"event_type", "severity"})

	ResultsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_results_dropped_total",
		Help: "Total results dropped before reaching the broker",
	}, []string{"reason"})

	// Snapshot metrics
	SnapshotsUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proctor_snapshots_uploaded_total",
		Help: "Total violation snapshots uploaded to the object store",
	})

	SnapshotFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proctor_snapshot_failures_total",
		Help: "Total snapshot uploads that failed (results still published)",
	})

	// Scoring metrics
	RiskScore = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proctor_risk_score",
		Help:    "Distribution of composite risk scores per pipeline",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	}, []string{"pipeline"})

	BehaviorSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_behavior_sessions",
		Help: "Number of sessions currently tracked by the behavior window",
	})

	// Model registry metrics
	ModelReady = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proctor_model_ready",
		Help: "Model capability readiness (1=ready, 0=unavailable)",
	}, []string{"model"})

	// System metrics
	memoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_memory_bytes",
		Help: "Resident memory of the service process",
	})

	cpuPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_cpu_percent",
		Help: "CPU usage of the service process",
	})

	goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_goroutines",
		Help: "Current number of goroutines",
	})
)

// Drop reasons for ResultsDropped.
const (
	DropReasonPublishFailed = "publish_failed"
	DropReasonQueueFull     = "queue_full"
)

func init() {
	prometheus.MustRegister(MessagesConsumed)
	prometheus.MustRegister(MessagesFailed)
	prometheus.MustRegister(ConsumerConnected)
	prometheus.MustRegister(ConsumerReconnects)

	prometheus.MustRegister(ResultsPublished)
	prometheus.MustRegister(ResultsDropped)

	prometheus.MustRegister(SnapshotsUploaded)
	prometheus.MustRegister(SnapshotFailures)

	prometheus.MustRegister(RiskScore)
	prometheus.MustRegister(BehaviorSessions)
	prometheus.MustRegister(ModelReady)

	prometheus.MustRegister(memoryBytes)
	prometheus.MustRegister(cpuPercent)
	prometheus.MustRegister(goroutines)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Collector samples process-level gauges at a fixed interval.
type Collector struct {
	interval time.Duration
	logger   zerolog.Logger
	proc     *process.Process
	stop     chan struct{}
	done     chan struct{}
}

func NewCollector(interval time.Duration, logger zerolog.Logger) *Collector {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve own process for metrics")
		proc = nil
	}
	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins sampling until Stop is called.
func (c *Collector) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler goroutine to exit.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Collector) collect() {
	goroutines.Set(float64(runtime.NumGoroutine()))

	if c.proc == nil {
		return
	}
	if memInfo, err := c.proc.MemoryInfo(); err == nil {
		memoryBytes.Set(float64(memInfo.RSS))
	}
	if pct, err := c.proc.CPUPercent(); err == nil {
		cpuPercent.Set(pct)
	}
}
