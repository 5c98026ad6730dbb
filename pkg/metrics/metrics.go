// Copyright 2026 Fluxlog, Inc.

package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxlog/fluxlog/pkg/logger"
)

var (
	// Replication metrics
	ReplicaHighWatermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxlog_replica_hwm",
			Help: "High watermark per replica led by this SPU",
		},
		[]string{"topic", "partition"},
	)

	ReplicaLogEndOffset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxlog_replica_leo",
			Help: "Log end offset per replica led by this SPU",
		},
		[]string{"topic", "partition"},
	)

	ReplicaFollowerLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxlog_replica_follower_lag",
			Help: "Offset lag of each follower behind the leader LEO",
		},
		[]string{"topic", "partition", "follower"},
	)

	ReplicaFollowerInSync = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxlog_replica_follower_in_sync",
			Help: "Whether a follower currently counts toward the ISR (1/0)",
		},
		[]string{"topic", "partition", "follower"},
	)

	FollowerFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxlog_follower_fetches_total",
			Help: "Follower fetch requests served by leaders on this SPU",
		},
		[]string{"topic", "partition"},
	)

	// Producer metrics
	ProducerBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxlog_producer_batches_total",
			Help: "Batches sent by the partition producer, by topic",
		},
		[]string{"topic"},
	)

	ProducerRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxlog_producer_records_total",
			Help: "Records sent by the partition producer, by topic and partition",
		},
		[]string{"topic", "partition"},
	)

	ProducerBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxlog_producer_bytes_total",
			Help: "Payload bytes sent by the partition producer, by topic",
		},
		[]string{"topic"},
	)

	ProducerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxlog_producer_retries_total",
			Help: "Produce attempts retried under the at-least-once policy",
		},
		[]string{"topic"},
	)

	ProducerBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxlog_producer_batch_duration_seconds",
			Help:    "Time from batch creation to acknowledged send",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"topic"},
	)

	// Consumer metrics
	ConsumerCommittedOffset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxlog_consumer_committed_offset",
			Help: "Last committed offset per consumed partition",
		},
		[]string{"topic", "partition"},
	)

	ConsumerRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxlog_consumer_records_total",
			Help: "Records yielded to consumers, by topic and partition",
		},
		[]string{"topic", "partition"},
	)

	ConsumerFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxlog_consumer_flush_duration_seconds",
			Help:    "Duration of managed-offset flushes to the cluster",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	ConsumerFlushErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxlog_consumer_flush_errors_total",
			Help: "Managed-offset flushes rejected or failed",
		},
	)

	// Throttle metrics
	ThrottleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxlog_throttle_requests_total",
			Help: "Throttle decisions by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	ThrottleBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxlog_throttle_bytes_total",
			Help: "Bytes evaluated by the throttler, by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	ThrottleRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxlog_throttle_rate_bytes_per_second",
			Help: "Current throttle rate limit, by direction",
		},
		[]string{"direction"},
	)

	// Runtime metrics
	GoGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxlog_go_goroutines",
			Help: "Number of goroutines",
		},
	)

	GoMemoryAlloc = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxlog_go_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)
)

// Handler returns the Prometheus scrape handler; the admin API mounts it at
// the configured metrics path.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server periodically samples runtime metrics while the process runs. HTTP
// exposure lives in the admin API; this only owns the sampling loop.
type Server struct {
	interval time.Duration
	stopChan chan struct{}
	logger   *logger.Logger
}

// NewServer creates a runtime-metrics sampler. interval <= 0 defaults to
// 15s.
func NewServer(interval time.Duration) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Server{
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger.Default().WithComponent("metrics"),
	}
}

// Start begins runtime metric collection.
func (s *Server) Start() {
	go s.collectRuntimeMetrics()
	s.logger.Info("metrics sampler started", "interval", s.interval)
}

func (s *Server) collectRuntimeMetrics() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			GoGoroutines.Set(float64(runtime.NumGoroutine()))
			GoMemoryAlloc.Set(float64(m.Alloc))
		case <-s.stopChan:
			return
		}
	}
}

// Stop halts runtime metric collection.
func (s *Server) Stop() error {
	close(s.stopChan)
	s.logger.Info("metrics sampler stopped")
	return nil
}
