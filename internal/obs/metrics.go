// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChunksProduced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chunks_produced_total",
		Help: "Total number of chunks produced, by chunk type",
	}, []string{"type"})
	ChunkingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chunking_duration_seconds",
		Help:    "Histogram of chunking call durations, by chunk type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	ChunkBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chunk_size_bytes",
		Help:    "Histogram of serialized chunk sizes, by chunk type",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	}, []string{"type"})
	CyclesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reference_cycles_detected_total",
		Help: "Total number of reference cycles reported by the chunker",
	})
	StorageOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_operations_total",
		Help: "Total storage adapter operations, by adapter, operation and outcome",
	}, []string{"adapter", "op", "outcome"})
	ChunksEvicted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chunks_evicted_total",
		Help: "Total chunks evicted by TTL expiry or cleanup, by adapter",
	}, []string{"adapter"})
	CleanupSweeps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanup_sweeps_total",
		Help: "Total cleanup sweeps run, by adapter",
	}, []string{"adapter"})
)

func init() {
	prometheus.MustRegister(ChunksProduced, ChunkingDuration, ChunkBytes, CyclesDetected, StorageOps, ChunksEvicted, CleanupSweeps)
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// RecordStorageOp bumps the storage operation counter with a success or
// error outcome.
func RecordStorageOp(adapter, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StorageOps.WithLabelValues(adapter, op, outcome).Inc()
}
