// Copyright 2025 James Ross
package metrics

import (
	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
)

// Collector accumulates per-type chunking measurements: processing time in
// milliseconds, chunk sizes in bytes, and chunk counts. It is in-memory and
// not safe for concurrent use by contract; callers confine an instance to a
// single task or wrap it.
type Collector struct {
	processingTimes map[chunk.Type][]float64
	chunkSizes      map[chunk.Type][]int
	chunkCounts     map[chunk.Type][]int
}

// NewCollector returns a collector with a dense, empty bucket for every
// known chunk type.
func NewCollector() *Collector {
	c := &Collector{}
	c.Reset()
	return c
}

// RecordProcessingTime appends a wall-time measurement in milliseconds.
func (c *Collector) RecordProcessingTime(t chunk.Type, ms float64) {
	c.processingTimes[t] = append(c.processingTimes[t], ms)
}

// RecordChunkSize appends a serialized chunk size in bytes.
func (c *Collector) RecordChunkSize(t chunk.Type, size int) {
	c.chunkSizes[t] = append(c.chunkSizes[t], size)
}

// RecordChunkCount appends the chunk count of one chunking invocation.
func (c *Collector) RecordChunkCount(t chunk.Type, count int) {
	c.chunkCounts[t] = append(c.chunkCounts[t], count)
}

// TypeStatistics summarizes one chunk type's buckets.
type TypeStatistics struct {
	ProcessingTimes []float64 `json:"processingTimes"`
	ChunkSizes      []int     `json:"chunkSizes"`
	ChunkCounts     []int     `json:"chunkCounts"`
	AvgTimeMillis   float64   `json:"avgTimeMillis"`
	AvgSizeBytes    float64   `json:"avgSizeBytes"`
	TotalChunks     int       `json:"totalChunks"`
}

// Statistics is the full collector snapshot.
type Statistics struct {
	ByType      map[chunk.Type]TypeStatistics `json:"byType"`
	TotalChunks int                           `json:"totalChunks"`
}

// Statistics returns the raw arrays plus per-type averages and counts and
// the overall chunk total.
func (c *Collector) Statistics() Statistics {
	stats := Statistics{ByType: make(map[chunk.Type]TypeStatistics, len(c.chunkCounts))}
	for _, t := range chunk.KnownTypes() {
		ts := TypeStatistics{
			ProcessingTimes: append([]float64(nil), c.processingTimes[t]...),
			ChunkSizes:      append([]int(nil), c.chunkSizes[t]...),
			ChunkCounts:     append([]int(nil), c.chunkCounts[t]...),
		}
		ts.AvgTimeMillis = avgFloats(ts.ProcessingTimes)
		ts.AvgSizeBytes = avgInts(ts.ChunkSizes)
		for _, n := range ts.ChunkCounts {
			ts.TotalChunks += n
		}
		stats.ByType[t] = ts
		stats.TotalChunks += ts.TotalChunks
	}
	return stats
}

// Reset empties every bucket. Buckets for every known type exist afterwards.
func (c *Collector) Reset() {
	c.processingTimes = make(map[chunk.Type][]float64)
	c.chunkSizes = make(map[chunk.Type][]int)
	c.chunkCounts = make(map[chunk.Type][]int)
	for _, t := range chunk.KnownTypes() {
		c.processingTimes[t] = []float64{}
		c.chunkSizes[t] = []int{}
		c.chunkCounts[t] = []int{}
	}
}

func avgFloats(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func avgInts(v []int) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum int
	for _, x := range v {
		sum += x
	}
	return float64(sum) / float64(len(v))
}
