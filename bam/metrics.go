// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of File queries. A nil *Metrics
// records nothing.
type Metrics struct {
	BytesFetched   prometheus.Counter
	ChunksFetched  prometheus.Counter
	ChunkCacheHits prometheus.Counter
	RecordsDecoded prometheus.Counter
	QueryDuration  prometheus.Histogram
}

// NewMetrics creates and registers the metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	bytesFetched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bamread_bytes_fetched_total",
		Help: "Total compressed bytes fetched from BAM files",
	})
	chunksFetched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bamread_chunks_fetched_total",
		Help: "Total index chunks fetched from BAM files",
	})
	chunkCacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bamread_chunk_cache_hits_total",
		Help: "Total index chunks served from the decoded chunk cache",
	})
	recordsDecoded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bamread_records_decoded_total",
		Help: "Total records located in fetched chunks",
	})
	queryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bamread_query_duration_seconds",
		Help:    "Duration of range queries",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	reg.MustRegister(bytesFetched, chunksFetched, chunkCacheHits, recordsDecoded, queryDuration)

	return &Metrics{
		BytesFetched:   bytesFetched,
		ChunksFetched:  chunksFetched,
		ChunkCacheHits: chunkCacheHits,
		RecordsDecoded: recordsDecoded,
		QueryDuration:  queryDuration,
	}
}

func (m *Metrics) fetched(bytes, records int) {
	if m == nil {
		return
	}
	m.ChunksFetched.Inc()
	m.BytesFetched.Add(float64(bytes))
	m.RecordsDecoded.Add(float64(records))
}

func (m *Metrics) cacheHit() {
	if m == nil {
		return
	}
	m.ChunkCacheHits.Inc()
}

func (m *Metrics) observeQuery(start time.Time) {
	if m == nil {
		return
	}
	m.QueryDuration.Observe(time.Since(start).Seconds())
}
