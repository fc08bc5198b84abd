// Copyright (c) 2024 The vecs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats registers the process's Prometheus metrics: connection
// counts, command throughput, cache hit/miss split by tier, worker
// queue backpressure, and snapshot duration — the same shape as the
// teacher's core/stats.go, retargeted from proxy/redis-cluster counters
// to the cache's own dimensions.
package stats

import "github.com/prometheus/client_golang/prometheus"

// Stats holds every metric this server exposes on /metrics.
type Stats struct {
	TotalConnections   prometheus.Counter
	CurrentConnections prometheus.Gauge

	Commands *prometheus.CounterVec // label "cmd"

	CacheHits   *prometheus.CounterVec // label "tier" in {l1, l2}
	CacheMisses prometheus.Counter

	JobQueueFull  prometheus.Counter
	EmbedFailures prometheus.Counter
	L2DedupeSkips prometheus.Counter
	L2Evictions   prometheus.Counter
	L1ExactExpiry prometheus.Counter

	SnapshotDuration prometheus.Histogram
	SnapshotEntries  *prometheus.GaugeVec // label "tier" in {l1, l2}
}

// New constructs and registers every metric under namespace and
// returns the handle the reactor and command interpreter update.
func New(namespace string) *Stats {
	s := &Stats{
		TotalConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_connections",
			Help:      "total accepted client connections",
		}),
		CurrentConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_connections",
			Help:      "currently open client connections",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "commands processed, by name",
		}, []string{"cmd"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "QUERY hits, by cache tier",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "QUERY requests that missed both tiers",
		}),
		JobQueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_queue_full_total",
			Help:      "submits rejected because the worker queue was full",
		}),
		EmbedFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_failures_total",
			Help:      "worker jobs whose embed call failed",
		}),
		L2DedupeSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "l2_dedupe_skips_total",
			Help:      "SET completions skipped because a near-duplicate already exists in L2",
		}),
		L2Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "l2_lazy_evictions_total",
			Help:      "L2 entries removed lazily on search because their TTL had elapsed",
		}),
		L1ExactExpiry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "l1_lazy_expiry_total",
			Help:      "L1 entries removed lazily on access because their TTL had elapsed",
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "wall time spent in one SAVE (synchronous, blocks the reactor)",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_entries",
			Help:      "entry count written by the most recent snapshot, by tier",
		}, []string{"tier"}),
	}

	prometheus.MustRegister(
		s.TotalConnections, s.CurrentConnections, s.Commands,
		s.CacheHits, s.CacheMisses, s.JobQueueFull, s.EmbedFailures,
		s.L2DedupeSkips, s.L2Evictions, s.L1ExactExpiry,
		s.SnapshotDuration, s.SnapshotEntries,
	)
	return s
}
