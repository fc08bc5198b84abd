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

// Package vectorindex implements the L2 semantic layer: an IVFFlat
// index with online centroid learning, hybrid text-penalty scoring,
// and lazy eviction. It is owned exclusively by the reactor goroutine.
package vectorindex

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/riccardogiuriola/vecs/internal/stats"
	"github.com/riccardogiuriola/vecs/internal/textnorm"
)

// Design constants — decisions, not configuration. See spec §4.E.
const (
	NumClusters = 64
	NProbe      = 4
	AdaptRate   = 0.1

	pruneScoreFloor = 0.5
	lengthPenaltyR  = 0.5
	lengthPenalty   = 0.8
	negationPenalty = 0.75
	deleteThreshold = 0.99
)

// ErrFull is returned by Insert when the index is at global capacity.
var ErrFull = errors.New("vectorindex: at capacity")

type entry struct {
	vector   []float32
	prompt   string // original, un-normalized prompt
	response string
	expiry   time.Time
}

type cluster struct {
	centroid    []float32
	entries     []entry
	initialized bool
}

// Index is the IVFFlat vector cache.
type Index struct {
	clusters   [NumClusters]cluster
	dim        int
	totalCount int
	capacity   int
	stats      *stats.Stats
}

// New creates an Index for vectors of the given dimension and a global
// entry capacity.
func New(dim, capacity int) *Index {
	idx := &Index{dim: dim, capacity: capacity}
	for i := range idx.clusters {
		idx.clusters[i].centroid = make([]float32, dim)
	}
	return idx
}

// SetStats attaches the metric set Search increments when its lazy TTL
// sweep evicts an expired entry. Passing nil disables metric emission.
func (idx *Index) SetStats(st *stats.Stats) {
	idx.stats = st
}

// Dim returns the configured embedding dimension.
func (idx *Index) Dim() int { return idx.dim }

// Len returns the total number of live entries across all clusters.
func (idx *Index) Len() int { return idx.totalCount }

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func renormalize(v []float32) {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	if norm > 1e-9 {
		for i := range v {
			v[i] /= norm
		}
	}
}

// Insert assigns vector to the nearest (or next-bootstrap) cluster,
// updates that cluster's centroid, and stores the entry. It returns
// ErrFull if the index is already at its global capacity.
func (idx *Index) Insert(vector []float32, prompt, response string, ttl time.Duration) error {
	if idx.totalCount >= idx.capacity {
		return ErrFull
	}

	best := -1
	for i := range idx.clusters {
		if !idx.clusters[i].initialized {
			best = i
			break
		}
	}
	if best == -1 {
		bestScore := float32(-2.0)
		for i := range idx.clusters {
			s := dot(idx.clusters[i].centroid, vector)
			if s > bestScore {
				bestScore = s
				best = i
			}
		}
	}

	c := &idx.clusters[best]
	owned := make([]float32, len(vector))
	copy(owned, vector)
	c.entries = append(c.entries, entry{vector: owned, prompt: prompt, response: response, expiry: time.Now().Add(ttl)})
	idx.totalCount++

	if !c.initialized {
		copy(c.centroid, vector)
		c.initialized = true
	} else {
		for i := range c.centroid {
			c.centroid[i] = c.centroid[i]*(1-AdaptRate) + vector[i]*AdaptRate
		}
		renormalize(c.centroid)
	}
	return nil
}

type clusterScore struct {
	index int
	score float32
}

// coarseRank returns the initialized, non-empty clusters ranked
// descending by centroid similarity to query, stable on ties (lowest
// index first).
func (idx *Index) coarseRank(query []float32, requireNonEmpty bool) []clusterScore {
	candidates := make([]clusterScore, 0, NumClusters)
	for i := range idx.clusters {
		c := &idx.clusters[i]
		if !c.initialized {
			continue
		}
		if requireNonEmpty && len(c.entries) == 0 {
			continue
		}
		candidates = append(candidates, clusterScore{index: i, score: dot(c.centroid, query)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	return candidates
}

// Search runs the coarse-then-fine IVFFlat search described in spec
// §4.E, applying lazy eviction of expired entries as it scans and the
// hybrid length/negation penalties above the pruning floor. It returns
// the best-scoring live response and true if its score meets
// threshold; otherwise ("", false).
func (idx *Index) Search(query []float32, queryText string, threshold float32) (string, bool) {
	if idx.totalCount == 0 {
		return "", false
	}
	candidates := idx.coarseRank(query, true)
	if len(candidates) == 0 {
		return "", false
	}

	probes := NProbe
	if len(candidates) < probes {
		probes = len(candidates)
	}

	queryLower := strings.ToLower(queryText)
	queryHasNeg := textnorm.HasNegation(queryLower)
	queryLen := len(queryText)
	now := time.Now()

	maxScore := float32(-1.0)
	bestResponse := ""
	found := false

	for k := 0; k < probes; k++ {
		c := &idx.clusters[candidates[k].index]
		for i := 0; i < len(c.entries); i++ {
			e := &c.entries[i]

			if now.After(e.expiry) {
				idx.evictAt(c, i)
				if idx.stats != nil {
					idx.stats.L2Evictions.Inc()
				}
				i--
				continue
			}

			score := dot(query, e.vector)
			if score > pruneScoreFloor {
				score = applyHybridPenalty(score, queryText, queryLen, queryHasNeg, e.prompt)
			}

			if score > maxScore {
				maxScore = score
				bestResponse = e.response
				found = true
			}
		}
	}

	if found && maxScore >= threshold {
		return bestResponse, true
	}
	return "", false
}

func applyHybridPenalty(score float32, queryText string, queryLen int, queryHasNeg bool, entryPrompt string) float32 {
	entryLen := len(entryPrompt)
	diff := queryLen - entryLen
	if diff < 0 {
		diff = -diff
	}
	maxLen := queryLen
	if entryLen > maxLen {
		maxLen = entryLen
	}
	if maxLen > 0 {
		ratio := float32(diff) / float32(maxLen)
		if ratio > lengthPenaltyR {
			score *= lengthPenalty
		}
	}

	if queryHasNeg != textnorm.HasNegation(strings.ToLower(entryPrompt)) {
		score *= negationPenalty
	}
	return score
}

// evictAt removes the entry at index i from cluster c by swapping with
// the cluster's last entry, per the spec's lazy-eviction rule.
func (idx *Index) evictAt(c *cluster, i int) {
	last := len(c.entries) - 1
	c.entries[i] = c.entries[last]
	c.entries = c.entries[:last]
	idx.totalCount--
}

// DeleteSemantic removes the first entry, among the top-NProbe
// clusters ranked by centroid similarity, whose raw cosine with query
// is at least deleteThreshold (0.99). It reports whether an entry was
// removed.
func (idx *Index) DeleteSemantic(query []float32) bool {
	candidates := idx.coarseRank(query, true)
	probes := NProbe
	if len(candidates) < probes {
		probes = len(candidates)
	}

	for k := 0; k < probes; k++ {
		c := &idx.clusters[candidates[k].index]
		for i := 0; i < len(c.entries); i++ {
			if dot(query, c.entries[i].vector) >= deleteThreshold {
				idx.evictAt(c, i)
				return true
			}
		}
	}
	return false
}

// Clear removes every entry and resets every centroid and
// initialization flag.
func (idx *Index) Clear() {
	for i := range idx.clusters {
		idx.clusters[i].entries = nil
		idx.clusters[i].initialized = false
		for j := range idx.clusters[i].centroid {
			idx.clusters[i].centroid[j] = 0
		}
	}
	idx.totalCount = 0
}

// SnapshotEntry is the shape handed to the snapshot codec.
type SnapshotEntry struct {
	Vector   []float32
	Prompt   string
	Response string
	Expiry   time.Time
}

// Each invokes fn for every live, unexpired entry across all clusters,
// for the snapshot codec's save path. Expired entries are skipped, not
// evicted (save is read-only with respect to structure).
func (idx *Index) Each(fn func(SnapshotEntry)) {
	now := time.Now()
	for ci := range idx.clusters {
		for _, e := range idx.clusters[ci].entries {
			if now.After(e.expiry) {
				continue
			}
			fn(SnapshotEntry{Vector: e.vector, Prompt: e.prompt, Response: e.response, Expiry: e.expiry})
		}
	}
}

// InsertRaw re-inserts a snapshot-restored entry through the normal
// cluster-assignment path (so centroids are re-learned on load),
// preserving its absolute expiry instant.
func (idx *Index) InsertRaw(vector []float32, prompt, response string, expiry time.Time) error {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return nil
	}
	return idx.Insert(vector, prompt, response, ttl)
}
