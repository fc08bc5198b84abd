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

// Package embedder defines the external contract the worker pool calls
// to turn text into a unit-norm embedding vector, plus a reference
// implementation usable without a loaded model.
package embedder

import (
	"hash/fnv"
	"math"
	"os"
	"strings"

	"github.com/riccardogiuriola/vecs/internal/logging"
)

// retrievalPrefix is prepended to every embedding input, matching the
// original implementation's instruction-tuned retrieval convention.
const retrievalPrefix = "Represent this sentence for searching relevant passages: "

// Embedder is the opaque text->vector capability the worker pool calls.
// Implementations must provide per-worker state so that concurrent
// calls with distinct workerId values do not interfere, and must write
// exactly Dim() finite floats to out, already unit-norm.
type Embedder interface {
	// Dim returns the fixed output dimension D.
	Dim() int
	// Embed writes Dim() finite floats to out for the given worker slot
	// and reports success. workerId is in [0, numWorkers).
	Embed(workerId int, text string, out []float32) bool
}

// HashEmbedder is a reference Embedder that needs no loaded model: it
// mean-pools a deterministic per-token hash projection and L2
// normalizes, mirroring the original's mean-pool + prefix + normalize
// pipeline without requiring an inference runtime. It is meant for
// environments where MODEL_PATH does not point at a real model file,
// or for tests.
type HashEmbedder struct {
	dim       int
	workers   int
	modelPath string
}

// NewHashEmbedder returns a HashEmbedder producing vectors of dimension
// dim. numWorkers is recorded only: Embed keeps no per-worker or shared
// mutable state, so concurrent callers do not interfere. modelPath is spec.md §6's MODEL_PATH value; HashEmbedder
// never loads it (it needs no model), but records it and logs whether
// it resolves to a real file, so a real inference-backed Embedder can
// later be swapped in against the same configuration surface.
func NewHashEmbedder(dim, numWorkers int, modelPath string) *HashEmbedder {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			logging.Warnf("embedder: MODEL_PATH %q not found, using hash-based reference embedder", modelPath)
		} else {
			logging.Infof("embedder: MODEL_PATH %q present but reference HashEmbedder does not load model weights", modelPath)
		}
	}
	return &HashEmbedder{dim: dim, workers: numWorkers, modelPath: modelPath}
}

func (e *HashEmbedder) Dim() int { return e.dim }

// ModelPath returns the MODEL_PATH this embedder was configured with.
func (e *HashEmbedder) ModelPath() string { return e.modelPath }

// Embed applies the retrieval prefix, splits on whitespace, hashes each
// token into a deterministic pseudo-embedding via FNV-1a seeded per
// dimension, mean-pools across tokens, and L2-normalizes with the same
// 1e-9 epsilon guard the original implementation uses.
func (e *HashEmbedder) Embed(workerId int, text string, out []float32) bool {
	if len(out) != e.dim {
		return false
	}
	input := retrievalPrefix + text
	tokens := strings.Fields(input)
	if len(tokens) == 0 {
		tokens = []string{""}
	}

	for i := range out {
		out[i] = 0
	}

	for _, tok := range tokens {
		for j := 0; j < e.dim; j++ {
			out[j] += tokenDimValue(tok, j)
		}
	}
	n := float32(len(tokens))
	for j := range out {
		out[j] /= n
	}

	var sumSq float32
	for _, v := range out {
		sumSq += v * v
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	if norm > 1e-9 {
		for j := range out {
			out[j] /= norm
		}
	}
	return true
}

// tokenDimValue deterministically maps (token, dimension) to a value in
// [-1, 1] via FNV-1a, giving token-sensitive but reproducible vectors
// without any model dependency.
func tokenDimValue(tok string, dim int) float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tok))
	var dimBuf [4]byte
	dimBuf[0] = byte(dim)
	dimBuf[1] = byte(dim >> 8)
	dimBuf[2] = byte(dim >> 16)
	dimBuf[3] = byte(dim >> 24)
	_, _ = h.Write(dimBuf[:])
	v := h.Sum32()
	return (float32(v%20001) - 10000) / 10000
}
