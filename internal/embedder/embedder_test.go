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

package embedder

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EmbedProducesUnitNormVector(t *testing.T) {
	e := NewHashEmbedder(8, 2, "")
	out := make([]float32, 8)
	ok := e.Embed(0, "what is the capital of france", out)
	require.True(t, ok)

	var sumSq float64
	for _, v := range out {
		require.False(t, math.IsNaN(float64(v)))
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-4)
}

func Test_EmbedIsDeterministic(t *testing.T) {
	e := NewHashEmbedder(8, 1, "")
	a := make([]float32, 8)
	b := make([]float32, 8)
	e.Embed(0, "hello world", a)
	e.Embed(0, "hello world", b)
	assert.Equal(t, a, b)
}

func Test_EmbedDiffersByText(t *testing.T) {
	e := NewHashEmbedder(8, 1, "")
	a := make([]float32, 8)
	b := make([]float32, 8)
	e.Embed(0, "hello world", a)
	e.Embed(0, "goodbye moon", b)
	assert.NotEqual(t, a, b)
}

func Test_EmbedRejectsWrongOutLen(t *testing.T) {
	e := NewHashEmbedder(8, 1, "")
	out := make([]float32, 4)
	assert.False(t, e.Embed(0, "x", out))
}

func Test_NewHashEmbedderRecordsModelPath(t *testing.T) {
	e := NewHashEmbedder(8, 1, "models/default_model.gguf")
	assert.Equal(t, "models/default_model.gguf", e.ModelPath())
}

func Test_EmbedConcurrentWorkersDoNotInterfere(t *testing.T) {
	e := NewHashEmbedder(16, 4, "")
	var wg sync.WaitGroup
	results := make([][]float32, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			out := make([]float32, 16)
			e.Embed(id, "same text for all workers", out)
			results[id] = out
		}(w)
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i])
	}
}
