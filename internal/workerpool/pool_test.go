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

package workerpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riccardogiuriola/vecs/internal/embedder"
)

func Test_SubmitAndDrainCompletion(t *testing.T) {
	emb := embedder.NewHashEmbedder(8, 2, "")
	p, err := New(emb, 2, 16)
	require.NoError(t, err)
	defer p.Shutdown()

	require.NoError(t, p.Submit(&Job{Kind: Query, TextToEmbed: "hello", FD: 3, ConnID: 1}))

	var job *Job
	require.Eventually(t, func() bool {
		job = p.ReadCompleted()
		return job != nil
	}, time.Second, time.Millisecond)

	assert.True(t, job.Success)
	assert.Len(t, job.Vector, 8)
}

func Test_SubmitRejectsWhenQueueFull(t *testing.T) {
	emb := embedder.NewHashEmbedder(4, 1, "")
	p, err := New(emb, 0, 1)
	require.NoError(t, err)
	defer p.Shutdown()

	require.NoError(t, p.Submit(&Job{Kind: Set}))
	err = p.Submit(&Job{Kind: Set})
	assert.Equal(t, ErrQueueFull, err)
}

func Test_ReadCompletedNilWhenEmpty(t *testing.T) {
	emb := embedder.NewHashEmbedder(4, 1, "")
	p, err := New(emb, 1, 4)
	require.NoError(t, err)
	defer p.Shutdown()

	assert.Nil(t, p.ReadCompleted())
}

func Test_NotifyFDIsPollable(t *testing.T) {
	emb := embedder.NewHashEmbedder(4, 1, "")
	p, err := New(emb, 1, 4)
	require.NoError(t, err)
	defer p.Shutdown()

	assert.GreaterOrEqual(t, p.NotifyFD(), 0)
}
