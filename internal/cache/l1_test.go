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

package cache

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/riccardogiuriola/vecs/internal/stats"
)

func Test_SetGet(t *testing.T) {
	c := NewL1()
	c.Set("k", "v", time.Minute)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func Test_GetMissing(t *testing.T) {
	c := NewL1()
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func Test_SetOverwritesAndRefreshesExpiry(t *testing.T) {
	c := NewL1()
	c.Set("k", "v1", time.Minute)
	c.Set("k", "v2", time.Minute)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, c.Len())
}

func Test_ExpiredEntryIsMiss(t *testing.T) {
	c := NewL1()
	c.Set("k", "v", -time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func Test_Delete(t *testing.T) {
	c := NewL1()
	c.Set("k", "v", time.Minute)
	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func Test_Clear(t *testing.T) {
	c := NewL1()
	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func Test_EachSkipsExpired(t *testing.T) {
	c := NewL1()
	c.Set("live", "v", time.Minute)
	c.Set("dead", "v", -time.Second)

	var seen []string
	c.Each(func(se SnapshotEntry) {
		seen = append(seen, se.Key)
	})
	assert.Equal(t, []string{"live"}, seen)
}

func Test_ExpiredGetIncrementsL1ExactExpiry(t *testing.T) {
	st := stats.New("vecs_test_l1_expiry")
	c := NewL1()
	c.SetStats(st)

	c.Set("k", "v", -time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(st.L1ExactExpiry))
}

func Test_DeleteDoesNotIncrementL1ExactExpiry(t *testing.T) {
	st := stats.New("vecs_test_l1_delete")
	c := NewL1()
	c.SetStats(st)

	c.Set("k", "v", time.Minute)
	assert.True(t, c.Delete("k"))
	assert.Equal(t, float64(0), testutil.ToFloat64(st.L1ExactExpiry))
}

func Test_BucketCollisionsChainCorrectly(t *testing.T) {
	c := NewL1WithBuckets(1)
	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)
	c.Set("c", "3", time.Minute)
	assert.Equal(t, 3, c.Len())

	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	assert.True(t, c.Delete("a"))
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}
