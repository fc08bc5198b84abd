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

package buf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_AppendAndConsume(t *testing.T) {
	b := New()
	defer b.Release()

	b.AppendString("hello")
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, []byte("hello"), b.Bytes())

	b.Consume(2)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []byte("llo"), b.Bytes())
}

func Test_PeekShortReturnsFalse(t *testing.T) {
	b := New()
	defer b.Release()

	b.AppendString("ab")
	_, ok := b.Peek(5)
	assert.False(t, ok)

	got, ok := b.Peek(2)
	assert.True(t, ok)
	assert.Equal(t, []byte("ab"), got)
}

func Test_LineNeedsMore(t *testing.T) {
	b := New()
	defer b.Release()

	b.AppendString("*2\r\n$3\r\nfoo")
	line, err := b.Line()
	assert.NoError(t, err)
	assert.Equal(t, []byte("*2"), line)

	line, err = b.Line()
	assert.NoError(t, err)
	assert.Equal(t, []byte("$3"), line)

	_, err = b.Line()
	assert.Equal(t, ErrLFNotFound, err)

	b.AppendString("\r\n")
	line, err = b.Line()
	assert.NoError(t, err)
	assert.Equal(t, []byte("foo"), line)
	assert.Equal(t, 0, b.Len())
}

func Test_GrowBeyondInitialCapacity(t *testing.T) {
	b := New()
	defer b.Release()

	big := make([]byte, minGrow*3)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	b.AppendBytes(big)
	assert.Equal(t, len(big), b.Len())
	assert.Equal(t, big, b.Bytes())
}

func Test_ConsumeCompactsBuffer(t *testing.T) {
	b := New()
	defer b.Release()

	b.AppendString("0123456789")
	b.Consume(10)
	assert.Equal(t, 0, b.Len())

	b.AppendString("next")
	assert.Equal(t, []byte("next"), b.Bytes())
}
