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

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riccardogiuriola/vecs/internal/buf"
)

func Test_ExecuteFullCommand(t *testing.T) {
	b := buf.New()
	defer b.Release()
	b.AppendString("*2\r\n$3\r\nSET\r\n$3\r\nfoo\r\n")

	p := New()
	argv, err := p.Execute(b)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("SET"), []byte("foo")}, argv)
	assert.Equal(t, 0, b.Len())
}

func Test_ExecuteResumesAcrossPartialWrites(t *testing.T) {
	b := buf.New()
	defer b.Release()
	p := New()

	b.AppendString("*1\r\n$5\r\nhe")
	argv, err := p.Execute(b)
	assert.Nil(t, argv)
	assert.Equal(t, Continue, err)

	b.AppendString("llo\r\n")
	argv, err = p.Execute(b)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("hello")}, argv)
}

func Test_ExecuteResumesBetweenDollarAndLength(t *testing.T) {
	b := buf.New()
	defer b.Release()
	p := New()

	b.AppendString("*1\r\n$")
	_, err := p.Execute(b)
	assert.Equal(t, Continue, err)

	b.AppendString("3\r\nfoo\r\n")
	argv, err := p.Execute(b)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("foo")}, argv)
}

func Test_ExecuteMultipleArgs(t *testing.T) {
	b := buf.New()
	defer b.Release()
	p := New()

	b.AppendString("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")
	argv, err := p.Execute(b)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("SET"), []byte("k"), []byte("v")}, argv)
}

func Test_ExecuteRejectsBadLeadByte(t *testing.T) {
	b := buf.New()
	defer b.Release()
	b.AppendString("#2\r\n")

	p := New()
	_, err := p.Execute(b)
	assert.Equal(t, ErrProtocol, err)

	_, err = p.Execute(b)
	assert.Equal(t, ErrProtocol, err)
}

func Test_ExecuteRejectsZeroArgc(t *testing.T) {
	b := buf.New()
	defer b.Release()
	b.AppendString("*0\r\n")

	p := New()
	_, err := p.Execute(b)
	assert.Equal(t, ErrProtocol, err)
}

func Test_ExecuteRejectsArgcOverCeiling(t *testing.T) {
	b := buf.New()
	defer b.Release()
	b.AppendString("*9999\r\n")

	p := New()
	_, err := p.Execute(b)
	assert.Equal(t, ErrProtocol, err)
}

func Test_ExecuteRejectsMissingTrailingCRLF(t *testing.T) {
	b := buf.New()
	defer b.Release()
	b.AppendString("*1\r\n$3\r\nfooXX")

	p := New()
	_, err := p.Execute(b)
	assert.Equal(t, ErrProtocol, err)
}

func Test_ExecuteHandlesSequentialCommands(t *testing.T) {
	b := buf.New()
	defer b.Release()
	p := New()

	b.AppendString("*1\r\n$1\r\na\r\n*1\r\n$1\r\nb\r\n")
	argv, err := p.Execute(b)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a")}, argv)

	argv, err = p.Execute(b)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b")}, argv)
}
