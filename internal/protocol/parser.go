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

// Package protocol implements the length-prefixed array wire protocol:
// a resumable parser state machine over a DynBuf, and response
// formatting helpers.
package protocol

import (
	"errors"

	"github.com/riccardogiuriola/vecs/internal/buf"
)

// maxArgc is the implementation ceiling on array element count; the
// wire format allows arbitrarily large counts but a real request never
// needs more than a handful of bulk arguments.
const maxArgc = 256

// Continue is returned when the buffer holds an incomplete command;
// the caller should wait for more bytes and call Execute again.
var Continue = errors.New("protocol: need more data")

// ErrProtocol is returned once the parser has permanently transitioned
// to its Error state; the caller must close the connection.
var ErrProtocol = errors.New("protocol: malformed request")

type state int

const (
	stateInit state = iota
	stateArgc
	stateDollar
	stateBulkLen
	stateBulkData
	stateError
)

// Parser is a resumable state machine over a DynBuf, mirroring the
// original implementation's vsp_parser state transitions
// (Init -> Argc -> BulkLen -> BulkData, looping per argument).
type Parser struct {
	st     state
	argc   int
	argIdx int
	bulkLn int
	argv   [][]byte
}

// New returns a fresh parser in its Init state.
func New() *Parser {
	return &Parser{st: stateInit}
}

func (p *Parser) reset() {
	p.st = stateInit
	p.argc = 0
	p.argIdx = 0
	p.bulkLn = 0
	p.argv = nil
}

// Execute advances the parser as far as the buffered bytes in b allow.
// It returns (argv, nil) for one fully parsed command, consuming
// exactly those bytes from b; (nil, Continue) if b holds an incomplete
// command (nothing is consumed beyond whatever full sub-tokens were
// already read); or (nil, ErrProtocol) once malformed input is found,
// after which the parser must not be reused.
func (p *Parser) Execute(b *buf.DynBuf) ([][]byte, error) {
	if p.st == stateError {
		return nil, ErrProtocol
	}

	for {
		switch p.st {
		case stateInit:
			head, ok := b.Peek(1)
			if !ok {
				return nil, Continue
			}
			if head[0] != '*' {
				p.st = stateError
				return nil, ErrProtocol
			}
			b.Consume(1)
			p.st = stateArgc

		case stateArgc:
			line, err := b.Line()
			if err != nil {
				return nil, Continue
			}
			n, ok := parseInt(line)
			if !ok || n <= 0 || n > maxArgc {
				p.st = stateError
				return nil, ErrProtocol
			}
			p.argc = n
			p.argIdx = 0
			p.argv = make([][]byte, n)
			p.st = stateDollar

		case stateDollar:
			head, ok := b.Peek(1)
			if !ok {
				return nil, Continue
			}
			if head[0] != '$' {
				p.st = stateError
				return nil, ErrProtocol
			}
			b.Consume(1)
			p.st = stateBulkLen

		case stateBulkLen:
			line, err := b.Line()
			if err != nil {
				return nil, Continue
			}
			n, ok := parseInt(line)
			if !ok || n < 0 {
				p.st = stateError
				return nil, ErrProtocol
			}
			p.bulkLn = n
			p.st = stateBulkData

		case stateBulkData:
			data, ok := b.Peek(p.bulkLn + 2)
			if !ok {
				return nil, Continue
			}
			if data[p.bulkLn] != '\r' || data[p.bulkLn+1] != '\n' {
				p.st = stateError
				return nil, ErrProtocol
			}
			owned := make([]byte, p.bulkLn)
			copy(owned, data[:p.bulkLn])
			p.argv[p.argIdx] = owned
			b.Consume(p.bulkLn + 2)
			p.argIdx++

			if p.argIdx == p.argc {
				out := p.argv
				p.reset()
				return out, nil
			}
			p.st = stateDollar

		default:
			return nil, ErrProtocol
		}
	}
}

func parseInt(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	neg := false
	i := 0
	if b[0] == '-' {
		neg = true
		i = 1
	}
	if i >= len(b) {
		return 0, false
	}
	n := 0
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, false
		}
		n = n*10 + int(b[i]-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}
