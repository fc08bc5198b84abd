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

package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_NormalizeLowercasesAndCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello,   World!!  "))
}

func Test_NormalizeStripsPunctuationKeepsAlnum(t *testing.T) {
	assert.Equal(t, "the answer is 42", Normalize("The Answer is... 42?!"))
}

func Test_NormalizeEmpty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("   !!!   "))
}

func Test_CompositeKey(t *testing.T) {
	assert.Equal(t, "a|b", CompositeKey("a", "b"))
}

func Test_HasNegation(t *testing.T) {
	assert.True(t, HasNegation("this is not correct"))
	assert.True(t, HasNegation("no it isnt"))
	assert.False(t, HasNegation("this is correct"))
}
