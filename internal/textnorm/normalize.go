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

// Package textnorm lowercases, strips non-alphanumeric noise, and
// collapses whitespace runs so that semantically identical prompts
// produce identical L1 keys and comparable L2 embedding input.
package textnorm

import "unicode"

// Normalize lowercases s, drops everything that is not a letter/digit
// or whitespace, collapses runs of whitespace to a single space, and
// trims a trailing space.
func Normalize(s string) string {
	out := make([]rune, 0, len(s))
	spaceFound := false

	for _, r := range s {
		c := unicode.ToLower(r)
		switch {
		case unicode.IsSpace(c):
			if !spaceFound && len(out) > 0 {
				out = append(out, ' ')
				spaceFound = true
			}
		case unicode.IsLetter(c) || unicode.IsDigit(c):
			out = append(out, c)
			spaceFound = false
		}
	}

	if n := len(out); n > 0 && out[n-1] == ' ' {
		out = out[:n-1]
	}
	return string(out)
}

// CompositeKey builds the L1 lookup key from already-normalized prompt
// and params strings.
func CompositeKey(normalizedPrompt, normalizedParams string) string {
	return normalizedPrompt + "|" + normalizedParams
}

var negationTokens = []string{" non ", " no ", " not ", " never ", " mai "}

// HasNegation reports whether the padded, lowercased text contains any
// of the closed-list negation tokens, per the hybrid scoring rule.
func HasNegation(lowercased string) bool {
	padded := " " + lowercased + " "
	for _, tok := range negationTokens {
		if containsSubstring(padded, tok) {
			return true
		}
	}
	return false
}

func containsSubstring(s, sub string) bool {
	n, m := len(s), len(sub)
	if m == 0 || m > n {
		return m == 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return true
		}
	}
	return false
}
