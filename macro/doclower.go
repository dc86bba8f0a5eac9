// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package macro

import (
	"github.com/bufbuild/macroexpand/rangemap"
	"github.com/bufbuild/macroexpand/token"
)

// LowerDocComments rewrites every doc comment in text into the equivalent
// doc attribute: /// x becomes #[doc = " x"], and //! x becomes
// #![doc = " x"]. Block doc comments are rewritten the same way.
//
// Returns the rewritten text and a map from it back to text. Everything
// outside of doc comments is mapped, as is the content of each comment when
// it needed no escaping. If text contains no doc comments, returns it
// unchanged with changed == false.
func LowerDocComments(text string) (lowered string, ranges rangemap.RangeMap, changed bool) {
	stream, err := token.LexString(text)
	if err != nil {
		// Leave reporting the problem to whoever lexes text next.
		return text, rangemap.RangeMap{}, false
	}

	var b rangemap.Builder
	prev := 0
	for _, tok := range stream.All() {
		if tok.Kind != token.DocComment {
			continue
		}
		changed = true
		b.AppendMapped(text[prev:tok.Offset], prev)

		inner, content := docContent(tok.Text)
		if inner {
			b.AppendUnmapped(`#![doc = "`)
		} else {
			b.AppendUnmapped(`#[doc = "`)
		}
		if escaped := escapeDoc(content); escaped == content {
			b.AppendMapped(content, tok.Offset+3)
		} else {
			b.AppendUnmapped(escaped)
		}
		b.AppendUnmapped(`"]`)
		prev = tok.End()
	}
	if !changed {
		return text, rangemap.RangeMap{}, false
	}
	b.AppendMapped(text[prev:], prev)

	lowered, ranges = b.Finish()
	return lowered, ranges, true
}
