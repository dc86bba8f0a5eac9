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

package rangemap

import "strings"

// Builder accumulates expansion text together with its range map.
//
// A zero Builder is ready to use.
type Builder struct {
	text   strings.Builder
	ranges []Range
}

// Len returns the number of bytes written so far.
func (b *Builder) Len() int {
	return b.text.Len()
}

// String returns the text written so far.
func (b *Builder) String() string {
	return b.text.String()
}

// LastByte returns the last byte written, or zero if nothing has been.
func (b *Builder) LastByte() byte {
	s := b.text.String()
	if s == "" {
		return 0
	}
	return s[len(s)-1]
}

// AppendUnmapped appends text that has no origin in the source, such as text
// supplied by a macro definition.
func (b *Builder) AppendUnmapped(text string) {
	b.text.WriteString(text)
}

// AppendMapped appends text that was copied verbatim from the source at
// srcOffset.
func (b *Builder) AppendMapped(text string, srcOffset int) {
	if text != "" {
		b.ranges = append(b.ranges, Range{Src: srcOffset, Dst: b.text.Len(), Len: len(text)})
	}
	b.text.WriteString(text)
}

// AppendMap appends text that is itself the product of an earlier mapping:
// m maps a piece of the source starting at srcOffset into text, and its
// ranges are carried over shifted to where text lands.
func (b *Builder) AppendMap(text string, m RangeMap, srcOffset int) {
	dst := b.text.Len()
	for r := range m.All() {
		r.Src += srcOffset
		r.Dst += dst
		b.ranges = append(b.ranges, r)
	}
	b.text.WriteString(text)
}

// Finish returns the accumulated text and its range map.
func (b *Builder) Finish() (string, RangeMap) {
	return b.text.String(), New(b.ranges...)
}
