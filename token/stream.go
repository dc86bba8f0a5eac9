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

package token

import (
	"iter"
	"slices"

	"github.com/bufbuild/macroexpand/report"
)

// Stream is the lexed form of some text: a flat sequence of tokens, in which
// every delimiter knows the index of its partner.
//
// Whitespace and ordinary comments are not part of the stream; the gaps
// between token offsets is where they used to be.
type Stream struct {
	Text   string
	File   *report.File
	Tokens []Token
}

// Len returns the number of tokens in this stream.
func (s *Stream) Len() int {
	return len(s.Tokens)
}

// At returns the token at the given index, or the zero token if out of bounds.
func (s *Stream) At(i int) Token {
	if i < 0 || i >= len(s.Tokens) {
		return Token{}
	}
	return s.Tokens[i]
}

// All returns an iterator over all tokens in this stream.
func (s *Stream) All() iter.Seq2[int, Token] {
	return slices.All(s.Tokens)
}

// Cursor returns a new cursor over the whole stream.
func (s *Stream) Cursor() *Cursor {
	return s.Slice(0, len(s.Tokens))
}

// Slice returns a new cursor over the tokens in [start, end).
func (s *Stream) Slice(start, end int) *Cursor {
	return &Cursor{stream: s, start: start, end: end, idx: start}
}

// Span returns the text covered by tokens in [start, end), including any
// whitespace between them.
//
// Returns the byte offsets of the span along with the text. An empty token
// range produces an empty span positioned at the next token.
func (s *Stream) Span(start, end int) (offset int, text string) {
	if start >= end {
		if start < len(s.Tokens) {
			offset = s.Tokens[start].Offset
		} else {
			offset = len(s.Text)
		}
		return offset, ""
	}
	offset = s.Tokens[start].Offset
	return offset, s.Text[offset:s.Tokens[end-1].End()]
}

// SpanOf returns a diagnostic span covering tokens in [start, end).
func (s *Stream) SpanOf(start, end int) report.Span {
	offset, text := s.Span(start, end)
	file := s.File
	if file == nil {
		file = report.NewFile("", s.Text)
		s.File = file
	}
	return report.Span{File: file, Start: offset, End: offset + len(text)}
}
