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
	"fmt"
	"strings"
)

// Token is a single lexeme in a [Stream].
//
// Tokens are plain values; they refer back into the stream's text only through
// their offset.
type Token struct {
	Kind Kind
	// The text of this token, exactly as it appears in the source.
	Text string
	// Byte offset of this token within the stream's text.
	Offset int
	// For punctuation, whether the next token is punctuation that follows this
	// one with no intervening whitespace. This is how multi-character
	// operators like => and :: are recognized.
	Joint bool
	// For delimiters, the index of the matching delimiter within the stream.
	// For everything else, -1.
	Match int
}

// End returns the byte offset just past the end of this token.
func (t Token) End() int {
	return t.Offset + len(t.Text)
}

// IsZero returns whether this is the zero token, which is what a [Cursor]
// yields when it is exhausted.
func (t Token) IsZero() bool {
	return t.Kind == Unrecognized && t.Text == ""
}

// Is returns whether this token has the given kind and text.
func (t Token) Is(kind Kind, text string) bool {
	return t.Kind == kind && t.Text == text
}

// IsPunct returns whether this is the given single punctuation character.
func (t Token) IsPunct(text string) bool {
	return t.Is(Punct, text)
}

// IsIdent returns whether this is an identifier with the given text.
func (t Token) IsIdent(text string) bool {
	return t.Is(Ident, text)
}

// IsKeyword returns whether this is an identifier that is a reserved word.
func (t Token) IsKeyword() bool {
	return t.Kind == Ident && IsKeyword(t.Text)
}

// Name returns the identifier this token spells, with any r# prefix removed.
func (t Token) Name() string {
	return strings.TrimPrefix(t.Text, "r#")
}

// String implements [fmt.Stringer].
func (t Token) String() string {
	if t.IsZero() {
		return "<eof>"
	}
	return fmt.Sprintf("%v(%q)@%d", t.Kind, t.Text, t.Offset)
}

// Describe returns a short, human-readable description of this token, for
// use in diagnostics.
func (t Token) Describe() string {
	switch {
	case t.IsZero():
		return "end of input"
	case t.Kind == DocComment:
		return "doc comment"
	default:
		return fmt.Sprintf("`%s`", t.Text)
	}
}
