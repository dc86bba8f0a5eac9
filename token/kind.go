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

import "fmt"

const (
	Unrecognized Kind = iota // Unrecognized garbage in the input text.

	Ident      // An identifier or keyword, including raw identifiers like r#type.
	Lifetime   // A lifetime or label, like 'a.
	Number     // An integer or float literal, including any suffix.
	String     // A string literal, possibly raw or byte-prefixed.
	Char       // A character or byte literal.
	Punct      // A single punctuation character.
	Open       // An opening delimiter: one of ( [ {.
	Close      // A closing delimiter: one of ) ] }.
	DocComment // A documentation comment, either outer (///) or inner (//!).
)

// Kind identifies what kind of token a particular [Token] is.
type Kind byte

// IsLiteral returns whether this kind is a literal kind.
func (k Kind) IsLiteral() bool {
	return k == Number || k == String || k == Char
}

// IsDelimiter returns whether this is an opening or closing delimiter.
func (k Kind) IsDelimiter() bool {
	return k == Open || k == Close
}

// String implements [fmt.Stringer].
func (k Kind) String() string {
	switch k {
	case Unrecognized:
		return "Unrecognized"
	case Ident:
		return "Ident"
	case Lifetime:
		return "Lifetime"
	case Number:
		return "Number"
	case String:
		return "String"
	case Char:
		return "Char"
	case Punct:
		return "Punct"
	case Open:
		return "Open"
	case Close:
		return "Close"
	case DocComment:
		return "DocComment"
	default:
		return fmt.Sprintf("token.Kind(%d)", int(k))
	}
}
