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

package fragment

import "fmt"

// Kind is the syntactic category a macro pattern variable captures, as in
// $x:expr.
//
// Kind is a closed enum: every switch over it in this module is exhaustive,
// and panics on values outside of the constants below.
type Kind int8

const (
	Invalid Kind = iota

	Ident    // An identifier; keywords other than _ are accepted too.
	Path     // A type-style path, like a::b<C>.
	Expr     // An expression.
	Ty       // A type.
	Pat      // A pattern, including top-level alternations.
	Stmt     // A statement, without its trailing semicolon.
	Block    // A braced block.
	Item     // An item, such as a function or struct declaration.
	Meta     // The contents of an attribute.
	TT       // A single token tree.
	Vis      // A possibly-empty visibility qualifier.
	Literal  // A literal, optionally negated.
	Lifetime // A lifetime, like 'a.

	kindCount
)

var names = [...]string{
	Invalid:  "<invalid>",
	Ident:    "ident",
	Path:     "path",
	Expr:     "expr",
	Ty:       "ty",
	Pat:      "pat",
	Stmt:     "stmt",
	Block:    "block",
	Item:     "item",
	Meta:     "meta",
	TT:       "tt",
	Vis:      "vis",
	Literal:  "literal",
	Lifetime: "lifetime",
}

// Lookup returns the kind for a fragment specifier, as it appears after the
// colon in $x:spec.
func Lookup(spec string) (Kind, bool) {
	for k := Ident; k < kindCount; k++ {
		if names[k] == spec {
			return k, true
		}
	}
	return Invalid, false
}

// String implements [fmt.Stringer].
func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("fragment.Kind(%d)", int(k))
	}
	return names[k]
}

// MayBeEmpty returns whether a fragment of this kind may legitimately match
// zero tokens.
func (k Kind) MayBeEmpty() bool {
	return k == Vis
}
