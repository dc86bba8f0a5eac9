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
	"maps"
	"slices"

	"github.com/bufbuild/macroexpand/rangemap"
)

// Kind distinguishes ordinary macro_rules! definitions from the built-in
// macros, which bypass pattern matching altogether.
type Kind int8

const (
	Declarative Kind = iota // A macro_rules! macro.

	BuiltinInclude    // include!("path")
	BuiltinLazyStatic // lazy_static! { static ref X: T = e; }
	BuiltinEnv        // env!("NAME")
	BuiltinStringify  // stringify!(tokens)
	BuiltinConcat     // concat!(literals)
)

var builtins = map[string]Kind{
	"include":     BuiltinInclude,
	"lazy_static": BuiltinLazyStatic,
	"env":         BuiltinEnv,
	"stringify":   BuiltinStringify,
	"concat":      BuiltinConcat,
}

// String implements [fmt.Stringer].
func (k Kind) String() string {
	if k == Declarative {
		return "macro_rules"
	}
	for name, kind := range builtins {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// UsesEnv returns whether expansions of this kind of macro depend on the
// call's environment, and thus must mix it into their cache key.
func (k Kind) UsesEnv() bool {
	return k == BuiltinEnv
}

// ReadsFiles returns whether expansions of this kind of macro depend on the
// contents of other files. Nothing about the call identifies those
// contents, so such expansions must not be cached by call.
func (k Kind) ReadsFiles() bool {
	return k == BuiltinInclude
}

// Definition is a macro definition.
//
// Definitions are immutable once created.
type Definition struct {
	Name string
	Kind Kind
	// For declarative macros, the text between the braces of
	// macro_rules! name { ... }.
	Body string
	// Content hash of the kind and body, which identifies this definition in
	// caches.
	Hash Hash
}

// NewDefinition returns a declarative macro definition with the given body.
func NewDefinition(name, body string) *Definition {
	return &Definition{
		Name: name,
		Kind: Declarative,
		Body: body,
		Hash: HashOf("macro_rules", body),
	}
}

// Builtin returns the definition of the built-in macro with the given name,
// if there is one.
func Builtin(name string) (*Definition, bool) {
	kind, ok := builtins[name]
	if !ok {
		return nil, false
	}
	return &Definition{Name: name, Kind: kind, Hash: HashOf("builtin", name)}, true
}

// BuiltinNames returns the names of all built-in macros, sorted.
func BuiltinNames() []string {
	return slices.Sorted(maps.Keys(builtins))
}

// Call is a single macro invocation.
type Call struct {
	Name string
	// The text between the call's delimiters.
	Body string
	// The file containing the call, used to resolve include! paths and to
	// label diagnostics.
	Path string
	// Environment visible to the call, for macros whose kind uses it.
	Env map[string]string
}

// Hash returns the content hash of the call body.
func (c *Call) Hash() Hash {
	return HashOf(c.Body)
}

// Expansion is the result of expanding a single macro call.
type Expansion struct {
	Text string
	// Maps offsets in Text to offsets in the call body.
	Ranges rangemap.RangeMap
}
