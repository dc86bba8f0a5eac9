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

// Package macro implements macro-by-example expansion: compiling
// macro_rules! definitions into matchers and templates, matching calls
// against them, and transcribing the result.
//
// # Expansion
//
// An [Expander] takes a [Definition] and a [Call] and produces an
// [Expansion]: the expanded text, and a [rangemap.RangeMap] recording which
// parts of it were copied from the call body. Expansion happens in three
// steps.
//
//  1. The definition is compiled into [Rules], one pattern and one template
//     per case. Patterns are trees of [Matcher]s. Compiled rules are kept
//     by a [Compiler], keyed by the definition's content hash.
//  2. The call body is matched against each case in turn. The first case
//     that consumes the whole body wins, producing [Bindings]. If none
//     does, the error from the case that got furthest is reported.
//  3. The winning case's template is replayed with the bindings pasted in.
//
// Built-in macros such as include! and lazy_static! are not declarative:
// they are recognized by [Definition.Kind] and never reach the compiler.
//
// # Errors
//
// Nothing in this package panics on bad input. A definition that does not
// compile, or a call that does not match, produces one of the error types
// in this package, each of which implements [report.Diagnose]. Such errors
// are local to the call: other calls to other macros are unaffected.
package macro
