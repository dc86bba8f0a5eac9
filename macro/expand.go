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
	"context"
	"errors"

	"github.com/bufbuild/macroexpand/report"
	"github.com/bufbuild/macroexpand/token"
)

// DefaultRecursionLimit is how deeply [Expander.ExpandRecursive] follows
// macro calls inside expansions, unless told otherwise.
const DefaultRecursionLimit = 128

// DefaultExpansionLimit is how many expansions a single call to
// [Expander.ExpandRecursive] may perform in total, unless told otherwise.
const DefaultExpansionLimit = 1 << 16

// Expander expands macro calls. It remembers compiled definitions, so one
// Expander should be shared by everything expanding calls in a session.
//
// An Expander is safe for concurrent use.
type Expander struct {
	compiler       Compiler
	loader         FileLoader
	recursionLimit int
	expansionLimit int
}

// ExpanderOption configures an [Expander].
type ExpanderOption func(*Expander)

// WithFileLoader sets the loader include! reads files through. Without one,
// include! always fails.
func WithFileLoader(loader FileLoader) ExpanderOption {
	return func(e *Expander) { e.loader = loader }
}

// WithRecursionLimit sets how deeply [Expander.ExpandRecursive] may nest.
// Values below one are ignored.
func WithRecursionLimit(limit int) ExpanderOption {
	return func(e *Expander) {
		if limit > 0 {
			e.recursionLimit = limit
		}
	}
}

// WithExpansionLimit sets how many expansions [Expander.ExpandRecursive] may
// perform in total, counting every nested call. Values below one are ignored.
func WithExpansionLimit(limit int) ExpanderOption {
	return func(e *Expander) {
		if limit > 0 {
			e.expansionLimit = limit
		}
	}
}

// NewExpander returns a new expander.
func NewExpander(opts ...ExpanderOption) *Expander {
	e := &Expander{
		recursionLimit: DefaultRecursionLimit,
		expansionLimit: DefaultExpansionLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compiler returns the compiler this expander caches definitions in.
func (e *Expander) Compiler() *Compiler {
	return &e.compiler
}

// Expand expands a single call to def. Macro calls inside the result are
// left alone.
//
// Failures are returned as one of [*MatchError], [*TemplateError], or
// [*BuiltinError]; a definition that does not compile produces a
// [*MatchError] wrapping the [*PatternError] that explains why. Expand also
// returns ctx.Err() if ctx is cancelled while matching.
func (e *Expander) Expand(ctx context.Context, def *Definition, call *Call) (*Expansion, error) {
	if def.Kind != Declarative {
		return e.expandBuiltin(ctx, def, call)
	}

	rules, err := e.compiler.Compile(def)
	if err != nil {
		return nil, asMatchError(err)
	}

	// Doc comments in the call body are matched as the attributes they stand
	// for.
	body, docs, lowered := LowerDocComments(call.Body)
	input, err := token.Lex(report.NewFile(call.Path, body))
	if err != nil {
		return nil, err
	}

	caseIdx, bindings, err := rules.Match(ctx, input)
	if err != nil {
		return nil, err
	}
	exp, err := rules.Transcribe(caseIdx, bindings)
	if err != nil {
		return nil, err
	}
	if lowered {
		exp.Ranges = docs.MapAll(exp.Ranges)
	}
	return exp, nil
}

// asMatchError converts a compilation failure into the matching error that a
// call to the broken definition reports.
func asMatchError(err error) error {
	var me *MatchError
	if errors.As(err, &me) {
		return me
	}
	var pe *PatternError
	if errors.As(err, &pe) && pe.Kind == Nesting {
		return &MatchError{Kind: NestingMismatch, Span: pe.Span, Name: pe.Name, Cause: pe}
	}
	return &MatchError{Kind: PatternSyntax, Cause: err}
}
