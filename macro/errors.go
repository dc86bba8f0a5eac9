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
	"fmt"

	"github.com/bufbuild/macroexpand/fragment"
	"github.com/bufbuild/macroexpand/report"
	"github.com/bufbuild/macroexpand/token"
)

// PatternErrorKind enumerates the ways a macro definition's patterns can be
// malformed.
type PatternErrorKind int8

const (
	UnknownFragment     PatternErrorKind = iota + 1 // $x:bogus
	MissingFragmentKind                             // $x with no :kind in a pattern.
	MalformedGroup                                  // $( ... ) without a repetition operator, and the like.
	DuplicateVariable                               // $x bound twice at the same depth.
	Nesting                                         // $x bound at two different depths.
)

// PatternError is a problem with a macro definition. A definition with a
// pattern error cannot expand at all until its body changes.
type PatternError struct {
	Kind PatternErrorKind
	Span report.Span
	Name string // The variable or fragment specifier involved, if any.
}

var _ report.Diagnose = (*PatternError)(nil)

// Error implements [error].
func (e *PatternError) Error() string {
	return "macro definition: " + e.message()
}

func (e *PatternError) message() string {
	switch e.Kind {
	case UnknownFragment:
		return fmt.Sprintf("unknown fragment specifier `%s`", e.Name)
	case MissingFragmentKind:
		return fmt.Sprintf("missing fragment specifier for `$%s`", e.Name)
	case MalformedGroup:
		return "malformed macro group"
	case DuplicateVariable:
		return fmt.Sprintf("duplicate matcher binding `$%s`", e.Name)
	case Nesting:
		return fmt.Sprintf("`$%s` is bound at more than one repetition depth", e.Name)
	default:
		return "invalid pattern"
	}
}

// Diagnose implements [report.Diagnose].
func (e *PatternError) Diagnose(d *report.Diagnostic) {
	d.With(
		report.Tag("pattern-error"),
		report.Message("%s", e.message()),
		report.Snippet(e.Span),
	)
	if e.Kind == UnknownFragment {
		d.With(report.Help("valid fragment specifiers are ident, path, expr, ty, pat, stmt, block, item, meta, tt, vis, literal, and lifetime"))
	}
}

// MatchErrorKind enumerates the ways matching a call against a definition
// can fail.
type MatchErrorKind int8

const (
	PatternSyntax       MatchErrorKind = iota + 1 // The definition's cases are not well-formed.
	ExtraInput                                    // A case matched, but input was left over.
	UnmatchedToken                                // A literal token did not match.
	FragmentNotParsed                             // A fragment of the required kind was not found.
	EmptyGroup                                    // A repetition matched without consuming anything.
	TooFewGroupElements                           // A + repetition matched zero times.
	NestingMismatch                               // Captures disagree about repetition depth.
)

// String implements [fmt.Stringer].
func (k MatchErrorKind) String() string {
	switch k {
	case PatternSyntax:
		return "PatternSyntax"
	case ExtraInput:
		return "ExtraInput"
	case UnmatchedToken:
		return "UnmatchedToken"
	case FragmentNotParsed:
		return "FragmentNotParsed"
	case EmptyGroup:
		return "EmptyGroup"
	case TooFewGroupElements:
		return "TooFewGroupElements"
	case NestingMismatch:
		return "Nesting"
	default:
		return fmt.Sprintf("MatchErrorKind(%d)", int(k))
	}
}

// MatchError is a failure to match a call against any case of a definition.
// It is recoverable: the call simply has no expansion.
type MatchError struct {
	Kind MatchErrorKind
	// Where in the call body matching failed.
	Span report.Span
	// The token that was found, for UnmatchedToken and FragmentNotParsed.
	Actual token.Token
	// The literal that was expected, for UnmatchedToken.
	Expected string
	// The fragment kind that was expected, for FragmentNotParsed.
	Fragment fragment.Kind
	// The variable involved, for NestingMismatch.
	Name string
	// Which case of the definition produced this error.
	Case int
	// The underlying error, for PatternSyntax and TooFewGroupElements.
	Cause error

	progress int // Token index at which matching failed.
}

var _ report.Diagnose = (*MatchError)(nil)

// Error implements [error].
func (e *MatchError) Error() string {
	return "macro call: " + e.message()
}

// Unwrap returns the underlying error, if any.
func (e *MatchError) Unwrap() error {
	return e.Cause
}

func (e *MatchError) message() string {
	switch e.Kind {
	case PatternSyntax:
		if e.Cause != nil {
			return fmt.Sprintf("macro definition is malformed: %v", e.Cause)
		}
		return "macro definition is malformed"
	case ExtraInput:
		return fmt.Sprintf("no rules expected %s", e.Actual.Describe())
	case UnmatchedToken:
		return fmt.Sprintf("expected `%s`, found %s", e.Expected, e.Actual.Describe())
	case FragmentNotParsed:
		return fmt.Sprintf("expected %v fragment, found %s", e.Fragment, e.Actual.Describe())
	case EmptyGroup:
		return "repetition matches empty token tree"
	case TooFewGroupElements:
		return "expected at least one repetition"
	case NestingMismatch:
		return fmt.Sprintf("variable `$%s` is still repeating at this depth", e.Name)
	default:
		return "no rules matched"
	}
}

// Diagnose implements [report.Diagnose].
func (e *MatchError) Diagnose(d *report.Diagnostic) {
	d.With(
		report.Tag("match-error"),
		report.Message("%s", e.message()),
		report.Snippet(e.Span),
		report.Note("while trying to match case %d", e.Case+1),
	)
}

// TemplateErrorKind enumerates the ways transcribing a template can fail.
type TemplateErrorKind int8

const (
	UndeclaredVariable TemplateErrorKind = iota + 1 // $x was never bound.
	DepthMismatch                                   // $x is used at a shallower depth than it was bound.
	NoRepetition                                    // $( ... )* mentions no repeating variable.
	RepetitionMismatch                              // Variables in one group repeat a different number of times.
)

// TemplateError is a problem with a definition's template, discovered while
// expanding a particular call. Like [MatchError], it only affects that call.
type TemplateError struct {
	Kind TemplateErrorKind
	Span report.Span // In the definition.
	Name string
}

var _ report.Diagnose = (*TemplateError)(nil)

// Error implements [error].
func (e *TemplateError) Error() string {
	return "macro template: " + e.message()
}

func (e *TemplateError) message() string {
	switch e.Kind {
	case UndeclaredVariable:
		return fmt.Sprintf("unknown macro variable `$%s`", e.Name)
	case DepthMismatch:
		return fmt.Sprintf("variable `$%s` is still repeating at this depth", e.Name)
	case NoRepetition:
		return "attempted to repeat an expression containing no syntax variables matched as repeating at this depth"
	case RepetitionMismatch:
		return fmt.Sprintf("meta-variable `$%s` repeats a different number of times than its siblings", e.Name)
	default:
		return "invalid template"
	}
}

// Diagnose implements [report.Diagnose].
func (e *TemplateError) Diagnose(d *report.Diagnostic) {
	d.With(
		report.Tag("def-syntax"),
		report.Message("%s", e.message()),
		report.Snippet(e.Span),
	)
}

// RecursionLimitError is returned when expanding macros inside of expansions
// nests deeper than the configured limit.
type RecursionLimitError struct {
	Name  string // The macro whose expansion hit the limit.
	Limit int
}

var _ report.Diagnose = (*RecursionLimitError)(nil)

// Error implements [error].
func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion limit of %d reached while expanding `%s!`", e.Limit, e.Name)
}

// Diagnose implements [report.Diagnose].
func (e *RecursionLimitError) Diagnose(d *report.Diagnostic) {
	d.With(
		report.Tag("recursion-limit"),
		report.Message("%s", e.Error()),
		report.Help("consider raising expansion.recursion_limit"),
	)
}

// ExpansionLimitError is returned when expanding macros inside of expansions
// takes more expansions in total than the configured limit.
type ExpansionLimitError struct {
	Name  string // The macro whose expansion hit the limit.
	Limit int
}

var _ report.Diagnose = (*ExpansionLimitError)(nil)

// Error implements [error].
func (e *ExpansionLimitError) Error() string {
	return fmt.Sprintf("expansion limit of %d reached while expanding `%s!`", e.Limit, e.Name)
}

// Diagnose implements [report.Diagnose].
func (e *ExpansionLimitError) Diagnose(d *report.Diagnostic) {
	d.With(
		report.Tag("expansion-limit"),
		report.Message("%s", e.Error()),
		report.Help("consider raising expansion.expansion_limit"),
	)
}

// BuiltinError is a failure to expand a built-in macro, such as a missing
// include! file or an unset env! variable.
type BuiltinError struct {
	Macro   string
	Problem string
	Span    report.Span // In the call body.
	Cause   error
}

var _ report.Diagnose = (*BuiltinError)(nil)

// Error implements [error].
func (e *BuiltinError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s!: %s: %v", e.Macro, e.Problem, e.Cause)
	}
	return fmt.Sprintf("%s!: %s", e.Macro, e.Problem)
}

// Unwrap returns the underlying error, if any.
func (e *BuiltinError) Unwrap() error {
	return e.Cause
}

// Diagnose implements [report.Diagnose].
func (e *BuiltinError) Diagnose(d *report.Diagnostic) {
	d.With(
		report.Tag("builtin-error"),
		report.Message("%s", e.Error()),
		report.Snippet(e.Span),
	)
}
