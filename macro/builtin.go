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
	"strconv"
	"strings"

	"github.com/bufbuild/macroexpand/rangemap"
	"github.com/bufbuild/macroexpand/report"
	"github.com/bufbuild/macroexpand/token"
)

// FileLoader loads files for include!.
type FileLoader interface {
	// LoadFile returns the contents of path, which is relative to the file
	// containing the include! call, from.
	LoadFile(ctx context.Context, from, path string) (string, error)
}

// FileLoaderFunc is a [FileLoader] implemented by a function.
type FileLoaderFunc func(ctx context.Context, from, path string) (string, error)

// LoadFile implements [FileLoader].
func (f FileLoaderFunc) LoadFile(ctx context.Context, from, path string) (string, error) {
	return f(ctx, from, path)
}

// expandBuiltin expands a call to one of the built-in macros. These do not go
// through pattern matching: each one transforms its argument tokens directly.
func (e *Expander) expandBuiltin(ctx context.Context, def *Definition, call *Call) (*Expansion, error) {
	stream, err := token.Lex(report.NewFile(call.Path, call.Body))
	if err != nil {
		return nil, err
	}
	b := &builtin{name: def.Name, call: call, stream: stream}

	switch def.Kind {
	case BuiltinInclude:
		return b.include(ctx, e.loader)
	case BuiltinLazyStatic:
		return b.lazyStatic()
	case BuiltinEnv:
		return b.env()
	case BuiltinStringify:
		return b.stringify(), nil
	case BuiltinConcat:
		return b.concat()
	default:
		panic("macroexpand/macro: not a built-in: " + def.Kind.String())
	}
}

type builtin struct {
	name   string
	call   *Call
	stream *token.Stream
}

func (b *builtin) fail(idx int, problem string, cause error) error {
	return &BuiltinError{
		Macro:   b.name,
		Problem: problem,
		Span:    b.stream.SpanOf(idx, min(idx+1, b.stream.Len())),
		Cause:   cause,
	}
}

// stringArg parses the call body as a single string literal, optionally
// followed by a comma, and returns its value.
func (b *builtin) stringArg() (string, error) {
	c := b.stream.Cursor()
	tok := c.Next()
	c.EatOp(",")
	if tok.Kind != token.String || !c.Done() {
		return "", b.fail(0, "expected a single string literal", nil)
	}
	value, ok := unquote(tok.Text)
	if !ok {
		return "", b.fail(0, "malformed string literal", nil)
	}
	return value, nil
}

// IncludedFile returns the path an include! call names, as written in the
// call. Returns false if the call is malformed.
func IncludedFile(call *Call) (string, bool) {
	stream, err := token.Lex(report.NewFile(call.Path, call.Body))
	if err != nil {
		return "", false
	}
	b := &builtin{name: "include", call: call, stream: stream}
	file, err := b.stringArg()
	return file, err == nil
}

func (b *builtin) include(ctx context.Context, loader FileLoader) (*Expansion, error) {
	path, err := b.stringArg()
	if err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, b.fail(0, "no file loader is configured", nil)
	}
	text, err := loader.LoadFile(ctx, b.call.Path, path)
	if err != nil {
		return nil, b.fail(0, "could not load "+strconv.Quote(path), err)
	}
	return &Expansion{Text: text}, nil
}

func (b *builtin) env() (*Expansion, error) {
	name, err := b.stringArg()
	if err != nil {
		return nil, err
	}
	value, ok := b.call.Env[name]
	if !ok {
		return nil, b.fail(0, "environment variable `"+name+"` not defined", nil)
	}
	return &Expansion{Text: quote(value)}, nil
}

// stringify turns its arguments into a string literal, with whitespace
// between tokens normalized to single spaces.
func (b *builtin) stringify() *Expansion {
	var out strings.Builder
	for i, tok := range b.stream.All() {
		if i > 0 && tok.Offset > b.stream.Tokens[i-1].End() {
			out.WriteByte(' ')
		}
		out.WriteString(tok.Text)
	}
	return &Expansion{Text: quote(out.String())}
}

// concat joins a comma-separated list of literals into one string literal.
func (b *builtin) concat() (*Expansion, error) {
	var out strings.Builder
	c := b.stream.Cursor()
	for !c.Done() {
		idx := c.Index()
		neg := c.EatOp("-")
		tok := c.Next()
		switch {
		case tok.Kind == token.String || tok.Kind == token.Char:
			value, ok := unquote(tok.Text)
			if !ok || neg {
				return nil, b.fail(idx, "malformed literal", nil)
			}
			out.WriteString(value)
		case tok.Kind == token.Number:
			if neg {
				out.WriteByte('-')
			}
			out.WriteString(tok.Text)
		case tok.IsIdent("true"), tok.IsIdent("false"):
			out.WriteString(tok.Text)
		default:
			return nil, b.fail(idx, "expected a literal", nil)
		}
		if !c.Done() && !c.EatOp(",") {
			return nil, b.fail(c.Index(), "expected `,`", nil)
		}
	}
	return &Expansion{Text: quote(out.String())}, nil
}

// lazyStatic rewrites each `static ref NAME: TYPE = EXPR;` declaration into
// an ordinary `static NAME: TYPE = EXPR;`, keeping any attributes and
// visibility in front of it.
//
// Declarations are found by scanning for their delimiting tokens rather than
// by parsing them.
func (b *builtin) lazyStatic() (*Expansion, error) {
	var out rangemap.Builder
	text := b.call.Body
	c := b.stream.Cursor()
	for !c.Done() {
		start := c.Peek().Offset

		// Skip attributes and visibility up to `static`.
		for !c.PeekIdent("static") {
			if !c.SkipTree() {
				return nil, b.fail(c.Index(), "expected `static ref`", nil)
			}
		}
		c.Next()
		ref := c.Peek()
		if !ref.IsIdent("ref") {
			return nil, b.fail(c.Index(), "expected `ref`", nil)
		}
		c.Next()
		if c.Peek().Kind != token.Ident || !c.PeekAt(1).IsPunct(":") {
			return nil, b.fail(c.Index(), "expected `NAME:`", nil)
		}
		rest := c.Peek().Offset

		sawEquals := false
		for !c.Peek().IsPunct(";") {
			if c.PeekExactOp("=") {
				sawEquals = true
			}
			if !c.SkipTree() {
				return nil, b.fail(c.Index(), "expected `;`", nil)
			}
		}
		if !sawEquals {
			return nil, b.fail(c.Index(), "expected `= initializer`", nil)
		}
		end := c.Next().End()

		if out.Len() > 0 {
			out.AppendUnmapped("\n")
		}
		out.AppendMapped(text[start:ref.Offset], start)
		out.AppendMapped(text[rest:end], rest)
	}

	expanded, ranges := out.Finish()
	return &Expansion{Text: expanded, Ranges: ranges}, nil
}

// unquote returns the value of a string or character literal, which may be
// byte-prefixed or raw. Returns false for malformed literals.
func unquote(lit string) (string, bool) {
	lit = strings.TrimPrefix(lit, "b")
	if strings.HasPrefix(lit, "r") {
		body := strings.TrimLeft(lit[1:], "#")
		hashes := len(lit) - 1 - len(body)
		body = strings.TrimSuffix(body, strings.Repeat("#", hashes))
		if len(body) < 2 || body[0] != '"' || body[len(body)-1] != '"' {
			return "", false
		}
		return body[1 : len(body)-1], true
	}

	// Literal suffixes, as in "abc"suffix, are not part of the value.
	if i := strings.LastIndexAny(lit, `"'`); i > 0 {
		lit = lit[:i+1]
	}
	if strings.HasPrefix(lit, "'") {
		r, _, tail, err := strconv.UnquoteChar(strings.TrimSuffix(lit[1:], "'"), '\'')
		if err != nil || tail != "" {
			return "", false
		}
		return string(r), true
	}
	value, err := strconv.Unquote(rustEscapes(lit))
	if err != nil {
		return "", false
	}
	return value, true
}

// rustEscapes rewrites the escapes that Rust and Go spell differently, so
// that the result can be unquoted as a Go string.
func rustEscapes(lit string) string {
	if !strings.Contains(lit, `\u{`) && !strings.Contains(lit, "\\\n") {
		return lit
	}
	var out strings.Builder
	for i := 0; i < len(lit); i++ {
		switch {
		case strings.HasPrefix(lit[i:], `\u{`):
			end := strings.IndexByte(lit[i:], '}')
			if end < 0 {
				return lit
			}
			code, err := strconv.ParseUint(lit[i+3:i+end], 16, 32)
			if err != nil {
				return lit
			}
			quoted := strconv.QuoteRune(rune(code))
			out.WriteString(quoted[1 : len(quoted)-1])
			i += end
		case strings.HasPrefix(lit[i:], "\\\n"):
			// A line continuation swallows the newline and leading whitespace.
			i++
			for i+1 < len(lit) && strings.IndexByte(" \t\n\r", lit[i+1]) >= 0 {
				i++
			}
		default:
			out.WriteByte(lit[i])
		}
	}
	return out.String()
}

// quote produces a string literal with the given value.
func quote(value string) string {
	return `"` + escapeDoc(value) + `"`
}
