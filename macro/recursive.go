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

	"github.com/bufbuild/macroexpand/rangemap"
	"github.com/bufbuild/macroexpand/report"
	"github.com/bufbuild/macroexpand/token"
)

// Resolver looks up the definition a macro call by the given name refers to.
type Resolver func(name string) (*Definition, bool)

// ExpandRecursive expands a call to def, then expands every macro call in the
// result that resolve knows about, and so on, until no expandable calls
// remain.
//
// The returned range map points all the way back into call's body. Calls
// that fail to expand are left in the text as they are. Returns a
// [*RecursionLimitError] if expansions nest more deeply than the expander's
// recursion limit, and an [*ExpansionLimitError] if they number more than its
// expansion limit.
func (e *Expander) ExpandRecursive(ctx context.Context, def *Definition, call *Call, resolve Resolver) (*Expansion, error) {
	budget := e.expansionLimit
	return e.expandDepth(ctx, def, call, resolve, 0, &budget)
}

// expandDepth expands call at the given nesting depth. budget is the number
// of expansions left, shared by the whole recursion.
func (e *Expander) expandDepth(ctx context.Context, def *Definition, call *Call, resolve Resolver, depth int, budget *int) (*Expansion, error) {
	if depth >= e.recursionLimit {
		return nil, &RecursionLimitError{Name: def.Name, Limit: e.recursionLimit}
	}
	if *budget <= 0 {
		return nil, &ExpansionLimitError{Name: def.Name, Limit: e.expansionLimit}
	}
	*budget--
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exp, err := e.Expand(ctx, def, call)
	if err != nil {
		return nil, err
	}
	calls := findCalls(exp.Text)
	if len(calls) == 0 {
		return exp, nil
	}

	// Build the text with every inner call replaced by its expansion, along
	// with a map from exp.Text into it.
	var out rangemap.Builder
	prev := 0
	for _, inner := range calls {
		innerDef, ok := resolve(inner.name)
		if !ok {
			continue
		}
		sub, err := e.expandDepth(ctx, innerDef, &Call{
			Name: inner.name,
			Body: exp.Text[inner.bodyStart:inner.bodyEnd],
			Path: call.Path,
			Env:  call.Env,
		}, resolve, depth+1, budget)

		var (
			depthLimit *RecursionLimitError
			countLimit *ExpansionLimitError
		)
		switch {
		case errors.As(err, &depthLimit), errors.As(err, &countLimit), ctx.Err() != nil:
			return nil, err
		case err != nil:
			continue
		}

		out.AppendMapped(exp.Text[prev:inner.start], prev)
		out.AppendMap(sub.Text, sub.Ranges, inner.bodyStart)
		prev = inner.end
	}
	out.AppendMapped(exp.Text[prev:], prev)

	text, mid := out.Finish()
	return &Expansion{Text: text, Ranges: exp.Ranges.MapAll(mid)}, nil
}

// foundCall is a macro call found in expanded text. Offsets are bytes into
// that text.
type foundCall struct {
	name               string
	start, end         int // The whole call, including any leading path.
	bodyStart, bodyEnd int // Between the delimiters.
}

// findCalls finds the outermost macro calls in text, in order: an identifier,
// possibly path-qualified, then !, then a delimited body.
func findCalls(text string) []foundCall {
	stream, err := token.Lex(report.NewFile("", text))
	if err != nil {
		return nil
	}

	var calls []foundCall
	c := stream.Cursor()
	for !c.Done() {
		idx := c.Index()
		tok := c.Peek()
		bang, open := c.PeekAt(1), c.PeekAt(2)
		if tok.Kind != token.Ident || tok.IsKeyword() || !bang.IsPunct("!") || bang.Joint || open.Kind != token.Open {
			c.Next()
			continue
		}

		start := tok.Offset
		for i := idx; i >= 3; i -= 3 {
			colon1, colon2, seg := stream.At(i-2), stream.At(i-1), stream.At(i-3)
			if !colon1.IsPunct(":") || !colon1.Joint || !colon2.IsPunct(":") || seg.Kind != token.Ident {
				break
			}
			start = seg.Offset
		}

		closeTok := stream.At(open.Match)
		if tok.Text != "macro_rules" {
			calls = append(calls, foundCall{
				name:      tok.Name(),
				start:     start,
				end:       closeTok.End(),
				bodyStart: open.End(),
				bodyEnd:   closeTok.Offset,
			})
		}
		c.Next()
		c.Next()
		c.SkipTree()
	}
	return calls
}
