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
	"fmt"
	"strings"

	"github.com/bufbuild/macroexpand/fragment"
	"github.com/bufbuild/macroexpand/token"
)

// Bindings maps pattern variables to what they captured.
type Bindings map[string]Binding

// Binding is the value of one pattern variable.
//
// A variable bound outside of any repetition is a leaf holding a single
// [Capture]. A variable bound inside k nested repetitions is k levels of
// Nested, one element per iteration in source order.
type Binding struct {
	Capture *Capture
	Nested  []Binding
}

// IsLeaf returns whether this binding holds a capture rather than a list of
// iterations.
func (b Binding) IsLeaf() bool {
	return b.Capture != nil
}

// String implements [fmt.Stringer].
func (b Binding) String() string {
	if b.IsLeaf() {
		return fmt.Sprintf("%q", b.Capture.Text)
	}
	var out strings.Builder
	out.WriteByte('[')
	for i, n := range b.Nested {
		if i > 0 {
			out.WriteString(", ")
		}
		out.WriteString(n.String())
	}
	out.WriteByte(']')
	return out.String()
}

// Capture is the text of one matched fragment.
type Capture struct {
	Kind fragment.Kind
	// Byte range of the capture in the call body.
	Start, End int
	Text       string
	// Number of tokens captured.
	Tokens int
	// Whether the last captured token is joint with the token after it in
	// the call body.
	Joint bool
}

// marker is the capture recorded for each iteration of a group that binds no
// variables.
var marker = &Capture{Kind: fragment.Invalid}

// Match matches a call body against every case of these rules in turn.
//
// Returns the index of the first case that matches the entire input, along
// with its bindings. If no case matches, returns a [*MatchError] from the
// case that got furthest, preferring earlier cases on ties.
//
// Matching polls ctx for cancellation at every fragment and every repetition.
func (r *Rules) Match(ctx context.Context, input *token.Stream) (int, Bindings, error) {
	b := &binder{ctx: ctx, stream: input}

	var best *MatchError
	for i, pattern := range r.Pattern.Cases {
		c := input.Cursor()
		out := make(Bindings)
		err := b.match(c, pattern, out)
		if err == nil && !c.Done() {
			err = b.fail(ExtraInput, c.Index())
		}
		if err == nil {
			return i, out, nil
		}

		me, ok := err.(*MatchError)
		if !ok {
			return -1, nil, err
		}
		me.Case = i
		if best == nil || me.progress > best.progress {
			best = me
		}
	}
	return -1, nil, best
}

type binder struct {
	ctx    context.Context
	stream *token.Stream
}

func (b *binder) fail(kind MatchErrorKind, idx int) *MatchError {
	return &MatchError{
		Kind:     kind,
		Span:     b.stream.SpanOf(idx, min(idx+1, b.stream.Len())),
		Actual:   b.stream.At(idx),
		progress: idx,
	}
}

// match matches m against the tokens at c, adding whatever it binds to out.
//
// On failure, c may be left anywhere; callers that continue after a failure
// rewind it themselves.
func (b *binder) match(c *token.Cursor, m Matcher, out Bindings) error {
	switch m := m.(type) {
	case *Literal:
		tok := c.Peek()
		if tok.Kind != m.Token.Kind || tok.Text != m.Token.Text || (m.Joint && !tok.Joint) {
			err := b.fail(UnmatchedToken, c.Index())
			err.Expected = m.Token.Text
			return err
		}
		c.Next()
		return nil

	case *Fragment:
		if err := b.ctx.Err(); err != nil {
			return err
		}
		start := c.Index()
		if !fragment.Parse(m.Kind, c) {
			err := b.fail(FragmentNotParsed, start)
			err.Fragment = m.Kind
			return err
		}
		offset, text := b.stream.Span(start, c.Index())
		out[m.Name] = Binding{Capture: &Capture{
			Kind:   m.Kind,
			Start:  offset,
			End:    offset + len(text),
			Text:   text,
			Tokens: c.Index() - start,
			Joint:  c.Index() > start && b.stream.At(c.Index()-1).Joint,
		}}
		return nil

	case *Sequence:
		for _, item := range m.Items {
			if err := b.match(c, item, out); err != nil {
				return err
			}
		}
		return nil

	case *Choice:
		var best *MatchError
		for _, alt := range m.Cases {
			mark := c.Mark()
			attempt := make(Bindings)
			err := b.match(c, alt, attempt)
			if err == nil {
				for k, v := range attempt {
					out[k] = v
				}
				return nil
			}
			c.Rewind(mark)
			me, ok := err.(*MatchError)
			if !ok {
				return err
			}
			if best == nil || me.progress > best.progress {
				best = me
			}
		}
		if best == nil {
			return b.fail(UnmatchedToken, c.Index())
		}
		return best

	case *Optional:
		if err := b.ctx.Err(); err != nil {
			return err
		}
		mark := c.Mark()
		iter := make(Bindings)
		if err := b.match(c, m.Inner, iter); err != nil {
			if _, ok := err.(*MatchError); !ok {
				return err
			}
			c.Rewind(mark)
			b.record(out, &m.Group, nil)
			return nil
		}
		b.record(out, &m.Group, []Bindings{iter})
		return nil

	case *Repeat:
		var iters []Bindings
		var cause error
		for {
			if err := b.ctx.Err(); err != nil {
				return err
			}
			mark := c.Mark()
			if len(iters) > 0 && !eatSeparator(c, m.Separator) {
				break
			}
			start := c.Index()
			iter := make(Bindings)
			if err := b.match(c, m.Inner, iter); err != nil {
				if _, ok := err.(*MatchError); !ok {
					return err
				}
				c.Rewind(mark)
				cause = err
				break
			}
			if c.Index() == start {
				// This would repeat forever.
				return b.fail(EmptyGroup, start)
			}
			iters = append(iters, iter)
		}

		if len(iters) < m.Min {
			err := b.fail(TooFewGroupElements, c.Index())
			err.Cause = cause
			if me, ok := cause.(*MatchError); ok {
				err.progress = me.progress
			}
			return err
		}
		b.record(out, &m.Group, iters)
		return nil

	default:
		panic(fmt.Sprintf("macroexpand/macro: unexpected matcher %T", m))
	}
}

// record binds every variable of g to one level of nesting, with one element
// per iteration.
func (b *binder) record(out Bindings, g *Group, iters []Bindings) {
	for _, name := range g.Vars {
		nested := make([]Binding, len(iters))
		for i, iter := range iters {
			nested[i] = iter[name]
		}
		out[name] = Binding{Nested: nested}
	}
	if g.Key != "" {
		nested := make([]Binding, len(iters))
		for i := range nested {
			nested[i] = Binding{Capture: marker}
		}
		out[g.Key] = Binding{Nested: nested}
	}
}

// eatSeparator consumes sep, if it is next. An empty separator is always
// present.
func eatSeparator(c *token.Cursor, sep []token.Token) bool {
	mark := c.Mark()
	for i, want := range sep {
		tok := c.Next()
		if tok.Kind != want.Kind || tok.Text != want.Text || (i < len(sep)-1 && !tok.Joint) {
			c.Rewind(mark)
			return false
		}
	}
	return true
}
