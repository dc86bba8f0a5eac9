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
	"errors"
	"slices"
	"sync"

	"github.com/bufbuild/macroexpand/fragment"
	"github.com/bufbuild/macroexpand/report"
	"github.com/bufbuild/macroexpand/token"
)

// Rules is a compiled macro_rules! definition: one pattern and one template
// per case.
type Rules struct {
	Definition *Definition
	// Every case's pattern, as a *Sequence, in declaration order.
	Pattern *Choice

	stream    *token.Stream
	templates [][]tplNode
}

// Compiler compiles definitions into [Rules], remembering the result for
// each definition hash. Failures are remembered too: a definition that does
// not compile stays that way until its body changes.
//
// A zero Compiler is ready to use.
type Compiler struct {
	mu    sync.Mutex
	cache map[Hash]compiled
}

type compiled struct {
	rules *Rules
	err   error
}

// Compile compiles def, or returns the result of having done so before.
func (c *Compiler) Compile(def *Definition) (*Rules, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.cache[def.Hash]; ok {
		return prev.rules, prev.err
	}
	rules, err := Compile(def)
	if c.cache == nil {
		c.cache = make(map[Hash]compiled)
	}
	c.cache[def.Hash] = compiled{rules, err}
	return rules, err
}

// Len returns the number of definitions this compiler remembers.
func (c *Compiler) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Forget drops whatever this compiler remembers about the definition with
// the given hash.
func (c *Compiler) Forget(hash Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, hash)
}

// Compile compiles a declarative macro definition.
//
// A definition body is a sequence of cases of the form
// (pattern) => {template}, separated by semicolons. Structural problems are
// reported as a [*MatchError] of kind PatternSyntax; problems inside a
// pattern as a [*PatternError].
func Compile(def *Definition) (*Rules, error) {
	stream, err := token.Lex(report.NewFile(def.Name, def.Body))
	if err != nil {
		return nil, &MatchError{Kind: PatternSyntax, Cause: err}
	}

	rules := &Rules{Definition: def, Pattern: new(Choice), stream: stream}
	c := stream.Cursor()
	for !c.Done() {
		pattern := c.Group("")
		if pattern == nil {
			return nil, syntaxError(stream, c, "expected a parenthesized pattern")
		}
		if !c.EatOp("=>") {
			return nil, syntaxError(stream, c, "expected `=>`")
		}
		template := c.Group("")
		if template == nil {
			return nil, syntaxError(stream, c, "expected a delimited template")
		}
		if !c.Done() && !c.EatOp(";") {
			return nil, syntaxError(stream, c, "expected `;`")
		}

		pc := &patternCompiler{stream: stream, depths: make(map[string]int)}
		seq, err := pc.sequence(pattern, 0)
		if err != nil {
			return nil, err
		}
		tpl, err := compileTemplate(stream, template)
		if err != nil {
			return nil, err
		}
		rules.Pattern.Cases = append(rules.Pattern.Cases, seq)
		rules.templates = append(rules.templates, tpl)
	}

	if len(rules.Pattern.Cases) == 0 {
		return nil, &MatchError{Kind: PatternSyntax, Cause: errors.New("definition has no rules")}
	}
	return rules, nil
}

func syntaxError(stream *token.Stream, c *token.Cursor, problem string) error {
	idx := c.Index()
	return &MatchError{
		Kind:   PatternSyntax,
		Span:   stream.SpanOf(idx, min(idx+1, stream.Len())),
		Actual: c.Peek(),
		Cause:  errors.New(problem),
	}
}

type patternCompiler struct {
	stream *token.Stream
	// Repetition depth of every variable bound so far.
	depths map[string]int
}

func (pc *patternCompiler) errorAt(kind PatternErrorKind, start, end int, name string) error {
	return &PatternError{Kind: kind, Span: pc.stream.SpanOf(start, end), Name: name}
}

// sequence compiles the pattern tokens in c, which sit at the given
// repetition depth.
func (pc *patternCompiler) sequence(c *token.Cursor, depth int) (*Sequence, error) {
	seq := new(Sequence)
	for !c.Done() {
		idx := c.Index()
		tok := c.Peek()

		switch {
		case tok.IsPunct("$") && c.PeekAt(1).Kind == token.Ident:
			c.Next()
			name := c.Next().Name()
			if !c.Peek().IsPunct(":") || c.PeekOp("::") || c.PeekAt(1).Kind != token.Ident {
				return nil, pc.errorAt(MissingFragmentKind, idx, c.Index(), name)
			}
			c.Next()
			spec := c.Next()
			kind, ok := fragment.Lookup(spec.Text)
			if !ok {
				return nil, pc.errorAt(UnknownFragment, c.Index()-1, c.Index(), spec.Text)
			}
			if prev, ok := pc.depths[name]; ok {
				errKind := DuplicateVariable
				if prev != depth {
					errKind = Nesting
				}
				return nil, pc.errorAt(errKind, idx, c.Index(), name)
			}
			pc.depths[name] = depth
			seq.Items = append(seq.Items, &Fragment{Name: name, Kind: kind, Index: idx})

		case tok.IsPunct("$") && c.PeekAt(1).Is(token.Open, "("):
			c.Next()
			open := c.Peek()
			inner := c.Group("(")
			body, err := pc.sequence(inner, depth+1)
			if err != nil {
				return nil, err
			}
			sep, op, ok := repetitionOp(c)
			if !ok || (op == "?" && len(sep) > 0) {
				return nil, pc.errorAt(MalformedGroup, idx, c.Index(), "")
			}

			group := Group{Inner: body, Index: idx}
			group.Vars = patternVars(body)
			if len(group.Vars) == 0 {
				group.Key = groupKey(pc.stream.Tokens[idx+2 : open.Match])
			}
			switch op {
			case "?":
				seq.Items = append(seq.Items, &Optional{Group: group})
			case "*":
				seq.Items = append(seq.Items, &Repeat{Group: group, Separator: sep})
			case "+":
				seq.Items = append(seq.Items, &Repeat{Group: group, Separator: sep, Min: 1})
			}

		case tok.IsPunct("$"):
			return nil, pc.errorAt(MalformedGroup, idx, idx+1, "")

		case tok.Kind == token.Open:
			inner := c.Group("")
			seq.Items = append(seq.Items, pc.literal(idx))
			body, err := pc.sequence(inner, depth)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, body.Items...)
			seq.Items = append(seq.Items, pc.literal(tok.Match))

		default:
			c.Next()
			seq.Items = append(seq.Items, pc.literal(idx))
		}
	}
	return seq, nil
}

// literal builds a literal matcher for the token at idx.
func (pc *patternCompiler) literal(idx int) *Literal {
	tok := pc.stream.At(idx)
	// A punct joined to a following $ is not really joined to anything.
	joint := tok.Joint && pc.stream.At(idx+1).Kind == token.Punct && !pc.stream.At(idx+1).IsPunct("$")
	return &Literal{Token: tok, Joint: joint}
}

// patternVars lists every variable bound within seq, including inside
// nested groups, along with the keys of nested variable-less groups.
func patternVars(seq *Sequence) []string {
	var vars []string
	var walk func(Matcher)
	walk = func(m Matcher) {
		switch m := m.(type) {
		case *Literal:
		case *Fragment:
			vars = append(vars, m.Name)
		case *Optional:
			walk(m.Inner)
			if m.Key != "" {
				vars = append(vars, m.Key)
			}
		case *Repeat:
			walk(m.Inner)
			if m.Key != "" {
				vars = append(vars, m.Key)
			}
		case *Sequence:
			for _, item := range m.Items {
				walk(item)
			}
		case *Choice:
			for _, item := range m.Cases {
				walk(item)
			}
		default:
			panic("unreachable")
		}
	}
	walk(seq)

	// Two identical variable-less groups share a key.
	slices.Sort(vars)
	return slices.Compact(vars)
}

// repetitionOp parses the separator and operator that follow a $( ... )
// group: *, +, or ?, optionally preceded by a separator token.
func repetitionOp(c *token.Cursor) (sep []token.Token, op string, ok bool) {
	isOp := func(tok token.Token) bool {
		return tok.IsPunct("*") || tok.IsPunct("+") || tok.IsPunct("?")
	}

	tok := c.Peek()
	switch {
	case isOp(tok):
		c.Next()
		return nil, tok.Text, true
	case tok.IsZero(), tok.Kind == token.Open, tok.Kind == token.Close, tok.IsPunct("$"):
		return nil, "", false
	}

	// A separator is a single token, or a run of joined punctuation like =>.
	sep = append(sep, c.Next())
	for tok.Kind == token.Punct && tok.Joint && !isOp(c.Peek()) && c.Peek().Kind == token.Punct {
		tok = c.Next()
		sep = append(sep, tok)
	}
	if !isOp(c.Peek()) {
		return nil, "", false
	}
	return sep, c.Next().Text, true
}

// tplNode is a node in a compiled template.
type tplNode interface {
	tplNode()
}

// tplToken emits one token from the definition verbatim.
type tplToken struct {
	tok   token.Token
	space bool // Whether whitespace preceded it in the definition.
}

// tplVar emits the capture of a pattern variable.
type tplVar struct {
	name  string
	index int // Of the $.
	space bool
}

// tplGroup emits its body once per iteration of the variables it mentions.
type tplGroup struct {
	body     []tplNode
	sep      []tplToken
	optional bool
	// All variables mentioned in body, including nested groups' keys.
	vars  []string
	key   string
	index int // Of the $.
	space bool
}

func (*tplToken) tplNode() {}
func (*tplVar) tplNode()   {}
func (*tplGroup) tplNode() {}

func compileTemplate(stream *token.Stream, c *token.Cursor) ([]tplNode, error) {
	spaced := func(idx int) bool {
		return idx > 0 && stream.Tokens[idx].Offset > stream.Tokens[idx-1].End()
	}

	var nodes []tplNode
	for !c.Done() {
		idx := c.Index()
		tok := c.Peek()

		switch {
		case tok.IsPunct("$") && c.PeekAt(1).IsIdent("crate"):
			c.Next()
			crate := c.Next()
			nodes = append(nodes, &tplToken{
				tok:   token.Token{Kind: token.Ident, Text: "$crate", Offset: tok.Offset, Match: -1, Joint: crate.Joint},
				space: spaced(idx),
			})

		case tok.IsPunct("$") && c.PeekAt(1).Kind == token.Ident:
			c.Next()
			nodes = append(nodes, &tplVar{name: c.Next().Name(), index: idx, space: spaced(idx)})

		case tok.IsPunct("$") && c.PeekAt(1).Is(token.Open, "("):
			c.Next()
			open := c.Peek()
			body, err := compileTemplate(stream, c.Group("("))
			if err != nil {
				return nil, err
			}
			sepStart := c.Index()
			sep, op, ok := repetitionOp(c)
			if !ok {
				return nil, &PatternError{Kind: MalformedGroup, Span: stream.SpanOf(idx, c.Index())}
			}
			group := &tplGroup{
				body:     body,
				optional: op == "?",
				vars:     templateVars(body),
				index:    idx,
				space:    spaced(idx),
			}
			for i := range sep {
				group.sep = append(group.sep, tplToken{tok: sep[i], space: spaced(sepStart + i)})
			}
			if !hasVars(body) {
				group.key = groupKey(stream.Tokens[idx+2 : open.Match])
			}
			nodes = append(nodes, group)

		default:
			c.Next()
			nodes = append(nodes, &tplToken{tok: tok, space: spaced(idx)})
		}
	}
	return nodes, nil
}

// templateVars lists the variables mentioned in nodes, and the keys of any
// nested variable-less groups.
func templateVars(nodes []tplNode) []string {
	var vars []string
	for _, node := range nodes {
		switch node := node.(type) {
		case *tplToken:
		case *tplVar:
			vars = append(vars, node.name)
		case *tplGroup:
			vars = append(vars, node.vars...)
			if node.key != "" {
				vars = append(vars, node.key)
			}
		default:
			panic("unreachable")
		}
	}
	slices.Sort(vars)
	return slices.Compact(vars)
}

// hasVars returns whether any real variable, as opposed to a group key, is
// mentioned in nodes.
func hasVars(nodes []tplNode) bool {
	for _, node := range nodes {
		switch node := node.(type) {
		case *tplToken:
		case *tplVar:
			return true
		case *tplGroup:
			if hasVars(node.body) {
				return true
			}
		default:
			panic("unreachable")
		}
	}
	return false
}
