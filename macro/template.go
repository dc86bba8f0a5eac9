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
	"slices"
	"strings"

	"github.com/bufbuild/macroexpand/fragment"
	"github.com/bufbuild/macroexpand/rangemap"
	"github.com/bufbuild/macroexpand/token"
)

// Transcribe replays the template of the given case with bindings
// substituted in.
//
// Template tokens are copied from the definition and are not mapped; each
// variable's captured text is copied verbatim from the call body and mapped
// back to where it was captured.
func (r *Rules) Transcribe(caseIdx int, bindings Bindings) (*Expansion, error) {
	t := &transcriber{rules: r, bindings: bindings}
	if err := t.emit(r.templates[caseIdx], nil); err != nil {
		return nil, err
	}
	text, ranges := t.out.Finish()
	return &Expansion{Text: text, Ranges: ranges}, nil
}

type transcriber struct {
	rules    *Rules
	bindings Bindings
	out      rangemap.Builder
	// Whether the last thing written was a punctuation token joint with
	// whatever followed it where it came from.
	joint bool
}

func (t *transcriber) errorAt(kind TemplateErrorKind, index int, name string) error {
	end := index + 1
	if name != "" {
		end++ // Cover the variable's name, too.
	}
	return &TemplateError{
		Kind: kind,
		Span: t.rules.stream.SpanOf(index, min(end, t.rules.stream.Len())),
		Name: name,
	}
}

// emit transcribes nodes. path holds the current iteration index of each
// enclosing template repetition, outermost first.
func (t *transcriber) emit(nodes []tplNode, path []int) error {
	for _, node := range nodes {
		switch node := node.(type) {
		case *tplToken:
			t.token(node.tok, node.space)

		case *tplVar:
			b, err := t.lookup(node.name, node.index, path)
			if err != nil {
				return err
			}
			if !b.IsLeaf() {
				return t.errorAt(DepthMismatch, node.index, node.name)
			}
			t.capture(b.Capture, node.space)

		case *tplGroup:
			n, err := t.count(node, path)
			if err != nil {
				return err
			}
			for i := range n {
				if i > 0 {
					for _, sep := range node.sep {
						t.token(sep.tok, sep.space)
					}
				}
				if err := t.emit(node.body, append(path, i)); err != nil {
					return err
				}
			}

		default:
			panic(fmt.Sprintf("macroexpand/macro: unexpected template node %T", node))
		}
	}
	return nil
}

// lookup finds the binding for name at the current iteration path.
//
// A variable bound at a shallower depth than path is reused at every deeper
// iteration.
func (t *transcriber) lookup(name string, index int, path []int) (Binding, error) {
	b, ok := t.bindings[name]
	if !ok {
		return Binding{}, t.errorAt(UndeclaredVariable, index, name)
	}
	for _, i := range path {
		if b.IsLeaf() {
			break
		}
		if i >= len(b.Nested) {
			return Binding{}, t.errorAt(RepetitionMismatch, index, name)
		}
		b = b.Nested[i]
	}
	return b, nil
}

// count returns how many times a template group repeats: the common length
// of every variable inside it that is still repeating at this depth.
func (t *transcriber) count(g *tplGroup, path []int) (int, error) {
	n := -1
	for _, name := range g.vars {
		if _, ok := t.bindings[name]; !ok && strings.HasPrefix(name, "$(") {
			// A nested variable-less group the pattern never had.
			continue
		}
		b, err := t.lookup(name, g.index, path)
		if err != nil {
			return 0, err
		}
		if b.IsLeaf() {
			continue
		}
		switch {
		case n < 0:
			n = len(b.Nested)
		case n != len(b.Nested):
			return 0, t.errorAt(RepetitionMismatch, g.index, name)
		}
	}

	if _, ok := t.bindings[g.key]; n < 0 && ok {
		if b, _ := t.lookup(g.key, g.index, path); !b.IsLeaf() {
			n = len(b.Nested)
		}
	}
	if n < 0 {
		return 0, t.errorAt(NoRepetition, g.index, "")
	}
	return n, nil
}

// token emits a token from the definition.
func (t *transcriber) token(tok token.Token, space bool) {
	text := tok.Text
	if tok.Kind == token.DocComment {
		text = docAttribute(tok.Text)
	}
	t.separate(text, space)
	t.out.AppendUnmapped(text)
	t.joint = tok.Joint && tok.Kind == token.Punct
}

// capture emits captured call-body text.
func (t *transcriber) capture(c *Capture, space bool) {
	if c.Text == "" {
		return
	}
	if c.Kind != fragment.TT {
		// Other fragments paste as a unit and never join what precedes them.
		t.joint = false
	}
	t.separate(c.Text, space)
	// Keep operator precedence intact when pasting an expression into a
	// larger one.
	wrap := c.Kind == fragment.Expr && c.Tokens > 1 && !isDelimited(c.Text)
	if wrap {
		t.out.AppendUnmapped("(")
	}
	t.out.AppendMapped(c.Text, c.Start)
	if wrap {
		t.out.AppendUnmapped(")")
	}
	t.joint = c.Joint && !wrap
}

// separate writes a space before text if the definition had one there, or
// if text would otherwise fuse with what precedes it. Two operator
// characters fuse into one operator, like - and > into ->, unless they were
// already joint where the first one came from.
func (t *transcriber) separate(text string, space bool) {
	if t.out.Len() == 0 || text == "" {
		return
	}
	last, next := t.out.LastByte(), text[0]
	fuse := isIdentByte(last) && isIdentByte(next) ||
		last == '/' && (next == '/' || next == '*') ||
		last == '\'' && isIdentByte(next) ||
		!t.joint && isOperatorByte(last) && isOperatorByte(next)
	if space || fuse {
		t.out.AppendUnmapped(" ")
	}
}

// operators is every character that can begin or continue a multi-character
// operator.
const operators = "!%&*+-./:<=>^|"

func isOperatorByte(b byte) bool {
	return strings.IndexByte(operators, b) >= 0
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b >= 0x80
}

// isDelimited returns whether text is a single delimited group, like (a + b),
// which needs no extra parentheses.
func isDelimited(text string) bool {
	s, err := token.LexString(text)
	if err != nil || s.Len() == 0 {
		return false
	}
	first := s.Tokens[0]
	return first.Kind == token.Open && first.Match == s.Len()-1
}

// docAttribute rewrites a doc comment into the equivalent doc attribute.
func docAttribute(comment string) string {
	inner, content := docContent(comment)
	var out strings.Builder
	if inner {
		out.WriteString("#![doc = \"")
	} else {
		out.WriteString("#[doc = \"")
	}
	out.WriteString(escapeDoc(content))
	out.WriteString("\"]")
	return out.String()
}

// docContent splits a doc comment into its flavor and its text.
func docContent(comment string) (inner bool, content string) {
	inner = strings.HasPrefix(comment, "//!") || strings.HasPrefix(comment, "/*!")
	content = comment[3:]
	if strings.HasPrefix(comment, "/*") {
		content = strings.TrimSuffix(content, "*/")
	}
	return inner, content
}

var docEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeDoc(content string) string {
	return docEscaper.Replace(content)
}

// Vars returns the names of the variables bound by each case's pattern,
// sorted, for debugging and tooling.
func (r *Rules) Vars(caseIdx int) []string {
	var names []string
	var walk func(Matcher)
	walk = func(m Matcher) {
		switch m := m.(type) {
		case *Literal:
		case *Fragment:
			names = append(names, m.Name)
		case *Optional:
			walk(m.Inner)
		case *Repeat:
			walk(m.Inner)
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
	walk(r.Pattern.Cases[caseIdx])
	slices.Sort(names)
	return names
}
