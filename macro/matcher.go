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
	"strings"

	"github.com/bufbuild/macroexpand/fragment"
	"github.com/bufbuild/macroexpand/token"
)

// Matcher is a node in a compiled macro pattern.
//
// Matcher is a closed sum type: its variants are exactly [*Literal],
// [*Fragment], [*Optional], [*Choice], [*Sequence], and [*Repeat]. Code that
// switches over a Matcher handles every variant and panics on anything else.
type Matcher interface {
	fmt.Stringer
	matcher()
}

// Literal matches one token exactly.
type Literal struct {
	Token token.Token
	// Whether the matched token must be joined to the next one, as the
	// first half of => must be.
	Joint bool
}

// Fragment captures one syntactic fragment into a variable.
type Fragment struct {
	Name string
	Kind fragment.Kind
	// Index of the $ that introduces this variable in the definition.
	Index int
}

// Optional matches its contents zero or one times: the ? repetition.
type Optional struct {
	Group
}

// Repeat matches its contents any number of times, with an optional
// separator between iterations: the * and + repetitions.
type Repeat struct {
	Group
	Separator []token.Token
	Min       int // 0 for *, 1 for +.
}

// Group is the part shared by the repetition matchers.
type Group struct {
	Inner *Sequence
	// Every variable bound anywhere inside this group, sorted. Each becomes one
	// level deeper for being inside it.
	Vars []string
	// For a group that contains no variables, the key under which its
	// iterations are recorded so that templates can replay them.
	Key string
	// Index of the $ that introduces this group in the definition.
	Index int
}

// Sequence matches each of its items in order.
type Sequence struct {
	Items []Matcher
}

// Choice tries each alternative in order; the first to succeed wins.
type Choice struct {
	Cases []Matcher
}

func (*Literal) matcher()  {}
func (*Fragment) matcher() {}
func (*Optional) matcher() {}
func (*Repeat) matcher()   {}
func (*Sequence) matcher() {}
func (*Choice) matcher()   {}

// String implements [fmt.Stringer].
func (m *Literal) String() string { return m.Token.Text }

// String implements [fmt.Stringer].
func (m *Fragment) String() string { return fmt.Sprintf("$%s:%v", m.Name, m.Kind) }

// String implements [fmt.Stringer].
func (m *Optional) String() string { return fmt.Sprintf("$(%v)?", m.Inner) }

// String implements [fmt.Stringer].
func (m *Repeat) String() string {
	op := "*"
	if m.Min > 0 {
		op = "+"
	}
	return fmt.Sprintf("$(%v)%s%s", m.Inner, tokensText(m.Separator), op)
}

// String implements [fmt.Stringer].
func (m *Sequence) String() string {
	var out strings.Builder
	for i, item := range m.Items {
		if i > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(item.String())
	}
	return out.String()
}

// String implements [fmt.Stringer].
func (m *Choice) String() string {
	var out strings.Builder
	for i, c := range m.Cases {
		if i > 0 {
			out.WriteString(" | ")
		}
		fmt.Fprintf(&out, "(%v)", c)
	}
	return out.String()
}

// tokensText concatenates the text of some tokens with no separation.
func tokensText(tokens []token.Token) string {
	var out strings.Builder
	for _, tok := range tokens {
		out.WriteString(tok.Text)
	}
	return out.String()
}

// groupKey returns the key under which a variable-less group's iterations
// are recorded: its tokens' text, joined by single spaces. The result can
// never collide with a variable name.
func groupKey(tokens []token.Token) string {
	var out strings.Builder
	out.WriteString("$(")
	for i, tok := range tokens {
		if i > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(tok.Text)
	}
	out.WriteByte(')')
	return out.String()
}
