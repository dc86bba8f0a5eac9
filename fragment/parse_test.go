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

package fragment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/macroexpand/fragment"
	"github.com/bufbuild/macroexpand/token"
)

// parsePrefix parses one fragment from text and returns the text it consumed,
// or ok == false if parsing failed.
func parsePrefix(t *testing.T, kind fragment.Kind, text string) (consumed string, ok bool) {
	t.Helper()
	s, err := token.LexString(text)
	require.NoError(t, err)

	c := s.Cursor()
	mark := c.Mark()
	if !fragment.Parse(kind, c) {
		assert.Equal(t, 0, c.Index(), "failed parse must not consume")
		return "", false
	}
	_, consumed = s.Span(c.Since(mark))
	return consumed, true
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind fragment.Kind
		text string
		want string // Empty means the parse must fail.
	}{
		{fragment.Ident, "foo bar", "foo"},
		{fragment.Ident, "struct", "struct"},
		{fragment.Ident, "_", ""},
		{fragment.Ident, "1", ""},

		{fragment.Expr, "1 + 2, 3", "1 + 2"},
		{fragment.Expr, "a.b(c)[0]?; x", "a.b(c)[0]?"},
		{fragment.Expr, "x => y", "x"},
		{fragment.Expr, "Foo { a: 1 }.a", "Foo { a: 1 }.a"},
		{fragment.Expr, "if a { b } else { c }, d", "if a { b } else { c }"},
		{fragment.Expr, "if x == Foo {} {}", "if x == Foo {}"},
		{fragment.Expr, "|x| x + 1, 2", "|x| x + 1"},
		{fragment.Expr, "vec![1, 2]", "vec![1, 2]"},
		{fragment.Expr, "Vec::<u8>::new()", "Vec::<u8>::new()"},
		{fragment.Expr, "a as u64 + 1", "a as u64 + 1"},
		{fragment.Expr, "-x * !y", "-x * !y"},
		{fragment.Expr, "0..10", "0..10"},
		{fragment.Expr, "a..", "a.."},
		{fragment.Expr, "match x { _ => 1 }", "match x { _ => 1 }"},
		{fragment.Expr, "x = 5", "x = 5"},
		{fragment.Expr, ", x", ""},
		{fragment.Expr, "=> x", ""},

		{fragment.Ty, "Vec<HashMap<K, V>>, x", "Vec<HashMap<K, V>>"},
		{fragment.Ty, "&'a mut str", "&'a mut str"},
		{fragment.Ty, "(u8, u16)", "(u8, u16)"},
		{fragment.Ty, "fn(u8) -> bool", "fn(u8) -> bool"},
		{fragment.Ty, "impl Fn(u8) -> u8 + Send", "impl Fn(u8) -> u8 + Send"},
		{fragment.Ty, "<T as Trait>::Out", "<T as Trait>::Out"},
		{fragment.Ty, "*const u8", "*const u8"},
		{fragment.Ty, "1", ""},

		{fragment.Path, "a::b::C<D> x", "a::b::C<D>"},
		{fragment.Path, "::std::io", "::std::io"},

		{fragment.Pat, "Some(x) | None => 1", "Some(x) | None"},
		{fragment.Pat, "ref mut x @ 1..=5", "ref mut x @ 1..=5"},
		{fragment.Pat, "Foo { a, .. }", "Foo { a, .. }"},
		{fragment.Pat, "x: u8", "x"},
		{fragment.Pat, "-1", "-1"},

		{fragment.Stmt, "let x: u8 = 1; y", "let x: u8 = 1"},
		{fragment.Stmt, "let Some(x) = y else { return };", "let Some(x) = y else { return }"},
		{fragment.Stmt, "fn f() {} g", "fn f() {}"},
		{fragment.Stmt, "x += 1;", "x += 1"},

		{fragment.Item, "pub struct A; b", "pub struct A;"},
		{fragment.Item, "/// docs\n#[derive(Debug)] pub(crate) enum E { A } x", "/// docs\n#[derive(Debug)] pub(crate) enum E { A }"},
		{fragment.Item, "impl<T> Foo for Bar<T> where T: Copy {}", "impl<T> Foo for Bar<T> where T: Copy {}"},
		{fragment.Item, "use a::{b, c};", "use a::{b, c};"},
		{fragment.Item, "const fn f() -> u8 { 1 }", "const fn f() -> u8 { 1 }"},
		{fragment.Item, "macro_rules! m { () => {} }", "macro_rules! m { () => {} }"},
		{fragment.Item, "x + 1", ""},

		{fragment.Block, "{ a; b } c", "{ a; b }"},
		{fragment.Block, "(a)", ""},

		{fragment.Meta, "derive(Debug) x", "derive(Debug)"},
		{fragment.Meta, `doc = "hi"`, `doc = "hi"`},
		{fragment.Meta, "inline", "inline"},

		{fragment.TT, "(a b) c", "(a b)"},
		{fragment.TT, "a b", "a"},
		{fragment.TT, "", ""},

		{fragment.Vis, "pub(crate) fn", "pub(crate)"},
		{fragment.Vis, "pub (u8, u8)", "pub"},
		{fragment.Vis, "pub(in a::b) x", "pub(in a::b)"},

		{fragment.Literal, "-1.5 x", "-1.5"},
		{fragment.Literal, `"s"`, `"s"`},
		{fragment.Literal, "true", "true"},
		{fragment.Literal, "-x", ""},

		{fragment.Lifetime, "'a b", "'a"},
		{fragment.Lifetime, "a", ""},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.text, func(t *testing.T) {
			t.Parallel()
			got, ok := parsePrefix(t, tt.kind, tt.text)
			if tt.want == "" {
				assert.False(t, ok, "parsed %q", got)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEmptyVis(t *testing.T) {
	t.Parallel()

	s, err := token.LexString("struct A;")
	require.NoError(t, err)
	c := s.Cursor()
	assert.True(t, fragment.Parse(fragment.Vis, c))
	assert.Equal(t, 0, c.Index())
}

func TestLookup(t *testing.T) {
	t.Parallel()

	k, ok := fragment.Lookup("expr")
	assert.True(t, ok)
	assert.Equal(t, fragment.Expr, k)
	assert.Equal(t, "expr", k.String())

	_, ok = fragment.Lookup("expression")
	assert.False(t, ok)
	assert.True(t, fragment.Vis.MayBeEmpty())
	assert.False(t, fragment.Expr.MayBeEmpty())
}
