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

package fragment

import (
	"fmt"

	"github.com/bufbuild/macroexpand/token"
)

// Parse consumes exactly one fragment of the given kind from c, leaving the
// cursor immediately after it.
//
// On failure, returns false and leaves the cursor where it was.
func Parse(kind Kind, c *token.Cursor) bool {
	mark := c.Mark()
	p := parser{c: c}

	var ok bool
	switch kind {
	case Ident:
		ok = p.ident()
	case Path:
		ok = p.path(pathType)
	case Expr:
		ok = p.expr(exprAny)
	case Ty:
		ok = p.ty()
	case Pat:
		ok = p.pat(true)
	case Stmt:
		ok = p.stmt()
	case Block:
		ok = c.Group("{") != nil
	case Item:
		ok = p.item()
	case Meta:
		ok = p.meta()
	case TT:
		ok = c.SkipTree()
	case Vis:
		ok = p.vis()
	case Literal:
		ok = p.literal()
	case Lifetime:
		ok = c.Peek().Kind == token.Lifetime && !c.Next().IsZero()
	default:
		panic(fmt.Sprintf("macroexpand/fragment: unexpected kind %v", kind))
	}

	if !ok {
		c.Rewind(mark)
	}
	return ok
}

type parser struct {
	c *token.Cursor
}

// pathMode selects how generic arguments are spelled in a path.
type pathMode int

const (
	pathType pathMode = iota // a::B<C>, plus Fn(A) -> B sugar.
	pathExpr                 // a::b::<C>.
)

// exprMode restricts which expressions are allowed.
type exprMode int

const (
	exprAny      exprMode = iota
	exprNoStruct          // In if/while/match/for heads, where { starts a block.
)

// binops lists binary operators, longest first so that the first match is the
// longest one.
var binops = []string{
	"<<=", ">>=", "...", "..=",
	"..", "&&", "||", "==", "!=", "<=", ">=", "<<", ">>",
	"+=", "-=", "*=", "/=", "%=", "^=", "&=", "|=",
	"+", "-", "*", "/", "%", "^", "&", "|", "<", ">", "=",
}

func (p *parser) ident() bool {
	tok := p.c.Peek()
	if tok.Kind != token.Ident || tok.Text == "_" {
		return false
	}
	p.c.Next()
	return true
}

func (p *parser) literal() bool {
	mark := p.c.Mark()
	p.c.EatOp("-")
	tok := p.c.Peek()
	if tok.Kind.IsLiteral() || tok.IsIdent("true") || tok.IsIdent("false") {
		p.c.Next()
		return true
	}
	p.c.Rewind(mark)
	return false
}

func (p *parser) lifetime() bool {
	if p.c.Peek().Kind != token.Lifetime {
		return false
	}
	p.c.Next()
	return true
}

// path parses a path made of :: separated segments.
func (p *parser) path(mode pathMode) bool {
	p.c.EatOp("::")
	if !p.segment(mode) {
		return false
	}

	for {
		mark := p.c.Mark()
		if !p.c.EatOp("::") {
			return true
		}
		if p.c.Peek().IsPunct("<") {
			if !p.generics() {
				p.c.Rewind(mark)
				return true
			}
			continue
		}
		if !p.segment(mode) {
			p.c.Rewind(mark)
			return true
		}
	}
}

func (p *parser) segment(mode pathMode) bool {
	tok := p.c.Peek()
	if tok.Kind != token.Ident {
		return false
	}
	p.c.Next()

	if mode != pathType {
		return true
	}
	switch {
	case p.c.Peek().IsPunct("<") && !p.c.PeekOp("<=") && !p.c.PeekOp("<<"):
		mark := p.c.Mark()
		if !p.generics() {
			p.c.Rewind(mark)
		}
	case p.c.Peek().Is(token.Open, "(") && isFnTrait(tok.Text):
		p.c.Group("(")
		if p.c.EatOp("->") {
			return p.ty()
		}
	}
	return true
}

func isFnTrait(name string) bool {
	return name == "Fn" || name == "FnMut" || name == "FnOnce"
}

// generics consumes a balanced <...> run, starting at a < token.
func (p *parser) generics() bool {
	if !p.c.Peek().IsPunct("<") {
		return false
	}
	depth := 0
	for {
		tok := p.c.Peek()
		switch {
		case tok.IsZero(), tok.Kind == token.Close, tok.IsPunct(";"):
			return false
		case p.c.PeekOp("->"):
			p.c.EatOp("->")
			continue
		case tok.IsPunct("<"):
			depth++
		case tok.IsPunct(">"):
			depth--
		}
		p.c.SkipTree()
		if depth == 0 {
			return true
		}
	}
}

func (p *parser) ty() bool {
	tok := p.c.Peek()
	switch {
	case tok.Kind == token.Open && tok.Text != "{":
		return p.c.SkipTree()
	case tok.IsPunct("!"), tok.IsIdent("_"):
		p.c.Next()
		return true
	case tok.IsPunct("&"):
		p.c.Next()
		if p.c.Peek().IsPunct("&") { // &&T
			p.c.Next()
		}
		p.lifetime()
		p.c.EatIdent("mut")
		return p.ty()
	case tok.IsPunct("*"):
		p.c.Next()
		if !p.c.EatIdent("const") && !p.c.EatIdent("mut") {
			return false
		}
		return p.ty()
	case tok.IsIdent("unsafe"), tok.IsIdent("extern"), tok.IsIdent("fn"):
		return p.fnType()
	case tok.IsIdent("impl"), tok.IsIdent("dyn"):
		p.c.Next()
		return p.bounds()
	case tok.IsIdent("for"):
		p.c.Next()
		if !p.generics() {
			return false
		}
		return p.ty()
	case tok.IsPunct("<"):
		return p.qualifiedPath(pathType)
	case tok.Kind == token.Ident:
		if !p.path(pathType) {
			return false
		}
		p.macroCallTail()
		if p.c.PeekExactOp("+") {
			// Bare trait objects, like Send + 'static.
			mark := p.c.Mark()
			p.c.Next()
			if !p.bounds() {
				p.c.Rewind(mark)
			}
		}
		return true
	default:
		return false
	}
}

func (p *parser) fnType() bool {
	p.c.EatIdent("unsafe")
	if p.c.EatIdent("extern") && p.c.Peek().Kind == token.String {
		p.c.Next()
	}
	if !p.c.EatIdent("fn") || p.c.Group("(") == nil {
		return false
	}
	if p.c.EatOp("->") {
		return p.ty()
	}
	return true
}

// bounds parses trait bounds joined with +.
func (p *parser) bounds() bool {
	if !p.bound() {
		return false
	}
	for p.c.PeekExactOp("+") {
		mark := p.c.Mark()
		p.c.Next()
		if !p.bound() {
			p.c.Rewind(mark)
			break
		}
	}
	return true
}

func (p *parser) bound() bool {
	if p.lifetime() {
		return true
	}
	if p.c.Peek().Is(token.Open, "(") {
		return p.c.SkipTree()
	}
	p.c.EatOp("?")
	if p.c.EatIdent("for") && !p.generics() {
		return false
	}
	return p.path(pathType)
}

// qualifiedPath parses <T as Trait>::rest.
func (p *parser) qualifiedPath(mode pathMode) bool {
	if !p.generics() {
		return false
	}
	if !p.c.EatOp("::") {
		return false
	}
	return p.path(mode)
}

// macroCallTail consumes ! followed by a delimited group, if present.
func (p *parser) macroCallTail() bool {
	if !p.c.PeekExactOp("!") || p.c.PeekAt(1).Kind != token.Open {
		return false
	}
	p.c.Next()
	return p.c.SkipTree()
}

func (p *parser) expr(mode exprMode) bool {
	if !p.unary(mode) {
		return false
	}
	for {
		switch {
		case p.c.PeekIdent("as"):
			p.c.Next()
			if !p.ty() {
				return false
			}
			continue
		case p.c.PeekOp("=>"), p.c.PeekOp("->"):
			return true
		}

		op, ok := p.binop()
		if !ok {
			return true
		}
		mark := p.c.Mark()
		p.c.EatOp(op)
		if !p.unary(mode) {
			// a.. is a complete half-open range; any other operator is left for
			// whatever follows the expression.
			if op != ".." {
				p.c.Rewind(mark)
			}
			return true
		}
	}
}

func (p *parser) binop() (string, bool) {
	for _, op := range binops {
		if p.c.PeekOp(op) {
			return op, true
		}
	}
	return "", false
}

// unary parses prefix operators followed by a postfix expression.
func (p *parser) unary(mode exprMode) bool {
	for {
		switch {
		case p.c.PeekOp("&&"):
			p.c.EatOp("&&")
			p.c.EatIdent("mut")
		case p.c.Peek().IsPunct("&"):
			p.c.Next()
			p.c.EatIdent("mut")
		case p.c.Peek().IsPunct("-"), p.c.Peek().IsPunct("!"), p.c.Peek().IsPunct("*"):
			p.c.Next()
		case p.c.PeekOp("..=") || p.c.PeekOp(".."):
			// Prefix range: ..b, or just .. on its own.
			if !p.c.EatOp("..=") {
				p.c.EatOp("..")
			}
			if canStartExpr(p.c.Peek()) {
				return p.unary(mode)
			}
			return true
		case p.c.Peek().IsPunct("#") && p.c.PeekAt(1).Is(token.Open, "["):
			p.c.Next()
			p.c.SkipTree()
		default:
			return p.postfix(mode)
		}
	}
}

func (p *parser) postfix(mode exprMode) bool {
	if !p.primary(mode) {
		return false
	}
	for {
		tok := p.c.Peek()
		switch {
		case tok.IsPunct("?"):
			p.c.Next()
		case tok.IsPunct(".") && !p.c.PeekOp(".."):
			p.c.Next()
			next := p.c.Next()
			switch next.Kind {
			case token.Ident, token.Number:
			default:
				return false
			}
			if p.c.PeekOp("::") {
				p.c.EatOp("::")
				if !p.generics() {
					return false
				}
			}
		case tok.Is(token.Open, "("), tok.Is(token.Open, "["):
			p.c.SkipTree()
		default:
			return true
		}
	}
}

func (p *parser) primary(mode exprMode) bool {
	tok := p.c.Peek()
	switch {
	case tok.Kind.IsLiteral():
		p.c.Next()
		return true
	case tok.Kind == token.Lifetime:
		// A labeled loop or block.
		p.c.Next()
		if !p.c.Peek().IsPunct(":") {
			return false
		}
		p.c.Next()
		return p.primary(mode)
	case tok.Kind == token.Open:
		return p.c.SkipTree()
	case tok.IsPunct("|"), p.c.PeekOp("||"):
		return p.closure()
	case tok.IsPunct("<"):
		return p.qualifiedPath(pathExpr)
	case tok.Kind != token.Ident:
		return false
	}

	switch tok.Text {
	case "true", "false":
		p.c.Next()
		return true
	case "if":
		return p.ifExpr()
	case "match":
		p.c.Next()
		return p.expr(exprNoStruct) && p.c.Group("{") != nil
	case "loop":
		p.c.Next()
		return p.c.Group("{") != nil
	case "while":
		p.c.Next()
		return p.cond() && p.c.Group("{") != nil
	case "for":
		p.c.Next()
		return p.pat(true) && p.c.EatIdent("in") && p.expr(exprNoStruct) && p.c.Group("{") != nil
	case "unsafe", "const":
		p.c.Next()
		return p.c.Group("{") != nil
	case "async":
		p.c.Next()
		p.c.EatIdent("move")
		if p.c.Peek().IsPunct("|") || p.c.PeekOp("||") {
			return p.closure()
		}
		return p.c.Group("{") != nil
	case "move", "static":
		p.c.Next()
		return p.closure()
	case "return", "break", "yield":
		p.c.Next()
		if tok.Text == "break" {
			p.lifetime()
		}
		if canStartExpr(p.c.Peek()) {
			return p.expr(mode)
		}
		return true
	case "continue":
		p.c.Next()
		p.lifetime()
		return true
	case "let":
		// Only valid inside conditions, but accepting it here keeps && chains
		// like `let Some(x) = a && b` working.
		p.c.Next()
		return p.pat(true) && p.c.EatOp("=") && p.unary(exprNoStruct)
	case "as", "else", "in", "where":
		return false
	}

	if !p.path(pathExpr) {
		return false
	}
	if p.macroCallTail() {
		return true
	}
	if mode != exprNoStruct && p.c.Peek().Is(token.Open, "{") {
		p.c.SkipTree()
	}
	return true
}

func (p *parser) ifExpr() bool {
	p.c.Next() // if
	if !p.cond() || p.c.Group("{") == nil {
		return false
	}
	if !p.c.EatIdent("else") {
		return true
	}
	if p.c.PeekIdent("if") {
		return p.ifExpr()
	}
	return p.c.Group("{") != nil
}

// cond parses an if or while condition, which may be a let binding.
func (p *parser) cond() bool {
	return p.expr(exprNoStruct)
}

func (p *parser) closure() bool {
	if !p.c.EatOp("||") {
		if !p.c.Peek().IsPunct("|") {
			return false
		}
		p.c.Next()
		for !p.c.Peek().IsPunct("|") {
			if !p.c.SkipTree() {
				return false
			}
		}
		p.c.Next()
	}
	if p.c.EatOp("->") {
		return p.ty() && p.c.Group("{") != nil
	}
	return p.expr(exprAny)
}

// canStartExpr returns whether tok may begin an expression.
func canStartExpr(tok token.Token) bool {
	switch tok.Kind {
	case token.Number, token.String, token.Char, token.Lifetime, token.Open:
		return true
	case token.Ident:
		switch tok.Text {
		case "as", "else", "in", "where":
			return false
		}
		return true
	case token.Punct:
		switch tok.Text {
		case "-", "!", "*", "&", "|", "<", "#", ".":
			return true
		}
	}
	return false
}

func (p *parser) pat(top bool) bool {
	if top {
		p.c.EatOp("|")
	}
	if !p.patNoTop() {
		return false
	}
	for top && p.c.Peek().IsPunct("|") && !p.c.PeekOp("||") {
		mark := p.c.Mark()
		p.c.Next()
		if !p.patNoTop() {
			p.c.Rewind(mark)
			break
		}
	}
	return true
}

func (p *parser) patNoTop() bool {
	tok := p.c.Peek()
	switch {
	case tok.IsIdent("_"):
		p.c.Next()
		return true
	case p.c.PeekOp(".."):
		if !p.c.EatOp("..=") {
			p.c.EatOp("..")
		}
		// Either a rest pattern or a half-open range like ..=5.
		if p.c.Peek().Kind.IsLiteral() || p.c.Peek().IsPunct("-") {
			return p.literal()
		}
		return true
	case tok.IsPunct("&"):
		p.c.Next()
		if p.c.Peek().IsPunct("&") {
			p.c.Next()
		}
		p.c.EatIdent("mut")
		return p.patNoTop()
	case tok.Kind == token.Open && tok.Text != "{":
		return p.c.SkipTree()
	case tok.Kind.IsLiteral(), tok.IsPunct("-"), tok.IsIdent("true"), tok.IsIdent("false"):
		if !p.literal() {
			return false
		}
		return p.rangeTail()
	case tok.IsIdent("box"):
		p.c.Next()
		return p.patNoTop()
	case tok.IsIdent("ref"), tok.IsIdent("mut"):
		p.c.EatIdent("ref")
		p.c.EatIdent("mut")
		return p.binding()
	case tok.IsPunct("<"):
		return p.qualifiedPath(pathExpr) && p.patPathTail()
	case tok.IsPunct(":"), tok.Kind == token.Ident:
	default:
		return false
	}

	// An identifier on its own is a binding; anything that continues like a
	// path is a path pattern.
	next := p.c.PeekAt(1)
	isBinding := tok.Kind == token.Ident && !next.IsPunct("!") &&
		!(next.IsPunct(":") && next.Joint) &&
		!(next.Kind == token.Open && next.Text != "[")
	if isBinding {
		return p.binding()
	}

	if !p.path(pathExpr) {
		return false
	}
	if p.macroCallTail() {
		return true
	}
	return p.patPathTail()
}

func (p *parser) patPathTail() bool {
	tok := p.c.Peek()
	if tok.Is(token.Open, "(") || tok.Is(token.Open, "{") {
		return p.c.SkipTree()
	}
	return p.rangeTail()
}

// binding parses ident (@ pat)?.
func (p *parser) binding() bool {
	if !p.ident() {
		return false
	}
	if p.c.Peek().IsPunct("@") {
		p.c.Next()
		return p.patNoTop()
	}
	return true
}

// rangeTail parses the end of a range pattern, if there is one.
func (p *parser) rangeTail() bool {
	if !p.c.EatOp("..=") && !p.c.EatOp("...") {
		if !p.c.EatOp("..") {
			return true
		}
	}
	tok := p.c.Peek()
	switch {
	case tok.Kind.IsLiteral(), tok.IsPunct("-"):
		return p.literal()
	case tok.Kind == token.Ident && tok.Text != "if":
		return p.path(pathExpr)
	}
	return true
}

func (p *parser) stmt() bool {
	if p.c.PeekIdent("let") {
		p.c.Next()
		if !p.pat(true) {
			return false
		}
		if p.c.Peek().IsPunct(":") && !p.c.PeekOp("::") {
			p.c.Next()
			if !p.ty() {
				return false
			}
		}
		if p.c.PeekExactOp("=") {
			p.c.Next()
			if !p.expr(exprAny) {
				return false
			}
			if p.c.EatIdent("else") {
				return p.c.Group("{") != nil
			}
		}
		return true
	}

	mark := p.c.Mark()
	if p.item() {
		return true
	}
	p.c.Rewind(mark)
	return p.expr(exprAny)
}

// itemKeywords maps item-introducing keywords to whether the item ends at
// its first braced group (as opposed to only at a semicolon).
var itemKeywords = map[string]bool{
	"fn": true, "struct": true, "enum": true, "union": true, "trait": true,
	"impl": true, "mod": true, "macro_rules": true,
	"use": false, "const": false, "static": false, "type": false, "crate": false,
}

func (p *parser) item() bool {
	p.attrs()
	p.vis()

	// Qualifiers that may precede the item keyword.
	for {
		tok := p.c.Peek()
		if tok.IsIdent("unsafe") || tok.IsIdent("async") || tok.IsIdent("default") ||
			(tok.IsIdent("const") && p.c.PeekAt(1).IsIdent("fn")) {
			p.c.Next()
			continue
		}
		if tok.IsIdent("extern") {
			p.c.Next()
			if p.c.Peek().Kind == token.String {
				p.c.Next()
			}
			if p.c.Peek().Is(token.Open, "{") {
				return p.c.SkipTree() // extern "C" { ... }
			}
			continue
		}
		break
	}

	tok := p.c.Peek()
	braced, ok := itemKeywords[tok.Text]
	switch {
	case tok.Kind == token.Ident && ok:
		p.c.Next()
		if tok.Text == "macro_rules" && !p.c.EatOp("!") {
			return false
		}
	case tok.Kind == token.Ident:
		// A macro invocation in item position.
		if !p.path(pathExpr) || !p.c.EatOp("!") {
			return false
		}
		p.ident() // macro_rules-style name, as in foo! name { }.
		if p.c.Peek().Is(token.Open, "{") {
			return p.c.SkipTree()
		}
		return p.c.SkipTree() && p.c.EatOp(";")
	default:
		return false
	}

	for {
		tok := p.c.Peek()
		switch {
		case tok.IsZero(), tok.Kind == token.Close:
			return false
		case tok.IsPunct(";"):
			p.c.Next()
			return true
		case braced && tok.Is(token.Open, "{"):
			p.c.SkipTree()
			return true
		}
		p.c.SkipTree()
	}
}

// attrs consumes any outer attributes and doc comments.
func (p *parser) attrs() {
	for {
		tok := p.c.Peek()
		switch {
		case tok.Kind == token.DocComment:
			p.c.Next()
		case tok.IsPunct("#") && p.c.PeekAt(1).Is(token.Open, "["):
			p.c.Next()
			p.c.SkipTree()
		default:
			return
		}
	}
}

func (p *parser) meta() bool {
	if p.c.PeekIdent("unsafe") && p.c.PeekAt(1).Is(token.Open, "(") {
		p.c.Next()
		return p.c.SkipTree()
	}
	if !p.path(pathExpr) {
		return false
	}
	switch {
	case p.c.Peek().Kind == token.Open:
		return p.c.SkipTree()
	case p.c.PeekExactOp("="):
		p.c.Next()
		return p.expr(exprAny)
	}
	return true
}

func (p *parser) vis() bool {
	switch {
	case p.c.PeekIdent("crate"):
		// crate::x is the start of a path, not a visibility.
		if !(p.c.PeekAt(1).IsPunct(":") && p.c.PeekAt(1).Joint) {
			p.c.Next()
		}
		return true
	case !p.c.EatIdent("pub"):
		return true
	}

	mark := p.c.Mark()
	inner := p.c.Group("(")
	if inner == nil {
		return true
	}
	switch {
	case inner.EatIdent("crate"), inner.EatIdent("self"), inner.EatIdent("super"):
		if inner.Done() {
			return true
		}
	case inner.EatIdent("in"):
		if (&parser{c: inner}).path(pathExpr) && inner.Done() {
			return true
		}
	}
	// pub (u8, u8) in a tuple struct: the group is not part of the visibility.
	p.c.Rewind(mark)
	return true
}
