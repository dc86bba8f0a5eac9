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

package token

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bufbuild/macroexpand/report"
)

// puncts is every character that lexes as a single [Punct] token.
const puncts = "~!@#$%^&*-+=|\\:;<>,./?"

// LexError is a lexical error, such as an unterminated string or an unmatched
// delimiter.
type LexError struct {
	Span    report.Span
	Problem string
}

var _ report.Diagnose = (*LexError)(nil)

// Error implements [error].
func (e *LexError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Problem, e.Span.Start)
}

// Diagnose implements [report.Diagnose].
func (e *LexError) Diagnose(d *report.Diagnostic) {
	d.With(
		report.Tag("lex-error"),
		report.Message("%s", e.Problem),
		report.Snippet(e.Span),
	)
}

// LexString is a shorthand for lexing text that does not belong to any
// particular file.
func LexString(text string) (*Stream, error) {
	return Lex(report.NewFile("", text))
}

// Lex performs lexical analysis on the given file.
//
// Lexing does not stop at the first error: the returned stream always covers
// the whole text, and the returned error is the first problem encountered, if
// any. Unmatched delimiters are left with a Match of -1.
func Lex(file *report.File) (*Stream, error) {
	l := &lexer{
		file:   file,
		text:   file.Text,
		stream: &Stream{Text: file.Text, File: file},
	}
	l.run()
	return l.stream, l.err
}

type lexer struct {
	file   *report.File
	text   string
	cursor int
	stream *Stream
	braces []int
	err    error
}

func (l *lexer) run() {
	for l.cursor < len(l.text) {
		start := l.cursor
		r, n := utf8.DecodeRuneInString(l.text[l.cursor:])

		switch {
		case unicode.IsSpace(r):
			l.cursor += n

		case strings.HasPrefix(l.text[start:], "//"):
			l.lineComment()

		case strings.HasPrefix(l.text[start:], "/*"):
			l.blockComment()

		case r == '(' || r == '[' || r == '{':
			l.cursor++
			l.braces = append(l.braces, l.push(Open, start))

		case r == ')' || r == ']' || r == '}':
			l.cursor++
			idx := l.push(Close, start)
			l.closeBrace(idx)

		case r == '\'':
			l.quote()

		case r == '"':
			l.str(start)

		case unicode.IsDigit(r):
			l.number()

		case r == '_' || unicode.IsLetter(r):
			l.identOrPrefixed()

		case strings.ContainsRune(puncts, r):
			l.cursor += n
			idx := l.push(Punct, start)
			if l.cursor < len(l.text) && strings.IndexByte(puncts, l.text[l.cursor]) >= 0 {
				l.stream.Tokens[idx].Joint = true
			}

		default:
			l.cursor += n
			idx := l.push(Unrecognized, start)
			l.fail(idx, "unrecognized character %q", r)
		}
	}

	for _, idx := range l.braces {
		l.fail(idx, "unclosed delimiter `%s`", l.stream.Tokens[idx].Text)
	}
}

// push mints a token covering [start, cursor) and returns its index.
func (l *lexer) push(kind Kind, start int) int {
	l.stream.Tokens = append(l.stream.Tokens, Token{
		Kind:   kind,
		Text:   l.text[start:l.cursor],
		Offset: start,
		Match:  -1,
	})
	return len(l.stream.Tokens) - 1
}

func (l *lexer) fail(idx int, format string, args ...any) {
	if l.err != nil {
		return
	}
	tok := l.stream.Tokens[idx]
	l.err = &LexError{
		Span:    report.Span{File: l.file, Start: tok.Offset, End: tok.End()},
		Problem: fmt.Sprintf(format, args...),
	}
}

func (l *lexer) closeBrace(idx int) {
	closer := l.stream.Tokens[idx].Text
	if len(l.braces) == 0 {
		l.fail(idx, "unexpected closing delimiter `%s`", closer)
		return
	}

	open := l.braces[len(l.braces)-1]
	if want := matching(l.stream.Tokens[open].Text); want != closer {
		l.fail(idx, "mismatched closing delimiter `%s`; expected `%s`", closer, want)
		return
	}
	l.braces = l.braces[:len(l.braces)-1]
	l.stream.Tokens[open].Match = idx
	l.stream.Tokens[idx].Match = open
}

// matching returns the closing delimiter for an opening one.
func matching(open string) string {
	switch open {
	case "(":
		return ")"
	case "[":
		return "]"
	case "{":
		return "}"
	default:
		return ""
	}
}

func (l *lexer) lineComment() {
	start := l.cursor
	end := strings.IndexByte(l.text[start:], '\n')
	if end < 0 {
		end = len(l.text)
	} else {
		end += start
	}
	l.cursor = end

	text := l.text[start:end]
	isDoc := (strings.HasPrefix(text, "///") && !strings.HasPrefix(text, "////")) ||
		strings.HasPrefix(text, "//!")
	if isDoc {
		l.push(DocComment, start)
	}
}

func (l *lexer) blockComment() {
	start := l.cursor
	l.cursor += 2
	depth := 1
	for depth > 0 {
		if l.cursor >= len(l.text) {
			idx := l.push(Unrecognized, start)
			l.fail(idx, "unterminated block comment")
			return
		}
		switch {
		case strings.HasPrefix(l.text[l.cursor:], "/*"):
			depth++
			l.cursor += 2
		case strings.HasPrefix(l.text[l.cursor:], "*/"):
			depth--
			l.cursor += 2
		default:
			l.cursor++
		}
	}

	text := l.text[start:l.cursor]
	isDoc := (strings.HasPrefix(text, "/**") && !strings.HasPrefix(text, "/***") && text != "/**/") ||
		strings.HasPrefix(text, "/*!")
	if isDoc {
		l.push(DocComment, start)
	}
}

// quote lexes either a lifetime or a character literal, both of which start
// with a single quote.
func (l *lexer) quote() {
	start := l.cursor
	rest := l.text[start+1:]
	r, n := utf8.DecodeRuneInString(rest)

	// 'a is a lifetime unless it is immediately closed, as in 'a'.
	if r == '_' || unicode.IsLetter(r) {
		end := 1 + n
		for end < len(l.text)-start {
			r, n := utf8.DecodeRuneInString(l.text[start+end:])
			if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			end += n
		}
		if start+end >= len(l.text) || l.text[start+end] != '\'' {
			l.cursor = start + end
			l.push(Lifetime, start)
			return
		}
	}

	l.charLit(start)
}

func (l *lexer) charLit(start int) {
	l.cursor++ // Skip the opening quote.
	for {
		if l.cursor >= len(l.text) || l.text[l.cursor] == '\n' {
			idx := l.push(Unrecognized, start)
			l.fail(idx, "unterminated character literal")
			return
		}
		switch l.text[l.cursor] {
		case '\\':
			l.cursor += 2
			continue
		case '\'':
			l.cursor++
			l.suffix()
			l.push(Char, start)
			return
		}
		_, n := utf8.DecodeRuneInString(l.text[l.cursor:])
		l.cursor += n
	}
}

// str lexes a string starting at the quote under the cursor. start is where
// the token begins, which is earlier than the quote when there is a prefix.
func (l *lexer) str(start int) {
	l.cursor++ // Skip the opening quote.
	for {
		if l.cursor >= len(l.text) {
			idx := l.push(Unrecognized, start)
			l.fail(idx, "unterminated string literal")
			return
		}
		switch l.text[l.cursor] {
		case '\\':
			l.cursor += 2
			continue
		case '"':
			l.cursor++
			l.suffix()
			l.push(String, start)
			return
		}
		l.cursor++
	}
}

// rawStr lexes a raw string whose hashes begin at the cursor.
func (l *lexer) rawStr(start int) {
	hashes := 0
	for l.cursor < len(l.text) && l.text[l.cursor] == '#' {
		hashes++
		l.cursor++
	}
	if l.cursor >= len(l.text) || l.text[l.cursor] != '"' {
		idx := l.push(Unrecognized, start)
		l.fail(idx, "malformed raw string literal")
		return
	}
	l.cursor++

	terminator := "\"" + strings.Repeat("#", hashes)
	end := strings.Index(l.text[l.cursor:], terminator)
	if end < 0 {
		l.cursor = len(l.text)
		idx := l.push(Unrecognized, start)
		l.fail(idx, "unterminated raw string literal")
		return
	}
	l.cursor += end + len(terminator)
	l.suffix()
	l.push(String, start)
}

func (l *lexer) number() {
	start := l.cursor
	digits := func() {
		for l.cursor < len(l.text) {
			c := l.text[l.cursor]
			if !isDigitOrUnderscore(c) {
				break
			}
			l.cursor++
		}
	}

	if strings.HasPrefix(l.text[start:], "0x") || strings.HasPrefix(l.text[start:], "0o") ||
		strings.HasPrefix(l.text[start:], "0b") {
		l.cursor += 2
		for l.cursor < len(l.text) && (isHex(l.text[l.cursor]) || l.text[l.cursor] == '_') {
			l.cursor++
		}
		l.suffix()
		l.push(Number, start)
		return
	}

	digits()
	// A dot continues the number only when followed by a digit, so that 1..2
	// and 1.foo() lex the way they should.
	if l.cursor+1 < len(l.text) && l.text[l.cursor] == '.' && isDigit(l.text[l.cursor+1]) {
		l.cursor++
		digits()
	}
	if l.cursor < len(l.text) && (l.text[l.cursor] == 'e' || l.text[l.cursor] == 'E') {
		save := l.cursor
		l.cursor++
		if l.cursor < len(l.text) && (l.text[l.cursor] == '+' || l.text[l.cursor] == '-') {
			l.cursor++
		}
		if l.cursor < len(l.text) && isDigit(l.text[l.cursor]) {
			digits()
		} else {
			l.cursor = save
		}
	}
	l.suffix()
	l.push(Number, start)
}

// suffix consumes a literal suffix like u8 or f64, if present.
func (l *lexer) suffix() {
	for l.cursor < len(l.text) {
		r, n := utf8.DecodeRuneInString(l.text[l.cursor:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return
		}
		l.cursor += n
	}
}

func (l *lexer) identOrPrefixed() {
	start := l.cursor
	for l.cursor < len(l.text) {
		r, n := utf8.DecodeRuneInString(l.text[l.cursor:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		l.cursor += n
	}
	ident := l.text[start:l.cursor]

	var next byte
	if l.cursor < len(l.text) {
		next = l.text[l.cursor]
	}

	switch {
	case (ident == "r" || ident == "br") && (next == '"' || next == '#'):
		if ident == "r" && next == '#' && l.cursor+1 < len(l.text) && l.text[l.cursor+1] != '"' &&
			l.text[l.cursor+1] != '#' {
			// A raw identifier, like r#type.
			l.cursor++
			l.suffix()
			l.push(Ident, start)
			return
		}
		l.rawStr(start)
	case ident == "b" && next == '"':
		l.str(start)
	case ident == "b" && next == '\'':
		l.charLit(start + 1)
		// charLit pushed a token starting at the quote; widen it to include b.
		last := &l.stream.Tokens[len(l.stream.Tokens)-1]
		last.Offset = start
		last.Text = l.text[start:l.cursor]
	default:
		l.push(Ident, start)
	}
}

func isDigit(c byte) bool            { return c >= '0' && c <= '9' }
func isDigitOrUnderscore(c byte) bool { return isDigit(c) || c == '_' }
func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
