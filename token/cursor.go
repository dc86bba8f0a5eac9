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

// Cursor is an iterator-like construct for walking over a range of a [Stream].
// Unlike a plain range func, it supports peeking and rewinding.
//
// Cursors walk tokens one at a time, so an opening delimiter and its contents
// are visited individually; use [Cursor.SkipTree] to step over a whole token
// tree.
type Cursor struct {
	stream *Stream
	// start is inclusive, end is exclusive.
	start, end int
	idx        int
}

// CursorMark is the return value of [Cursor.Mark], which marks a position on
// a Cursor for rewinding to.
type CursorMark struct {
	owner *Cursor
	idx   int
}

// Stream returns the stream this cursor walks over.
func (c *Cursor) Stream() *Stream {
	return c.stream
}

// Index returns the index in the stream of the next token to be yielded.
func (c *Cursor) Index() int {
	return c.idx
}

// Done returns whether or not there are still tokens left to yield.
func (c *Cursor) Done() bool {
	return c.idx >= c.end
}

// Remaining returns the number of tokens left in this cursor.
func (c *Cursor) Remaining() int {
	return c.end - c.idx
}

// Mark makes a mark on this cursor to indicate a place that can be rewound
// to.
func (c *Cursor) Mark() CursorMark {
	return CursorMark{owner: c, idx: c.idx}
}

// Rewind moves this cursor back to the position described by mark.
//
// Panics if mark was not created using this cursor's Mark method.
func (c *Cursor) Rewind(mark CursorMark) {
	if c != mark.owner {
		panic("macroexpand/token: rewound cursor using the wrong cursor's mark")
	}
	c.idx = mark.idx
}

// Since returns the stream index range of tokens consumed since mark.
func (c *Cursor) Since(mark CursorMark) (start, end int) {
	return mark.idx, c.idx
}

// Peek returns the next token without consuming it.
//
// Returns the zero token if this cursor is at the end of its range.
func (c *Cursor) Peek() Token {
	return c.PeekAt(0)
}

// PeekAt returns the token n positions after the next one, without consuming
// anything.
func (c *Cursor) PeekAt(n int) Token {
	i := c.idx + n
	if i < c.start || i >= c.end {
		return Token{}
	}
	return c.stream.Tokens[i]
}

// Next returns the next token in the sequence, and advances the cursor.
func (c *Cursor) Next() Token {
	tok := c.Peek()
	if !tok.IsZero() {
		c.idx++
	}
	return tok
}

// SkipTree consumes a single token tree: either one non-delimiter token, or
// an opening delimiter together with everything up to its match.
//
// Returns false, consuming nothing, if the next token is a closing delimiter
// or the cursor is done.
func (c *Cursor) SkipTree() bool {
	tok := c.Peek()
	switch {
	case tok.IsZero(), tok.Kind == Close:
		return false
	case tok.Kind == Open:
		if tok.Match < c.idx || tok.Match >= c.end {
			return false
		}
		c.idx = tok.Match + 1
	default:
		c.idx++
	}
	return true
}

// Group returns a cursor over the contents of the delimited group that
// starts at the next token, and advances this cursor past the group.
//
// Returns nil if the next token is not an opening delimiter of the given
// kind; an empty open means any delimiter.
func (c *Cursor) Group(open string) *Cursor {
	tok := c.Peek()
	if tok.Kind != Open || (open != "" && tok.Text != open) {
		return nil
	}
	if tok.Match < c.idx || tok.Match >= c.end {
		return nil
	}
	inner := c.stream.Slice(c.idx+1, tok.Match)
	c.idx = tok.Match + 1
	return inner
}

// PeekOp returns whether the next tokens spell out the given operator, as a
// run of joint punctuation. For example, "=>" matches a joint = followed by >.
//
// The final character of op may itself be joint with whatever follows; use
// [Cursor.PeekExactOp] to rule that out.
func (c *Cursor) PeekOp(op string) bool {
	for i := range len(op) {
		tok := c.PeekAt(i)
		if tok.Kind != Punct || tok.Text != op[i:i+1] {
			return false
		}
		if i < len(op)-1 && !tok.Joint {
			return false
		}
	}
	return true
}

// PeekExactOp is like [Cursor.PeekOp], but additionally requires that op is
// not the prefix of a longer punctuation run.
func (c *Cursor) PeekExactOp(op string) bool {
	return c.PeekOp(op) && !c.PeekAt(len(op)-1).Joint
}

// EatOp consumes op if [Cursor.PeekOp] returns true for it.
func (c *Cursor) EatOp(op string) bool {
	if !c.PeekOp(op) {
		return false
	}
	c.idx += len(op)
	return true
}

// EatIdent consumes the next token if it is the identifier text.
func (c *Cursor) EatIdent(text string) bool {
	if !c.Peek().IsIdent(text) {
		return false
	}
	c.idx++
	return true
}

// PeekIdent returns whether the next token is the identifier text.
func (c *Cursor) PeekIdent(text string) bool {
	return c.Peek().IsIdent(text)
}
