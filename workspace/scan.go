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

package workspace

import (
	"github.com/bufbuild/macroexpand/macro"
	"github.com/bufbuild/macroexpand/report"
	"github.com/bufbuild/macroexpand/token"
)

// File is what a scan found in one source file.
type File struct {
	Path        string
	Definitions []*macro.Definition
	Calls       []Call
	// The first lexical error in the file, if any. Definitions and calls
	// that lexed cleanly are still reported.
	Err error
}

// Call is a macro call site in a source file.
type Call struct {
	Name string
	// Byte offset of the macro name, and of the end of the closing delimiter.
	Start, End int
	// Byte offsets of the body, between the delimiters.
	BodyStart, BodyEnd int
	Body               string
	// The opening delimiter: one of ( [ {.
	Delim string
}

// Scan finds the macro_rules! definitions and the outermost macro calls in a
// source file. Definitions are not themselves calls, and calls inside a
// definition or inside another call's body are not reported: they only
// exist once the enclosing macro has been expanded.
func Scan(path, text string) *File {
	stream, err := token.Lex(report.NewFile(path, text))
	file := &File{Path: path, Err: err}

	c := stream.Cursor()
	for !c.Done() {
		tok := c.Peek()
		bang, next := c.PeekAt(1), c.PeekAt(2)
		if tok.Kind != token.Ident || tok.IsKeyword() || !bang.IsPunct("!") || bang.Joint {
			c.Next()
			continue
		}

		if tok.Text == "macro_rules" {
			// macro_rules! name { ... }
			open := c.PeekAt(3)
			if next.Kind != token.Ident || open.Kind != token.Open || open.Match < 0 {
				c.Next()
				continue
			}
			closeTok := stream.At(open.Match)
			file.Definitions = append(file.Definitions,
				macro.NewDefinition(next.Name(), text[open.End():closeTok.Offset]))
			c.Next()
			c.Next()
			c.Next()
			c.SkipTree()
			continue
		}

		if next.Kind != token.Open || next.Match < 0 {
			c.Next()
			continue
		}
		closeTok := stream.At(next.Match)
		file.Calls = append(file.Calls, Call{
			Name:      tok.Name(),
			Start:     tok.Offset,
			End:       closeTok.End(),
			BodyStart: next.End(),
			BodyEnd:   closeTok.Offset,
			Body:      text[next.End():closeTok.Offset],
			Delim:     next.Text,
		})
		c.Next()
		c.Next()
		c.SkipTree()
	}
	return file
}
