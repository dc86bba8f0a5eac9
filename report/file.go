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

package report

import (
	"slices"
	"strings"
	"sync"

	"github.com/rivo/uniseg"
)

// TabstopWidth is the size we render all tabstops as.
const TabstopWidth int = 4

// File is a source file with a lazily-built line index, which diagnostics
// refer into.
type File struct {
	Path string
	Text string

	once  sync.Once
	lines []int // Byte offsets of the start of each line.
}

// NewFile creates a new File.
func NewFile(path, text string) *File {
	return &File{Path: path, Text: text}
}

// Location is a user-displayable location within a source file.
type Location struct {
	Offset int
	// 1-indexed line and column numbers. The column is measured in terminal
	// cells, not bytes.
	Line, Column int
}

// Location computes the line and column of a byte offset in this file.
func (f *File) Location(offset int) Location {
	f.index()

	offset = min(max(offset, 0), len(f.Text))
	line, found := slices.BinarySearch(f.lines, offset)
	if !found {
		line--
	}
	start := f.lines[line]
	return Location{
		Offset: offset,
		Line:   line + 1,
		Column: width(f.Text[start:offset]) + 1,
	}
}

// Line returns the text of the 1-indexed line, without its newline.
func (f *File) Line(line int) string {
	f.index()
	if line < 1 || line > len(f.lines) {
		return ""
	}
	text := f.Text[f.lines[line-1]:]
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[:nl]
	}
	return strings.TrimSuffix(text, "\r")
}

func (f *File) index() {
	f.once.Do(func() {
		f.lines = append(f.lines, 0)
		for i := range len(f.Text) {
			if f.Text[i] == '\n' {
				f.lines = append(f.lines, i+1)
			}
		}
	})
}

// Span is a byte range within a [File].
type Span struct {
	*File
	Start, End int
}

// IsZero returns whether or not this is the zero span.
func (s Span) IsZero() bool {
	return s.File == nil
}

// Text returns the text corresponding to this span.
func (s Span) Text() string {
	return s.File.Text[s.Start:s.End]
}

// Len returns the length of this span, in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// width calculates the rendered width of text placed at the start of a line,
// accounting for tabstops.
func width(text string) int {
	var column int
	for {
		tab := strings.IndexByte(text, '\t')
		if tab < 0 {
			return column + uniseg.StringWidth(text)
		}
		column += uniseg.StringWidth(text[:tab])
		column += TabstopWidth - column%TabstopWidth
		text = text[tab+1:]
	}
}
