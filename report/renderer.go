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
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Renderer configures a diagnostic rendering operation.
type Renderer struct {
	// If set, uses a compact one-line format for each diagnostic.
	Compact bool

	// If set, rendering results are enriched with ANSI color escapes.
	Colorize bool

	// If set, remark diagnostics will be printed.
	ShowRemarks bool
}

// Render renders a diagnostic report.
//
// The error return is an error when writing to the writer.
func (r Renderer) Render(report *Report, out io.Writer) (errorCount, warningCount int, err error) {
	for i := range report.Diagnostics {
		d := &report.Diagnostics[i]
		if !r.ShowRemarks && d.level == Remark {
			continue
		}
		switch d.level {
		case ICE, Error:
			errorCount++
		case Warning:
			warningCount++
		}

		if _, err = io.WriteString(out, r.Diagnostic(d)); err != nil {
			return errorCount, warningCount, err
		}
	}
	return errorCount, warningCount, nil
}

// RenderString is a helper for calling [Renderer.Render] with a [strings.Builder].
func (r Renderer) RenderString(report *Report) (text string, errorCount, warningCount int) {
	var buf strings.Builder
	e, w, _ := r.Render(report, &buf)
	return buf.String(), e, w
}

// Diagnostic renders a single diagnostic to a string, including a trailing
// newline.
func (r Renderer) Diagnostic(d *Diagnostic) string {
	c := r.colors()
	var out strings.Builder

	primary := d.Primary()
	if r.Compact {
		if !primary.IsZero() {
			loc := primary.Location(primary.Start)
			fmt.Fprintf(&out, "%s:%d:%d: ", primary.Path, loc.Line, loc.Column)
		} else if d.inFile != "" {
			fmt.Fprintf(&out, "%s: ", d.inFile)
		}
		fmt.Fprintf(&out, "%s%v%s: %s\n", c.level(d.level), d.level, c.reset, d.message)
		return out.String()
	}

	fmt.Fprintf(&out, "%s%v%s: %s\n", c.level(d.level), d.level, c.reset, d.message)
	switch {
	case !primary.IsZero():
		loc := primary.Location(primary.Start)
		fmt.Fprintf(&out, "%s  --> %s%s:%d:%d\n", c.dim, c.reset, primary.Path, loc.Line, loc.Column)
	case d.inFile != "":
		fmt.Fprintf(&out, "%s  --> %s%s\n", c.dim, c.reset, d.inFile)
	}

	gutter := 0
	for _, a := range d.annotations {
		gutter = max(gutter, len(strconv.Itoa(a.Location(a.Start).Line)))
	}
	for _, a := range d.annotations {
		r.snippet(&out, a, gutter, c, d.level)
	}
	pad := strings.Repeat(" ", gutter)
	for _, n := range d.notes {
		fmt.Fprintf(&out, "%s %s= note:%s %s\n", pad, c.dim, c.reset, n)
	}
	for _, h := range d.help {
		fmt.Fprintf(&out, "%s %s= help:%s %s\n", pad, c.dim, c.reset, h)
	}
	return out.String()
}

// snippet renders one annotated span: the first line it touches, and an
// underline below it. Spans that run past the end of their first line are
// underlined up to the end of that line.
func (r Renderer) snippet(out *strings.Builder, a annotation, gutter int, c stylesheet, level Level) {
	start := a.Location(a.Start)
	line := a.Line(start.Line)
	lineStart := strings.LastIndexByte(a.File.Text[:start.Offset], '\n') + 1

	end := min(max(a.End, start.Offset), lineStart+len(line))
	cols := max(width(a.File.Text[lineStart:end])-(start.Column-1), 1)

	color := c.dim
	mark := "-"
	if a.primary {
		color = c.level(level)
		mark = "^"
	}

	pad := strings.Repeat(" ", gutter)
	fmt.Fprintf(out, "%s %s|%s\n", pad, c.dim, c.reset)
	fmt.Fprintf(out, "%*d %s|%s %s\n", gutter, start.Line, c.dim, c.reset, line)
	fmt.Fprintf(out, "%s %s|%s %s%s%s", pad, c.dim, c.reset, strings.Repeat(" ", start.Column-1), color, strings.Repeat(mark, cols))
	if a.message != "" {
		fmt.Fprintf(out, " %s", a.message)
	}
	fmt.Fprintf(out, "%s\n", c.reset)
}

type stylesheet struct {
	reset, dim, err, warn, remark string
}

func (r Renderer) colors() stylesheet {
	if !r.Colorize {
		return stylesheet{}
	}
	return stylesheet{
		reset:  "\033[0m",
		dim:    "\033[1;94m",
		err:    "\033[1;91m",
		warn:   "\033[1;93m",
		remark: "\033[1;96m",
	}
}

func (c stylesheet) level(l Level) string {
	switch l {
	case ICE, Error:
		return c.err
	case Warning:
		return c.warn
	default:
		return c.remark
	}
}
