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

package report_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/macroexpand/report"
)

func TestRender(t *testing.T) {
	t.Parallel()

	file := report.NewFile("a.rs", "let x = 1;\nlet y = oops;\n")
	start := strings.Index(file.Text, "oops")
	span := report.Span{File: file, Start: start, End: start + len("oops")}
	require.Equal(t, "oops", span.Text())

	var r report.Report
	r.Errorf("unknown thing").With(
		report.Snippet(span, "here"),
		report.Help("try %d", 1),
	)

	text, errs, warns := report.Renderer{}.RenderString(&r)
	assert.Equal(t, 1, errs)
	assert.Zero(t, warns)
	assert.Equal(t, `error: unknown thing
  --> a.rs:2:9
  |
2 | let y = oops;
  |         ^^^^ here
  = help: try 1
`, text)

	text, _, _ = report.Renderer{Compact: true}.RenderString(&r)
	assert.Equal(t, "a.rs:2:9: error: unknown thing\n", text)

	text, _, _ = report.Renderer{Colorize: true}.RenderString(&r)
	assert.Contains(t, text, "\033[1;91merror\033[0m: unknown thing")
}

type failure struct{ span report.Span }

func (f *failure) Error() string { return "failure" }

func (f *failure) Diagnose(d *report.Diagnostic) {
	d.With(report.Message("it failed"), report.Snippet(f.span), report.Tag("it-failed"))
}

func TestErrorOf(t *testing.T) {
	t.Parallel()

	var r report.Report
	assert.False(t, r.HasErrors())

	r.ErrorOf(errors.New("boom"))
	wrapped := &report.ErrInFile{Err: errors.New("unreadable"), Path: "b.rs"}
	d := r.ErrorOf(wrapped)
	assert.Equal(t, "unreadable", d.Message())
	assert.True(t, d.Primary().IsZero())

	file := report.NewFile("c.rs", "x")
	d = r.ErrorOf(&failure{span: report.Span{File: file, Start: 0, End: 1}})
	assert.True(t, d.Is("it-failed"))
	assert.Equal(t, "x", d.Primary().Text())

	assert.True(t, r.HasErrors())
	assert.Equal(t, "error: boom; error: unreadable; error: it failed", (&report.AsError{Report: r}).Error())

	text, _, _ := report.Renderer{Compact: true}.RenderString(&r)
	assert.Equal(t, "error: boom\nb.rs: error: unreadable\nc.rs:1:1: error: it failed\n", text)
}

func TestRemarks(t *testing.T) {
	t.Parallel()

	var r report.Report
	r.Remark(&failure{})
	r.ICE("oh no")
	assert.True(t, r.HasErrors())

	text, errs, _ := report.Renderer{Compact: true}.RenderString(&r)
	assert.Equal(t, 1, errs)
	assert.Equal(t, "internal error: unexpected panic during expansion: oh no\n", text)

	text, _, _ = report.Renderer{Compact: true, ShowRemarks: true}.RenderString(&r)
	assert.True(t, strings.HasPrefix(text, "remark: it failed\n"), text)
}

func TestLocation(t *testing.T) {
	t.Parallel()

	file := report.NewFile("d.rs", "ab\n\tx\n日本y")
	assert.Equal(t, report.Location{Offset: 1, Line: 1, Column: 2}, file.Location(1))
	assert.Equal(t, report.Location{Offset: 3, Line: 2, Column: 1}, file.Location(3))
	assert.Equal(t, report.Location{Offset: 4, Line: 2, Column: 1 + report.TabstopWidth}, file.Location(4))
	assert.Equal(t, report.Location{Offset: 12, Line: 3, Column: 5}, file.Location(12))
	assert.Equal(t, "\tx", file.Line(2))
	assert.Empty(t, file.Line(7))
}
