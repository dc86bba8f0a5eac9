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
	"errors"
	"fmt"
	"strings"
)

// Report is a collection of diagnostics.
type Report struct {
	Diagnostics []Diagnostic
}

// Error pushes an error diagnostic onto this report.
func (r *Report) Error(err Diagnose) *Diagnostic {
	d := r.push(Error)
	err.Diagnose(d)
	return d
}

// Warn pushes a warning diagnostic onto this report.
func (r *Report) Warn(err Diagnose) *Diagnostic {
	d := r.push(Warning)
	err.Diagnose(d)
	return d
}

// Remark pushes a remark diagnostic onto this report.
func (r *Report) Remark(err Diagnose) *Diagnostic {
	d := r.push(Remark)
	err.Diagnose(d)
	return d
}

// Errorf creates a new error diagnostic with an unspecified error type;
// analogous to [fmt.Errorf].
func (r *Report) Errorf(format string, args ...any) *Diagnostic {
	return r.push(Error).With(Message(format, args...))
}

// ErrorOf pushes an arbitrary error onto this report. If err (or anything it
// wraps) implements [Diagnose], that is used to fill in the diagnostic;
// otherwise the error's text becomes the message.
func (r *Report) ErrorOf(err error) *Diagnostic {
	var diag Diagnose
	if errors.As(err, &diag) {
		return r.Error(diag)
	}
	return r.Errorf("%v", err)
}

// ICE pushes an internal-error diagnostic for a recovered panic.
func (r *Report) ICE(panicked any) *Diagnostic {
	return r.push(ICE).With(
		Message("unexpected panic during expansion: %v", panicked),
		Help("this is a bug in the macro expander"),
	)
}

// HasErrors returns whether this report contains any error or ICE diagnostics.
func (r *Report) HasErrors() bool {
	for i := range r.Diagnostics {
		if r.Diagnostics[i].level <= Error {
			return true
		}
	}
	return false
}

func (r *Report) push(level Level) *Diagnostic {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{level: level})
	return &r.Diagnostics[len(r.Diagnostics)-1]
}

// AsError wraps a [Report] as an [error].
type AsError struct {
	Report Report
}

// Error implements [error].
func (e *AsError) Error() string {
	var msgs []string
	for _, d := range e.Report.Diagnostics {
		msgs = append(msgs, fmt.Sprintf("%v: %s", d.level, d.message))
	}
	return strings.Join(msgs, "; ")
}

// ErrInFile wraps an [error] into a diagnostic on the given file.
type ErrInFile struct {
	Err  error
	Path string
}

var _ Diagnose = &ErrInFile{}

// Error implements [error].
func (e *ErrInFile) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap implements the [errors] unwrapping interface.
func (e *ErrInFile) Unwrap() error {
	return e.Err
}

// Diagnose implements [Diagnose].
func (e *ErrInFile) Diagnose(d *Diagnostic) {
	d.With(
		Message("%v", e.Err),
		InFile(e.Path),
	)
}
