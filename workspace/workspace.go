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
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bufbuild/macroexpand/macro"
)

// DefaultInclude is the glob used when no include globs are configured.
const DefaultInclude = "**/*.rs"

// RootCrate is the name of the crate made of the files at the top of the
// workspace.
const RootCrate = "_root"

// vendorDir holds crates that the workspace depends on but does not own.
const vendorDir = "vendor"

// Workspace is a set of crates read from one directory tree.
type Workspace struct {
	// Where source files are read from. Paths in crates are relative to it.
	Source fs.FS
	Crates []*Crate
}

// Crate is a unit of source files whose macros are expanded together.
type Crate struct {
	Name string
	// Whether the crate belongs to the workspace, rather than being a
	// vendored dependency.
	Workspace bool
	// Slash-separated paths relative to the workspace source, sorted.
	Files []string
}

// Crate returns the crate with the given name.
func (w *Workspace) Crate(name string) (*Crate, bool) {
	i := slices.IndexFunc(w.Crates, func(c *Crate) bool { return c.Name == name })
	if i < 0 {
		return nil, false
	}
	return w.Crates[i], true
}

// CrateOf returns the crate a source file belongs to.
func (w *Workspace) CrateOf(file string) (*Crate, bool) {
	name, _ := crateOf(file)
	c, ok := w.Crate(name)
	if !ok || !slices.Contains(c.Files, file) {
		return nil, false
	}
	return c, true
}

// LoadFile implements [macro.FileLoader], resolving include! paths relative
// to the directory of the including file.
func (w *Workspace) LoadFile(_ context.Context, from, file string) (string, error) {
	file = IncludePath(from, file)
	data, err := fs.ReadFile(w.Source, file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var _ macro.FileLoader = (*Workspace)(nil)

// IncludePath returns the workspace path that an include! of file, written
// in the source file from, refers to.
func IncludePath(from, file string) string {
	if !path.IsAbs(file) {
		file = path.Join(path.Dir(from), file)
	}
	return strings.TrimPrefix(path.Clean(file), "/")
}

// Load finds the source files of a workspace.
//
// Every top-level directory is a workspace crate, and every directory
// under vendor/ is a dependency crate. Files directly at the top belong to
// [RootCrate]. include is a list of doublestar globs selecting source
// files; if empty, [DefaultInclude] is used.
func Load(fsys fs.FS, include []string) (*Workspace, error) {
	if len(include) == 0 {
		include = []string{DefaultInclude}
	}

	var files []string
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include glob: %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("matching %q: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	files = slices.Compact(files)

	ws := &Workspace{Source: fsys}
	crates := make(map[string]*Crate)
	for _, file := range files {
		name, vendored := crateOf(file)
		if name == "" {
			continue
		}
		c := crates[name]
		if c == nil {
			c = &Crate{Name: name, Workspace: !vendored}
			crates[name] = c
			ws.Crates = append(ws.Crates, c)
		}
		c.Files = append(c.Files, file)
	}
	slices.SortFunc(ws.Crates, func(a, b *Crate) int { return strings.Compare(a.Name, b.Name) })
	return ws, nil
}

// crateOf returns the name of the crate a file belongs to, and whether it is
// vendored. Returns "" for files directly under vendor/.
func crateOf(file string) (name string, vendored bool) {
	top, rest, ok := strings.Cut(file, "/")
	switch {
	case !ok:
		return RootCrate, false
	case top != vendorDir:
		return top, false
	}
	name, _, ok = strings.Cut(rest, "/")
	if !ok {
		return "", true
	}
	return name, true
}
