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

package scheduler

import (
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/bufbuild/macroexpand/cache"
	"github.com/bufbuild/macroexpand/internal/incremental"
	"github.com/bufbuild/macroexpand/macro"
	"github.com/bufbuild/macroexpand/vfs"
	"github.com/bufbuild/macroexpand/workspace"
)

// scanFile is a query that scans one source file.
type scanFile struct {
	source fs.FS
	path   string
}

var _ incremental.Query[*workspace.File] = scanFile{}

func fileKey(path string) string {
	return "file://" + path
}

func (q scanFile) Key() string {
	return fileKey(q.path)
}

func (q scanFile) Execute(*incremental.Task) (*workspace.File, error) {
	data, err := fs.ReadFile(q.source, q.path)
	if err != nil {
		return nil, err
	}
	return workspace.Scan(q.path, string(data)), nil
}

// readInclude is a query that hashes a file read by include!, so that the
// crates including it depend on its contents.
type readInclude struct {
	source fs.FS
	path   string
}

var _ incremental.Query[macro.Hash] = readInclude{}

func includeKey(path string) string {
	return "include://" + path
}

func (q readInclude) Key() string {
	return includeKey(q.path)
}

func (q readInclude) Execute(*incremental.Task) (macro.Hash, error) {
	data, err := fs.ReadFile(q.source, q.path)
	if err != nil {
		return macro.Hash{}, err
	}
	return macro.HashOf(string(data)), nil
}

// required is an expansion file that must exist. Its text is not kept: it
// is expanded again, through the cache, when the file is first read.
type required struct {
	path string
	size int
	def  *macro.Definition
	call *macro.Call
}

// Failure is a macro call that could not be expanded. The call is left
// unexpanded; the rest of its crate is unaffected.
type Failure struct {
	Crate string
	File  string
	Call  workspace.Call
	Err   error
}

// crateExpansions is the result of expanding every call in a crate.
type crateExpansions struct {
	files    []required
	failures []Failure
}

// expandCrate is a query that expands every macro call in a crate.
type expandCrate struct {
	m     *Manager
	crate *workspace.Crate
	// The source the crate's files are read from.
	source fs.FS
}

var _ incremental.Query[*crateExpansions] = expandCrate{}

func (m *Manager) crateKey(name string) string {
	return fmt.Sprintf("crate://%s/%s", m.project, name)
}

func (q expandCrate) Key() string {
	return q.m.crateKey(q.crate.Name)
}

func (q expandCrate) Execute(t *incremental.Task) (*crateExpansions, error) {
	ctx := t.Context()

	queries := make([]incremental.Query[*workspace.File], len(q.crate.Files))
	for i, path := range q.crate.Files {
		queries[i] = scanFile{source: q.source, path: path}
	}
	files, err := incremental.Resolve(t, queries...)
	if err != nil {
		return nil, err
	}

	// Definitions are visible throughout their crate; a later definition of
	// the same name shadows an earlier one.
	defs := make(map[string]*macro.Definition)
	for i, file := range files {
		if file.Fatal != nil {
			return nil, fmt.Errorf("reading %s: %w", q.crate.Files[i], file.Fatal)
		}
		if file.Value.Err != nil {
			q.m.logger.Debug("lexical error in source file",
				zap.String("file", file.Value.Path),
				zap.Error(file.Value.Err),
			)
		}
		for _, def := range file.Value.Definitions {
			defs[def.Name] = def
		}
	}

	out := new(crateExpansions)
	ordinals := make(map[macro.Hash]int)
	for _, file := range files {
		for _, site := range file.Value.Calls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			def, ok := defs[site.Name]
			if !ok {
				if def, ok = macro.Builtin(site.Name); !ok {
					continue
				}
			}
			call := &macro.Call{Name: site.Name, Body: site.Body, Path: file.Value.Path, Env: q.m.env}
			hash := cache.Mix(def, call)
			if def.Kind.ReadsFiles() {
				if hash, err = q.included(t, call, hash); err != nil {
					return nil, err
				}
			}

			exp, err := q.m.cache.CachedExpand(ctx, def, call)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				out.failures = append(out.failures, Failure{
					Crate: q.crate.Name,
					File:  file.Value.Path,
					Call:  site,
					Err:   err,
				})
				continue
			}

			ordinal := ordinals[hash]
			ordinals[hash]++
			out.files = append(out.files, required{
				path: vfs.ExpansionPath(q.m.fs.Root(), q.m.project, q.crate.Name, hash, ordinal),
				size: len(exp.Text),
				def:  def,
				call: call,
			})
		}
	}
	return out, nil
}

// included mixes the contents of the file an include! call reads into hash,
// so that an edit to that file moves the expansion to a new path. The crate
// comes to depend on the file, and is re-expanded when it changes.
func (q expandCrate) included(t *incremental.Task, call *macro.Call, hash macro.Hash) (macro.Hash, error) {
	file, ok := macro.IncludedFile(call)
	if !ok {
		return hash, nil
	}
	r, err := incremental.Resolve(t, readInclude{source: q.source, path: workspace.IncludePath(call.Path, file)})
	if err != nil {
		return hash, err
	}
	// A missing file hashes as zero; expanding the call reports it.
	var content macro.Hash
	if r[0].Fatal == nil {
		content = r[0].Value
	}
	return macro.HashOf("include", string(hash[:]), string(content[:])), nil
}
