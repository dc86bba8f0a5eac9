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
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bufbuild/macroexpand/cache"
	"github.com/bufbuild/macroexpand/internal/incremental"
	"github.com/bufbuild/macroexpand/vfs"
	"github.com/bufbuild/macroexpand/workspace"
)

// Manager keeps the expansion files of one project in a [vfs.FS] in step
// with the project's source.
//
// Expansion work runs on the manager's own executor, whose pool is not
// shared with anything else in the process.
type Manager struct {
	project string
	fs      *vfs.FS
	cache   *cache.Cache
	exec    *incremental.Executor
	logger  *zap.Logger
	env     map[string]string

	mu        sync.Mutex
	ws        *workspace.Workspace
	processed map[string]bool // By crate name.

	modCount atomic.Int64
}

// Option configures a [Manager].
type Option func(*Manager)

// WithLogger sets the logger for reconciliation.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithParallelism bounds how many crates or files are worked on at once.
// Zero or negative means GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(m *Manager) {
		m.exec = incremental.New(incremental.WithParallelism(int64(n)))
	}
}

// WithEnv sets the environment visible to macro calls.
func WithEnv(env map[string]string) Option {
	return func(m *Manager) { m.env = maps.Clone(env) }
}

// NewManager returns a manager for the given project, opening the
// project's subtree in fs.
func NewManager(project string, fs *vfs.FS, c *cache.Cache, opts ...Option) (*Manager, error) {
	m := &Manager{
		project:   project,
		fs:        fs,
		cache:     c,
		logger:    zap.NewNop(),
		processed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.exec == nil {
		m.exec = incremental.New()
	}
	if err := fs.OpenProject(project); err != nil {
		return nil, err
	}
	m.logger = m.logger.With(zap.String("project", project))
	return m, nil
}

// Project returns the id of the project this manager reconciles.
func (m *Manager) Project() string {
	return m.project
}

// ModificationCount returns a counter that goes up by one every time a
// reconciliation changes the file system, however many files it touched.
func (m *Manager) ModificationCount() int64 {
	return m.modCount.Load()
}

// SetWorkspace replaces the manager's view of the project's source.
// Memoized work for crates whose file lists changed, and for files that
// went away, is dropped. Edits to files that still exist are reported with
// [Manager.MarkChanged].
//
// Must not be called while a reconciliation is running; a [Queue] takes
// care of that.
func (m *Manager) SetWorkspace(ws *workspace.Workspace) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.ws
	m.ws = ws
	if prev == nil {
		return
	}
	var stale []string
	for _, old := range prev.Crates {
		c, ok := ws.Crate(old.Name)
		if ok && slices.Equal(c.Files, old.Files) {
			continue
		}
		stale = append(stale, m.crateKey(old.Name))
		for _, file := range old.Files {
			if !ok || !slices.Contains(c.Files, file) {
				stale = append(stale, fileKey(file))
			}
		}
	}
	m.exec.Evict(stale...)
}

// MarkChanged records that the given files were edited, so that the next
// reconciliation rescans them and re-expands their crates, along with every
// crate that includes them with include!.
func (m *Manager) MarkChanged(paths ...string) {
	keys := make([]string, 0, 2*len(paths))
	for _, path := range paths {
		keys = append(keys, fileKey(path), includeKey(path))
	}
	m.exec.Evict(keys...)
}

// Summary describes what a reconciliation did.
type Summary struct {
	Created, Deleted int
	// Calls that could not be expanded.
	Failures []Failure
}

// Reconcile brings the expansion files of every crate in scope in line
// with the crate's source: files for calls that no longer exist are
// deleted, and files for new calls are created, all in one batch.
//
// ctx is polled throughout; a cancelled reconciliation changes nothing.
func (m *Manager) Reconcile(ctx context.Context, scope Scope) (*Summary, error) {
	m.mu.Lock()
	ws := m.ws
	var crates []*workspace.Crate
	if ws != nil {
		for _, c := range ws.Crates {
			switch scope {
			case Unprocessed:
				if m.processed[c.Name] {
					continue
				}
			case Workspace:
				if !c.Workspace {
					continue
				}
			}
			crates = append(crates, c)
		}
	}
	m.mu.Unlock()

	// Expand every crate in parallel, then join before touching the tree.
	results := make([]*crateExpansions, len(crates))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range crates {
		g.Go(func() error {
			r, err := incremental.Run(gctx, m.exec, expandCrate{m: m, crate: c, source: ws.Source})
			if err != nil {
				return err
			}
			if r[0].Fatal != nil {
				return fmt.Errorf("crate %s: %w", c.Name, r[0].Fatal)
			}
			results[i] = r[0].Value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	existing, err := m.fs.Files(m.project)
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(existing))
	for _, path := range existing {
		have[path] = true
	}

	summary := new(Summary)
	batch := vfs.Batch{Project: m.project}
	want := make(map[string]bool)
	inScope := make(map[string]bool)
	for i, c := range crates {
		inScope[c.Name] = true
		for _, f := range results[i].files {
			want[f.path] = true
			if !have[f.path] {
				batch.Create = append(batch.Create, vfs.File{Path: f.path, Content: m.content(f)})
			}
		}
		summary.Failures = append(summary.Failures, results[i].failures...)
	}

	known := make(map[string]bool)
	if ws != nil {
		for _, c := range ws.Crates {
			known[c.Name] = true
		}
	}
	prefix := "/" + m.fs.Root() + "/" + m.project + "/"
	for _, path := range existing {
		crate, _, _ := strings.Cut(strings.TrimPrefix(path, prefix), "/")
		switch {
		case inScope[crate] && !want[path]:
		case scope == Full && !known[crate]:
		default:
			continue
		}
		batch.Delete = append(batch.Delete, path)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !batch.IsEmpty() {
		if err := m.fs.Apply(batch); err != nil {
			return nil, err
		}
		m.modCount.Add(1)
	}
	summary.Created, summary.Deleted = len(batch.Create), len(batch.Delete)

	m.mu.Lock()
	for _, c := range crates {
		m.processed[c.Name] = true
	}
	m.mu.Unlock()

	m.logger.Debug("reconciled",
		zap.Stringer("scope", scope),
		zap.Int("crates", len(crates)),
		zap.Int("created", summary.Created),
		zap.Int("deleted", summary.Deleted),
		zap.Int("failures", len(summary.Failures)),
	)
	return summary, nil
}

// content returns the content of an expansion file: the call is expanded
// again on first read, which is a cache hit for anything but include!.
func (m *Manager) content(f required) vfs.Content {
	return vfs.Lazy(int64(f.size), func() ([]byte, error) {
		exp, err := m.cache.CachedExpand(context.Background(), f.def, f.call)
		if err != nil {
			return nil, err
		}
		return []byte(exp.Text), nil
	})
}

// Clear deletes every expansion file of the project, in one batch, and
// forgets which crates were reconciled.
func (m *Manager) Clear(ctx context.Context) error {
	existing, err := m.fs.Files(m.project)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	clear(m.processed)
	m.mu.Unlock()

	if len(existing) == 0 {
		return nil
	}
	if err := m.fs.Apply(vfs.Batch{Project: m.project, Delete: existing}); err != nil {
		return err
	}
	m.modCount.Add(1)
	return nil
}

// Close closes the project's subtree in the file system.
func (m *Manager) Close() error {
	err := m.fs.CloseProject(m.project)
	var verr *vfs.Error
	if errors.As(err, &verr) && verr.Kind == vfs.NotFound {
		return nil
	}
	return err
}
