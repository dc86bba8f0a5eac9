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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bufbuild/macroexpand/macro"
	"github.com/bufbuild/macroexpand/scheduler"
	"github.com/bufbuild/macroexpand/vfs"
	"github.com/bufbuild/macroexpand/workspace"
)

// vfsRoot is the name of the synthetic tree expansion files are kept in.
const vfsRoot = "macros"

type reconcileFlags struct {
	out     string
	scope   string
	project string
	env     map[string]string
}

func newReconcileCommand(a *app) *cobra.Command {
	flags := new(reconcileFlags)
	cmd := &cobra.Command{
		Use:   "reconcile DIR",
		Short: "Expand every macro call in a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()

			scope, err := scheduler.ParseScope(flags.scope)
			if err != nil {
				return err
			}
			p, err := a.openProject(ctx, args[0], flags.project, flags.env)
			if err != nil {
				return err
			}
			defer p.close()

			summary, err := p.manager.Reconcile(ctx, scope)
			if err != nil {
				return err
			}
			a.printSummary(cmd.OutOrStdout(), summary)

			if flags.out != "" {
				if err := p.export(flags.out); err != nil {
					return err
				}
			}
			if len(summary.Failures) > 0 {
				return errors.New("some macro calls did not expand")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "Write expansion files under this directory")
	cmd.Flags().StringVar(&flags.scope, "scope", scheduler.Full.String(), "One of unprocessed, workspace, or full")
	cmd.Flags().StringVar(&flags.project, "project", "", "Project id; defaults to the directory's name")
	cmd.Flags().StringToStringVar(&flags.env, "env", nil, "Environment visible to env!-style macros")
	return cmd
}

// project is one workspace opened for reconciliation.
type project struct {
	dir     string
	id      string
	tree    *vfs.FS
	manager *scheduler.Manager
	close   func()
}

// openProject loads the workspace in dir and sets up a manager for it.
func (a *app) openProject(ctx context.Context, dir, id string, env map[string]string) (*project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = filepath.Base(abs)
	}

	ws, err := workspace.Load(os.DirFS(abs), a.cfg.Workspace.Include)
	if err != nil {
		return nil, err
	}
	a.logger.Info("loaded workspace", zap.String("dir", abs), zap.Int("crates", len(ws.Crates)))

	c := a.openCache(ctx, macro.WithFileLoader(ws))
	tree := vfs.New(vfsRoot)
	m, err := scheduler.NewManager(id, tree, c,
		scheduler.WithLogger(a.logger),
		scheduler.WithParallelism(a.cfg.Expansion.Parallelism),
		scheduler.WithEnv(env),
	)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	m.SetWorkspace(ws)

	return &project{
		dir:     abs,
		id:      id,
		tree:    tree,
		manager: m,
		close: func() {
			if err := m.Close(); err != nil {
				a.logger.Warn("closing project", zap.Error(err))
			}
			if err := c.Close(); err != nil {
				a.logger.Warn("closing expansion cache", zap.Error(err))
			}
		},
	}, nil
}

// export writes the project's expansion files under dir, mirroring their
// layout in the synthetic tree.
func (p *project) export(dir string) error {
	files, err := p.tree.Files(p.id)
	if err != nil {
		return err
	}
	prefix := "/" + vfsRoot + "/" + p.id + "/"
	for _, path := range files {
		data, err := p.tree.ReadFile(path)
		if err != nil {
			return err
		}
		dst := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(path, prefix)))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) printSummary(out io.Writer, s *scheduler.Summary) {
	for _, f := range s.Failures {
		header.Fprintf(out, "%s: %s! (crate %s)\n", f.File, f.Call.Name, f.Crate)
		a.render(out, f.Err)
	}
	success.Fprintf(out, "%d expansion files created, %d deleted", s.Created, s.Deleted)
	if n := len(s.Failures); n > 0 {
		failure.Fprintf(out, ", %d calls failed", n)
	}
	fmt.Fprintln(out)
}
