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
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bufbuild/macroexpand/scheduler"
	"github.com/bufbuild/macroexpand/vfs"
	"github.com/bufbuild/macroexpand/workspace"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		id  string
		env map[string]string
	)
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Keep the expansions of a workspace up to date as it is edited",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := a.openProject(ctx, args[0], id, env)
			if err != nil {
				return err
			}
			defer p.close()
			return a.watch(ctx, p)
		},
	}
	cmd.Flags().StringVar(&id, "project", "", "Project id; defaults to the directory's name")
	cmd.Flags().StringToStringVar(&env, "env", nil, "Environment visible to env!-style macros")
	return cmd
}

// watch feeds file system notifications for p's directory into a queue
// until ctx is done.
func (a *app) watch(ctx context.Context, p *project) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := addTree(watcher, p.dir); err != nil {
		return err
	}

	unsubscribe := p.tree.Subscribe(func(events []vfs.Event) {
		var created, deleted int
		for _, e := range events {
			switch e.Op {
			case vfs.Created:
				created++
			case vfs.Deleted:
				deleted++
			}
		}
		a.logger.Info("expansions updated",
			zap.Int("created", created),
			zap.Int("deleted", deleted),
			zap.Int64("modification", p.manager.ModificationCount()),
		)
	})
	defer unsubscribe()

	q := scheduler.NewQueue(p.manager)
	defer q.Close()
	q.Submit(scheduler.Task{Family: scheduler.Expand, Scope: scheduler.Full})

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("file watcher error", zap.Error(err))

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			a.handle(watcher, q, p, event)
		}
	}
}

// handle turns one notification into work for the queue. Edits to existing
// files are cheap; anything that changes which files exist reloads the
// workspace.
func (a *app) handle(watcher *fsnotify.Watcher, q *scheduler.Queue, p *project, event fsnotify.Event) {
	rel, err := filepath.Rel(p.dir, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	a.logger.Debug("file event", zap.String("path", rel), zap.Stringer("op", event.Op))

	if event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		q.Edited(rel)
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addTree(watcher, event.Name); err != nil {
				a.logger.Warn("cannot watch directory", zap.String("dir", event.Name), zap.Error(err))
			}
		}
	}

	ws, err := workspace.Load(os.DirFS(p.dir), a.cfg.Workspace.Include)
	if err != nil {
		a.logger.Error("reloading workspace", zap.Error(err))
		return
	}
	// Editors often save by replacing the file, so the path may still exist
	// with new content.
	q.Edited(rel)
	q.SetWorkspace(ws)
}

// addTree watches dir and every directory below it.
func addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
