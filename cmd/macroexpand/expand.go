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

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bufbuild/macroexpand/cache"
	"github.com/bufbuild/macroexpand/macro"
	"github.com/bufbuild/macroexpand/report"
	"github.com/bufbuild/macroexpand/workspace"
)

type expandFlags struct {
	recursive bool
	defFile   string
	callFile  string
	name      string
	env       map[string]string
	ranges    bool
}

func newExpandCommand(a *app) *cobra.Command {
	flags := new(expandFlags)
	cmd := &cobra.Command{
		Use:   "expand [FILE...]",
		Short: "Expand the macro calls in source files, or a single call",
		Long: `Expand every outermost macro call in the given source files, using the
macro_rules! definitions in the same file and the built-in macros.

With --def and --call, expand the call body in CALL against the
definition body in DEF instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()

			out := cmd.OutOrStdout()
			if flags.defFile != "" || flags.callFile != "" {
				if flags.defFile == "" || flags.callFile == "" {
					return errors.New("--def and --call go together")
				}
				return a.expandOne(ctx, out, flags)
			}
			if len(args) == 0 {
				return errors.New("no files to expand")
			}

			var failed bool
			for _, path := range args {
				ok, err := a.expandFile(ctx, out, path, flags)
				if err != nil {
					return err
				}
				failed = failed || !ok
			}
			if failed {
				return errors.New("some macro calls did not expand")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&flags.recursive, "recursive", "r", false, "Keep expanding calls that appear in expansions")
	cmd.Flags().StringVar(&flags.defFile, "def", "", "File holding a macro_rules! body")
	cmd.Flags().StringVar(&flags.callFile, "call", "", "File holding a call body")
	cmd.Flags().StringVar(&flags.name, "name", "m", "Name of the macro given with --def")
	cmd.Flags().StringToStringVar(&flags.env, "env", nil, "Environment visible to env!-style macros")
	cmd.Flags().BoolVar(&flags.ranges, "ranges", false, "Print the range map of each expansion")
	return cmd
}

// expandOne expands a single call given on the command line.
func (a *app) expandOne(ctx context.Context, out io.Writer, flags *expandFlags) error {
	def, err := os.ReadFile(flags.defFile)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(flags.callFile)
	if err != nil {
		return err
	}

	c := a.openCache(ctx)
	defer c.Close()

	d := macro.NewDefinition(flags.name, string(def))
	call := &macro.Call{Name: flags.name, Body: string(body), Path: flags.callFile, Env: flags.env}
	resolve := func(name string) (*macro.Definition, bool) {
		if name == d.Name {
			return d, true
		}
		return macro.Builtin(name)
	}

	exp, err := a.expand(ctx, c, d, call, resolve, flags.recursive)
	if err != nil {
		a.render(out, err)
		return errors.New("macro call did not expand")
	}
	printExpansion(out, exp, flags.ranges)
	return nil
}

// expandFile expands the calls in one source file. Returns false if any of
// them failed.
func (a *app) expandFile(ctx context.Context, out io.Writer, path string, flags *expandFlags) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	text := string(data)
	file := workspace.Scan(path, text)
	if file.Err != nil {
		a.logger.Warn("source file has lexical errors", zap.String("file", path), zap.Error(file.Err))
	}

	// Later definitions shadow earlier ones.
	defs := make(map[string]*macro.Definition)
	for _, def := range file.Definitions {
		defs[def.Name] = def
	}
	resolve := func(name string) (*macro.Definition, bool) {
		if def, ok := defs[name]; ok {
			return def, true
		}
		return macro.Builtin(name)
	}

	c := a.openCache(ctx, macro.WithFileLoader(macro.FileLoaderFunc(loadRelative)))
	defer c.Close()

	src := report.NewFile(path, text)
	ok := true
	for _, site := range file.Calls {
		def, found := resolve(site.Name)
		if !found {
			a.logger.Debug("skipping call to unknown macro", zap.String("file", path), zap.String("macro", site.Name))
			continue
		}

		loc := src.Location(site.Start)
		header.Fprintf(out, "%s:%d:%d: %s!\n", path, loc.Line, loc.Column, site.Name)

		call := &macro.Call{Name: site.Name, Body: site.Body, Path: path, Env: flags.env}
		exp, err := a.expand(ctx, c, def, call, resolve, flags.recursive)
		if err != nil {
			if ctx.Err() != nil {
				return false, context.Cause(ctx)
			}
			a.render(out, err)
			ok = false
			continue
		}
		printExpansion(out, exp, flags.ranges)
	}
	return ok, nil
}

func (a *app) expand(
	ctx context.Context,
	c *cache.Cache,
	def *macro.Definition,
	call *macro.Call,
	resolve macro.Resolver,
	recursive bool,
) (*macro.Expansion, error) {
	if recursive {
		return c.Expander().ExpandRecursive(ctx, def, call, resolve)
	}
	return c.CachedExpand(ctx, def, call)
}

// render prints err as a diagnostic.
func (a *app) render(out io.Writer, err error) {
	var r report.Report
	r.ErrorOf(err)
	text, _, _ := report.Renderer{Colorize: !color.NoColor}.RenderString(&r)
	fmt.Fprint(out, text)
}

func printExpansion(out io.Writer, exp *macro.Expansion, ranges bool) {
	fmt.Fprintln(out, exp.Text)
	if !ranges {
		return
	}
	for r := range exp.Ranges.All() {
		success.Fprintf(out, "  %v\n", r)
	}
}

// loadRelative reads include! paths relative to the including file.
func loadRelative(_ context.Context, from, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(from), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
