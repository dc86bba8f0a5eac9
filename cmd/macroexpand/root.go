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
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bufbuild/macroexpand/cache"
	"github.com/bufbuild/macroexpand/config"
	"github.com/bufbuild/macroexpand/macro"
)

const defaultTimeout = 5 * time.Minute

// app is the state shared by every subcommand.
type app struct {
	cfgFile string
	timeout time.Duration

	cfg    *config.Config
	logger *zap.Logger
}

var (
	header  = color.New(color.FgCyan, color.Bold)
	failure = color.New(color.FgRed, color.Bold)
	success = color.New(color.FgGreen)
)

func newRootCommand() *cobra.Command {
	a := new(app)
	root := &cobra.Command{
		Use:           "macroexpand",
		Short:         "macroexpand - expand macro_rules! macros without a compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Path to a YAML configuration file")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", defaultTimeout, "Give up after this long")

	root.AddCommand(
		newExpandCommand(a),
		newReconcileCommand(a),
		newWatchCommand(a),
		newCacheCommand(a),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		failure.Println("error:", err)
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// context returns the context a command runs under.
func (a *app) context() (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), a.timeout)
}

// openCache opens the configured expansion cache in front of an expander
// built with opts.
//
// A cache that cannot be opened is reported and left out.
func (a *app) openCache(ctx context.Context, opts ...macro.ExpanderOption) *cache.Cache {
	store, err := a.cfg.OpenStore(ctx)
	if err != nil {
		a.logger.Warn("expansion cache unavailable", zap.Error(err))
		store = nil
	}
	opts = append([]macro.ExpanderOption{
		macro.WithRecursionLimit(a.cfg.Expansion.RecursionLimit),
		macro.WithExpansionLimit(a.cfg.Expansion.ExpansionLimit),
	}, opts...)
	return cache.New(store, macro.NewExpander(opts...), cache.WithLogger(a.logger))
}
