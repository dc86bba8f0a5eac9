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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bufbuild/macroexpand/cache"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the expansion cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print where the cache lives and how much it holds",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := a.context()
				defer cancel()

				out := cmd.OutOrStdout()
				cfg := a.cfg.Cache
				if !cfg.Enabled {
					fmt.Fprintln(out, "cache: disabled")
					return nil
				}
				store, err := a.cfg.OpenStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()

				header.Fprintf(out, "cache: %s\n", cfg.Backend)
				fmt.Fprintf(out, "dir:     %s\n", cfg.Dir)
				switch s := store.(type) {
				case *cache.ShardStore:
					n, err := s.Len()
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "shards:  %d\n", cfg.Shards)
					fmt.Fprintf(out, "entries: %d\n", n)
				case *cache.MemoryStore:
					fmt.Fprintf(out, "entries: %d\n", s.Len())
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every cached expansion",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := a.context()
				defer cancel()

				store, err := a.cfg.OpenStore(ctx)
				if err != nil {
					return err
				}
				if store == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "cache: disabled")
					return nil
				}
				defer store.Close()
				if err := store.Reset(ctx); err != nil {
					return err
				}
				success.Fprintln(cmd.OutOrStdout(), "cache cleared")
				return nil
			},
		},
	)
	return cmd
}
