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

package cache

import (
	"maps"
	"slices"

	"github.com/bufbuild/macroexpand/macro"
)

// Mix computes the key an expansion is cached under: the definition's hash
// and the call's hash, plus the call's environment for macros whose
// expansions depend on it.
//
// Changing anything that can change the expansion changes the key, so a
// cache entry is never stale; it can only go unused. The exception is
// macros whose kind [macro.Kind.ReadsFiles]: the key does not cover the
// files they read, so [Cache.CachedExpand] never stores them.
func Mix(def *macro.Definition, call *macro.Call) macro.Hash {
	callHash := call.Hash()
	pieces := []string{"mix", string(def.Hash[:]), string(callHash[:])}
	if def.Kind.UsesEnv() {
		pieces = append(pieces, "env")
		for _, k := range slices.Sorted(maps.Keys(call.Env)) {
			pieces = append(pieces, k, call.Env[k])
		}
	}
	return macro.HashOf(pieces...)
}
