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

package vfs

import (
	"fmt"
	"strings"

	"github.com/bufbuild/macroexpand/macro"
)

// Ext is the extension of expansion files.
const Ext = ".rs"

// ExpansionPath returns where the expansion with the given hash lives:
//
//	/<root>/<project>/<crate>/<h0>/<h1>/<hash>_<ordinal>.rs
//
// h0 and h1 are the first two bytes of the hash, in hex, which keeps any
// one directory from growing too large. The ordinal distinguishes calls in
// the same crate that happen to expand identically.
func ExpansionPath(root, project, crate string, hash macro.Hash, ordinal int) string {
	hex := hash.String()
	return fmt.Sprintf("/%s/%s/%s/%s/%s/%s_%d%s", root, project, crate, hex[:2], hex[2:4], hex, ordinal, Ext)
}

// split breaks an absolute path under root into the project it belongs to
// and the path components below that project.
func split(root, path string) (project string, rest []string, ok bool) {
	prefix := "/" + root
	if path == prefix {
		return "", nil, true
	}
	tail, found := strings.CutPrefix(path, prefix+"/")
	if !found {
		return "", nil, false
	}
	parts := strings.Split(tail, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return "", nil, false
		}
	}
	return parts[0], parts[1:], true
}
