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

package workspace_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/macroexpand/workspace"
)

func TestScan(t *testing.T) {
	t.Parallel()

	text := `macro_rules! square {
    ($x:expr) => { $x * $x };
}

fn main() {
    let a = square!(2);
    let v = vec![1, 2];
    if a != 4 { panic!{"bad"} }
    println!("{}", square!(a));
}
`
	file := workspace.Scan("src/main.rs", text)
	require.NoError(t, file.Err)
	require.Len(t, file.Definitions, 1)
	assert.Equal(t, "square", file.Definitions[0].Name)
	assert.Contains(t, file.Definitions[0].Body, "($x:expr) => { $x * $x };")

	var names, bodies, delims []string
	for _, call := range file.Calls {
		names = append(names, call.Name)
		bodies = append(bodies, call.Body)
		delims = append(delims, call.Delim)
		assert.Equal(t, call.Body, text[call.BodyStart:call.BodyEnd])
		assert.Equal(t, call.Name, text[call.Start:call.Start+len(call.Name)])
	}
	assert.Equal(t, []string{"square", "vec", "panic", "println"}, names)
	assert.Equal(t, []string{"2", "1, 2", `"bad"`, `"{}", square!(a)`}, bodies)
	assert.Equal(t, []string{"(", "[", "{", "("}, delims)
}

func TestScanLexError(t *testing.T) {
	t.Parallel()

	file := workspace.Scan("a.rs", "m!(x); let s = \"open")
	assert.Error(t, file.Err)
	require.Len(t, file.Calls, 1)
	assert.Equal(t, "m", file.Calls[0].Name)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"lib.rs":                 {Data: []byte("mod a;")},
		"core/src/lib.rs":        {Data: []byte("")},
		"core/src/gen.rs":        {Data: []byte("fn gen() {}")},
		"core/README.md":         {Data: []byte("")},
		"vendor/dep/src/lib.rs":  {Data: []byte("")},
		"vendor/stray.rs":        {Data: []byte("")},
		"tools/build/src/lib.rs": {Data: []byte("")},
	}
	ws, err := workspace.Load(fsys, nil)
	require.NoError(t, err)

	type crate struct {
		name      string
		workspace bool
		files     []string
	}
	var got []crate
	for _, c := range ws.Crates {
		got = append(got, crate{c.Name, c.Workspace, c.Files})
	}
	assert.Equal(t, []crate{
		{"_root", true, []string{"lib.rs"}},
		{"core", true, []string{"core/src/gen.rs", "core/src/lib.rs"}},
		{"dep", false, []string{"vendor/dep/src/lib.rs"}},
		{"tools", true, []string{"tools/build/src/lib.rs"}},
	}, got)

	c, ok := ws.CrateOf("core/src/gen.rs")
	require.True(t, ok)
	assert.Equal(t, "core", c.Name)
	_, ok = ws.CrateOf("core/README.md")
	assert.False(t, ok)

	text, err := ws.LoadFile(context.Background(), "core/src/lib.rs", "gen.rs")
	require.NoError(t, err)
	assert.Equal(t, "fn gen() {}", text)

	ws, err = workspace.Load(fsys, []string{"core/**/*.rs"})
	require.NoError(t, err)
	require.Len(t, ws.Crates, 1)
	assert.Equal(t, "core", ws.Crates[0].Name)

	_, err = workspace.Load(fsys, []string{"[unclosed"})
	assert.Error(t, err)
}
