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

package macro_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/macroexpand/macro"
)

func expandBuiltin(t *testing.T, e *macro.Expander, name string, call *macro.Call) (*macro.Expansion, error) {
	t.Helper()
	def, ok := macro.Builtin(name)
	require.True(t, ok, name)
	call.Name = name
	return e.Expand(context.Background(), def, call)
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{name: "stringify", body: "a  +\n b", want: `"a + b"`},
		{name: "stringify", body: `x "q"`, want: `"x \"q\""`},
		{name: "concat", body: `"a", 1, true, 'c', -2,`, want: `"a1truec-2"`},
		{name: "concat", body: ``, want: `""`},
		{name: "env", body: `"HOME"`, env: map[string]string{"HOME": "/home/x"}, want: `"/home/x"`},
		{
			name: "lazy_static",
			body: "static ref A: u32 = 1;\npub static ref B: Vec<u8> = vec![];",
			want: "static A: u32 = 1;\npub static B: Vec<u8> = vec![];",
		},
		{
			name: "lazy_static",
			body: "#[allow(x)]\nstatic ref A: u32 = 1;",
			want: "#[allow(x)]\nstatic A: u32 = 1;",
		},
	}

	e := macro.NewExpander()
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			exp, err := expandBuiltin(t, e, test.name, &macro.Call{Body: test.body, Env: test.env})
			require.NoError(t, err)
			assert.Equal(t, test.want, exp.Text)
		})
	}
}

func TestBuiltinErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"env", `"MISSING"`},
		{"env", `HOME`},
		{"concat", `x`},
		{"concat", `"a" "b"`},
		{"lazy_static", `static A: u32 = 1;`},
		{"lazy_static", `static ref A: u32;`},
		{"lazy_static", `static ref A: u32 = 1`},
		{"include", `"file.rs"`},
	}

	e := macro.NewExpander()
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := expandBuiltin(t, e, test.name, &macro.Call{Body: test.body, Env: map[string]string{"HOME": "/"}})
			var be *macro.BuiltinError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, test.name, be.Macro)
		})
	}
}

func TestInclude(t *testing.T) {
	t.Parallel()

	errMissing := errors.New("missing")
	loader := macro.FileLoaderFunc(func(_ context.Context, from, path string) (string, error) {
		if from == "src/lib.rs" && path == "gen.rs" {
			return "fn generated() {}", nil
		}
		return "", errMissing
	})
	e := macro.NewExpander(macro.WithFileLoader(loader))

	exp, err := expandBuiltin(t, e, "include", &macro.Call{Body: `"gen.rs"`, Path: "src/lib.rs"})
	require.NoError(t, err)
	assert.Equal(t, "fn generated() {}", exp.Text)
	assert.True(t, exp.Ranges.IsEmpty())

	_, err = expandBuiltin(t, e, "include", &macro.Call{Body: `"other.rs"`, Path: "src/lib.rs"})
	assert.ErrorIs(t, err, errMissing)
}

func TestLazyStaticMaps(t *testing.T) {
	t.Parallel()

	body := "static ref NAME: &str = \"x\";"
	exp, err := expandBuiltin(t, macro.NewExpander(), "lazy_static", &macro.Call{Body: body})
	require.NoError(t, err)
	require.Equal(t, "static NAME: &str = \"x\";", exp.Text)

	got, ok := exp.Ranges.MapOffsetFromExpansionToCallBody(len("static "))
	assert.True(t, ok)
	assert.Equal(t, len("static ref "), got)
}

func TestBuiltinLookup(t *testing.T) {
	t.Parallel()

	_, ok := macro.Builtin("vec")
	assert.False(t, ok)
	def, ok := macro.Builtin("env")
	require.True(t, ok)
	assert.True(t, def.Kind.UsesEnv())
	assert.Equal(t, "env", def.Kind.String())
	assert.Equal(t, []string{"concat", "env", "include", "lazy_static", "stringify"}, macro.BuiltinNames())
}
