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
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bufbuild/macroexpand/internal/golden"
	"github.com/bufbuild/macroexpand/macro"
)

// goldenCase is the schema of the files under testdata/golden.
type goldenCase struct {
	Definition string            `yaml:"definition"`
	Call       string            `yaml:"call"`
	Env        map[string]string `yaml:"env"`
}

func TestGolden(t *testing.T) {
	t.Parallel()

	corpus := golden.Corpus{
		Root:      "testdata/golden",
		Refresh:   "MACROEXPAND_REFRESH",
		Extension: "yaml",
		Outputs: []golden.Output{
			{Extension: "expansion"},
			{Extension: "error"},
		},
	}

	corpus.Test = func(t *testing.T, path, text string) []string {
		var tc goldenCase
		require.NoError(t, yaml.Unmarshal([]byte(text), &tc))

		e := macro.NewExpander()
		exp, err := e.Expand(context.Background(),
			macro.NewDefinition("m", tc.Definition),
			&macro.Call{Name: "m", Body: tc.Call, Path: path, Env: tc.Env},
		)
		if err != nil {
			return []string{"", describe(err)}
		}

		var out strings.Builder
		out.WriteString(exp.Text)
		out.WriteString("\n---\n")
		for r := range exp.Ranges.All() {
			fmt.Fprintln(&out, r)
		}
		return []string{out.String(), ""}
	}

	corpus.Run(t)
}

func describe(err error) string {
	var me *macro.MatchError
	if errors.As(err, &me) {
		return fmt.Sprintf("match: %v\n", me.Kind)
	}
	return err.Error() + "\n"
}
