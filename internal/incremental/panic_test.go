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

package incremental_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/macroexpand/internal/incremental"
)

type Panic bool

func (p Panic) Key() string {
	if p {
		return "panic://true"
	}
	return "panic://false"
}

func (p Panic) Execute(*incremental.Task) (bool, error) {
	if p {
		panic("aaa!")
	}
	return bool(p), nil
}

func TestPanic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := incremental.New(incremental.WithParallelism(4))

	_, err := incremental.Run(ctx, exec, Panic(false))
	require.NoError(t, err)

	results, err := incremental.Run(ctx, exec, Panic(true), Panic(false))
	var panicked *incremental.PanicError
	require.ErrorAs(t, err, &panicked)
	assert.Equal(t, "panic://true", panicked.Key)
	assert.Equal(t, "aaa!", panicked.Panic)
	assert.NotEmpty(t, panicked.Stack)
	require.Len(t, results, 2)
	assert.NoError(t, results[1].Fatal)

	// The panic is memoized like any other failure.
	_, err = incremental.Run(ctx, exec, Panic(false), Panic(true))
	require.ErrorAs(t, err, &panicked)
	assert.Equal(t, "panic://true", panicked.Key)
}

type Block struct{}

func (Block) Key() string { return "block://" }

func (Block) Execute(t *incremental.Task) (int, error) {
	if err := t.Context().Err(); err != nil {
		return 0, err
	}
	return 1, nil
}

func TestCancellationNotMemoized(t *testing.T) {
	t.Parallel()

	exec := incremental.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := incremental.Run(ctx, exec, Block{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.Keys())

	result, err := incremental.Run(context.Background(), exec, Block{})
	require.NoError(t, err)
	assert.Equal(t, 1, result[0].Value)
	assert.Equal(t, []string{"block://"}, exec.Keys())
}
