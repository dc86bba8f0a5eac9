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
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/macroexpand/internal/incremental"
)

type ParseInt string

func (i ParseInt) Key() string {
	return "int://" + string(i)
}

func (i ParseInt) Execute(*incremental.Task) (int, error) {
	v, err := strconv.Atoi(string(i))
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value: %v", v)
	}
	return v, nil
}

type Sum struct {
	Input string
}

func (s Sum) Key() string {
	return "sum://" + s.Input
}

func (s Sum) Execute(t *incremental.Task) (int, error) {
	var queries []incremental.Query[int] //nolint:prealloc
	for _, s := range strings.Split(s.Input, ",") {
		queries = append(queries, ParseInt(s))
	}

	ints, err := incremental.Resolve(t, queries...)
	if err != nil {
		return 0, err
	}

	var v int
	for _, i := range ints {
		if i.Fatal != nil {
			return 0, i.Fatal
		}
		v += i.Value
	}
	return v, nil
}

func TestSum(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	ctx := context.Background()
	exec := incremental.New(incremental.WithParallelism(4))

	result, err := incremental.Run(ctx, exec, Sum{"1,2,2,3,4"})
	require.NoError(t, err)
	assert.Equal(12, result[0].Value)
	assert.NoError(result[0].Fatal)
	assert.Equal([]string{
		"int://1",
		"int://2",
		"int://3",
		"int://4",
		"sum://1,2,2,3,4",
	}, exec.Keys())

	result, err = incremental.Run(ctx, exec, Sum{"1,2,-3,4"})
	require.NoError(t, err)
	require.Error(t, result[0].Fatal)
	assert.Equal("negative value: -3", result[0].Fatal.Error())

	// Evicting a dependency evicts everything downstream of it.
	exec.Evict("int://4")
	assert.Equal([]string{
		"int://-3",
		"int://1",
		"int://2",
		"int://3",
	}, exec.Keys())

	result, err = incremental.Run(ctx, exec, Sum{"1,2,2,3,4"})
	require.NoError(t, err)
	assert.Equal(12, result[0].Value)
	assert.Contains(exec.Keys(), "sum://1,2,2,3,4")
	assert.NotContains(exec.Keys(), "sum://1,2,-3,4")
}

type Counted struct {
	Name  string
	Calls *atomic.Int32
}

func (c Counted) Key() string {
	return "counted://" + c.Name
}

func (c Counted) Execute(*incremental.Task) (string, error) {
	c.Calls.Add(1)
	return c.Name, nil
}

func TestMemoized(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := incremental.New()
	calls := new(atomic.Int32)
	q := Counted{Name: "a", Calls: calls}

	for range 3 {
		result, err := incremental.Run(ctx, exec, q, q)
		require.NoError(t, err)
		assert.Equal(t, "a", result[0].Value)
		assert.Equal(t, "a", result[1].Value)
	}
	assert.Equal(t, int32(1), calls.Load())

	exec.Evict("counted://a", "counted://missing")
	_, err := incremental.Run(ctx, exec, q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

type Cyclic struct {
	Mod, Step int
}

func (c Cyclic) Key() string {
	return fmt.Sprintf("cyclic://%d/%d", c.Mod, c.Step)
}

func (c Cyclic) Execute(t *incremental.Task) (int, error) {
	next, err := incremental.Resolve(t, Cyclic{
		Mod:  c.Mod,
		Step: (c.Step + 1) % c.Mod,
	})
	if err != nil {
		return 0, err
	}
	return next[0].Value * next[0].Value, next[0].Fatal
}

func TestCyclic(t *testing.T) {
	t.Parallel()

	exec := incremental.New(incremental.WithParallelism(4))
	result, err := incremental.Run(context.Background(), exec, Cyclic{Mod: 3, Step: 1})
	require.NoError(t, err)

	var cycle *incremental.CycleError
	require.ErrorAs(t, result[0].Fatal, &cycle)
	assert.Equal(t,
		"cycle detected: cyclic://3/1 -> cyclic://3/2 -> cyclic://3/0 -> cyclic://3/1",
		cycle.Error(),
	)
}

type Fanout struct {
	Depth, Level, Index int
}

func (c Fanout) Key() string {
	return fmt.Sprintf("fanout://%d/%d/%d", c.Depth, c.Level, c.Index)
}

func (c Fanout) Execute(t *incremental.Task) (int, error) {
	if c.Depth == c.Level {
		return 1, nil
	}

	queries := make([]incremental.Query[int], c.Level+1)
	for i := range queries {
		queries[i] = Fanout{Depth: c.Depth, Level: c.Level + 1, Index: i}
	}

	results, err := incremental.Resolve(t, queries...)
	if err != nil {
		return 0, err
	}

	var total int
	for _, r := range results {
		total += r.Value
	}
	return total, nil
}

func TestFanout(t *testing.T) {
	t.Parallel()

	// A single slot is enough, because waiting on dependencies releases it.
	exec := incremental.New(incremental.WithParallelism(1))
	result, err := incremental.Run(context.Background(), exec, Fanout{Depth: 4})
	require.NoError(t, err)
	assert.Equal(t, 1*2*3*4, result[0].Value)
	assert.Len(t, exec.Keys(), 11)
}
