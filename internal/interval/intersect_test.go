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

package interval_test

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bufbuild/macroexpand/internal/interval"
)

func TestInsert(t *testing.T) {
	t.Parallel()

	type in struct {
		start, end int
		value      string
	}
	type out = interval.Segment[int, string]

	tests := []struct {
		name     string
		ranges   []in
		want     []out
		disjoint []bool
	}{
		{
			name:     "single",
			ranges:   []in{{0, 9, "a"}},
			want:     []out{{0, 9, []string{"a"}}},
			disjoint: []bool{true},
		},
		{
			name:     "apart",
			ranges:   []in{{30, 39, "b"}, {0, 9, "a"}},
			want:     []out{{0, 9, []string{"a"}}, {30, 39, []string{"b"}}},
			disjoint: []bool{true, true},
		},
		{
			name:   "inside",
			ranges: []in{{0, 9, "a"}, {3, 4, "b"}},
			want: []out{
				{0, 2, []string{"a"}},
				{3, 4, []string{"a", "b"}},
				{5, 9, []string{"a"}},
			},
			disjoint: []bool{true, false},
		},
		{
			name:   "identical",
			ranges: []in{{0, 9, "a"}, {0, 9, "b"}},
			want: []out{
				{0, 9, []string{"a", "b"}},
			},
			disjoint: []bool{true, false},
		},
		{
			name:   "straddle",
			ranges: []in{{0, 4, "a"}, {10, 14, "b"}, {2, 12, "c"}},
			want: []out{
				{0, 1, []string{"a"}},
				{2, 4, []string{"a", "c"}},
				{5, 9, []string{"c"}},
				{10, 12, []string{"b", "c"}},
				{13, 14, []string{"b"}},
			},
			disjoint: []bool{true, true, false},
		},
		{
			name:   "cover",
			ranges: []in{{5, 6, "a"}, {0, 20, "b"}},
			want: []out{
				{0, 4, []string{"b"}},
				{5, 6, []string{"a", "b"}},
				{7, 20, []string{"b"}},
			},
			disjoint: []bool{true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var m interval.Intersect[int, string]
			for i, r := range tt.ranges {
				assert.Equal(t, tt.disjoint[i], m.Insert(r.start, r.end, r.value), "insert %v", r)
			}
			assert.Equal(t, tt.want, slices.Collect(m.Segments()))
			assert.Equal(t, len(tt.want), m.Len())
		})
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	var m interval.Intersect[int, int]
	m.Insert(0, 4, 1)
	m.Insert(2, 8, 2)
	m.Insert(20, 20, 3)

	assert.Equal(t, []int{1}, m.Get(0).Values)
	assert.Equal(t, []int{1, 2}, m.Get(3).Values)
	assert.Equal(t, []int{2}, m.Get(8).Values)
	assert.Nil(t, m.Get(9).Values)
	assert.Equal(t, []int{3}, m.Get(20).Values)
	assert.Nil(t, m.Get(21).Values)

	assert.Equal(t, "{[0, 1]: [1], [2, 4]: [1 2], [5, 8]: [2], 20: [3]}", fmt.Sprintf("%v", &m))
}
