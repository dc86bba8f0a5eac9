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

// Package rangemap implements range maps: tables that record which spans of a
// macro expansion were copied verbatim from which spans of the macro call
// body.
//
// A range map is how diagnostics and navigation inside expanded code find
// their way back to the code the user actually wrote.
package rangemap

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/bufbuild/macroexpand/internal/interval"
)

// Range records that the destination text at [Dst, Dst+Len) was copied
// verbatim from the source text at [Src, Src+Len).
type Range struct {
	Src, Dst, Len int
}

// SrcEnd returns the end of the source span, exclusive.
func (r Range) SrcEnd() int { return r.Src + r.Len }

// DstEnd returns the end of the destination span, exclusive.
func (r Range) DstEnd() int { return r.Dst + r.Len }

// String implements [fmt.Stringer].
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d) -> [%d, %d)", r.Src, r.SrcEnd(), r.Dst, r.DstEnd())
}

// RangeMap is an immutable list of [Range]s that do not overlap in
// destination space. Source spans may overlap freely: a single captured
// fragment may be pasted into an expansion many times.
//
// The zero value is the empty map, which maps nothing.
type RangeMap struct {
	ranges []Range // Sorted by Dst.
	index  *srcIndex
}

// srcIndex is built on first use by a source-to-destination query.
type srcIndex struct {
	once sync.Once
	tree interval.Intersect[int, int] // Values are indices into ranges.
}

// New builds a range map out of the given ranges.
//
// Empty ranges are dropped, and ranges that are adjacent in both source and
// destination space are merged. Panics if any range has a negative offset or
// length, or if two ranges overlap in destination space.
func New(ranges ...Range) RangeMap {
	m, err := build(slices.Clone(ranges))
	if err != nil {
		panic(err)
	}
	return m
}

func build(ranges []Range) (RangeMap, error) {
	ranges = slices.DeleteFunc(ranges, func(r Range) bool { return r.Len == 0 })
	for _, r := range ranges {
		if r.Src < 0 || r.Dst < 0 || r.Len < 0 {
			return RangeMap{}, fmt.Errorf("rangemap: invalid range %v", r)
		}
	}
	slices.SortFunc(ranges, func(a, b Range) int { return a.Dst - b.Dst })
	for i := 1; i < len(ranges); i++ {
		if ranges[i-1].DstEnd() > ranges[i].Dst {
			return RangeMap{}, fmt.Errorf("rangemap: %v overlaps %v", ranges[i-1], ranges[i])
		}
	}
	ranges = optimize(ranges)
	if len(ranges) == 0 {
		return RangeMap{}, nil
	}
	return RangeMap{ranges: ranges, index: new(srcIndex)}, nil
}

// optimize merges runs of ranges that continue one another in both source and
// destination space. ranges must already be sorted by Dst.
func optimize(ranges []Range) []Range {
	if len(ranges) < 2 {
		return ranges
	}
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if last.SrcEnd() == r.Src && last.DstEnd() == r.Dst {
			last.Len += r.Len
			continue
		}
		out = append(out, r)
	}
	return out
}

// Len returns the number of ranges in this map.
func (m RangeMap) Len() int {
	return len(m.ranges)
}

// IsEmpty returns whether this map maps nothing.
func (m RangeMap) IsEmpty() bool {
	return len(m.ranges) == 0
}

// All yields the ranges in this map, ordered by destination offset.
func (m RangeMap) All() iter.Seq[Range] {
	return slices.Values(m.ranges)
}

// Ranges returns a copy of the ranges in this map.
func (m RangeMap) Ranges() []Range {
	return slices.Clone(m.ranges)
}

// Equal returns whether two maps contain the same ranges.
func (m RangeMap) Equal(other RangeMap) bool {
	return slices.Equal(m.ranges, other.ranges)
}

// String implements [fmt.Stringer].
func (m RangeMap) String() string {
	return fmt.Sprint(m.ranges)
}

// MapOffsetFromExpansionToCallBody maps an offset in the expansion back to the
// call body.
//
// Returns false if offset lies in text the macro definition supplied.
func (m RangeMap) MapOffsetFromExpansionToCallBody(offset int) (int, bool) {
	r, ok := m.findDst(offset)
	if !ok {
		return 0, false
	}
	return r.Src + (offset - r.Dst), true
}

// MapOffsetFromCallBodyToExpansion maps an offset in the call body to every
// offset in the expansion that was copied from it, in ascending order.
func (m RangeMap) MapOffsetFromCallBodyToExpansion(offset int) []int {
	if m.IsEmpty() || offset < 0 {
		return nil
	}
	var out []int
	for _, i := range m.srcTree().Get(offset).Values {
		r := m.ranges[i]
		out = append(out, r.Dst+(offset-r.Src))
	}
	slices.Sort(out)
	return out
}

// MapRangeFromExpansionToCallBody maps the expansion span [start, end) back to
// the call body. The span must lie entirely within text copied by a single
// range; an empty span may sit at the very end of a range.
func (m RangeMap) MapRangeFromExpansionToCallBody(start, end int) (srcStart, srcEnd int, ok bool) {
	if end < start {
		return 0, 0, false
	}
	i, found := m.searchDst(start)
	if !found {
		// start may sit at the exclusive end of the preceding range.
		if i == 0 || start != end || m.ranges[i-1].DstEnd() != start {
			return 0, 0, false
		}
		i--
	}
	r := m.ranges[i]
	if end > r.DstEnd() {
		return 0, 0, false
	}
	return r.Src + (start - r.Dst), r.Src + (end - r.Dst), true
}

// MapRangeFromCallBodyToExpansion maps the call body span [start, end) to
// every expansion span that was copied from it in full.
func (m RangeMap) MapRangeFromCallBodyToExpansion(start, end int) [][2]int {
	if m.IsEmpty() || end <= start {
		return nil
	}
	var out [][2]int
	for _, i := range m.srcTree().Get(start).Values {
		r := m.ranges[i]
		if end <= r.SrcEnd() {
			dst := r.Dst + (start - r.Src)
			out = append(out, [2]int{dst, dst + (end - start)})
		}
	}
	slices.SortFunc(out, func(a, b [2]int) int { return a[0] - b[0] })
	return out
}

// MapAll composes two maps. m maps some source into an intermediate text,
// which other maps into a final destination; the result maps the source
// directly into the destination.
//
// A destination offset is mapped by the result exactly when other maps it to
// an intermediate offset that m in turn maps.
func (m RangeMap) MapAll(other RangeMap) RangeMap {
	var out []Range
	for _, o := range other.ranges {
		// Walk the ranges of m whose destination intersects o's source.
		i, _ := m.searchDst(o.Src)
		for ; i < len(m.ranges) && m.ranges[i].Dst < o.SrcEnd(); i++ {
			t := m.ranges[i]
			a, b := max(t.Dst, o.Src), min(t.DstEnd(), o.SrcEnd())
			if a >= b {
				continue
			}
			out = append(out, Range{
				Src: t.Src + (a - t.Dst),
				Dst: o.Dst + (a - o.Src),
				Len: b - a,
			})
		}
	}
	composed, err := build(out)
	if err != nil {
		// Pieces of destination-disjoint ranges cannot overlap.
		panic(err)
	}
	return composed
}

// findDst returns the range whose destination span contains offset.
func (m RangeMap) findDst(offset int) (Range, bool) {
	i, found := m.searchDst(offset)
	if !found {
		return Range{}, false
	}
	return m.ranges[i], true
}

// searchDst returns the index of the range containing offset in destination
// space. If there is none, returns the index of the first range after it.
func (m RangeMap) searchDst(offset int) (int, bool) {
	i, exact := slices.BinarySearchFunc(m.ranges, offset, func(r Range, offset int) int {
		return r.Dst - offset
	})
	if exact {
		return i, true
	}
	if i > 0 && m.ranges[i-1].DstEnd() > offset {
		return i - 1, true
	}
	return i, false
}

// srcTree returns the source index. Empty maps have none, and get an empty
// tree.
func (m RangeMap) srcTree() *interval.Intersect[int, int] {
	if m.index == nil {
		return new(interval.Intersect[int, int])
	}
	m.index.once.Do(func() {
		for i, r := range m.ranges {
			m.index.tree.Insert(r.Src, r.SrcEnd()-1, i)
		}
	})
	return &m.index.tree
}
