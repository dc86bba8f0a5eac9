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

// Package interval provides an index over possibly-overlapping integer
// intervals.
package interval

import (
	"fmt"
	"iter"
	"slices"

	"github.com/tidwall/btree"
	"golang.org/x/exp/constraints" //nolint:exptostd // Tries to replace w/ cmp.
)

// Endpoint is a type that may be used as an interval endpoint.
type Endpoint = constraints.Integer

// Intersect indexes a collection of closed intervals, each carrying a value,
// so that a point query returns the values of every interval containing that
// point.
//
// Internally the intervals are cut into pairwise-disjoint segments. Each
// segment records the values of all intervals that cover it, in insertion
// order.
//
// A zero value is ready to use.
type Intersect[K Endpoint, V any] struct {
	// Keyed by the segment's (inclusive) end.
	segments btree.Map[K, *Segment[K, V]]
}

// Segment is a maximal run of points covered by the same set of intervals.
type Segment[K Endpoint, V any] struct {
	Start, End K // Inclusive.
	Values     []V
}

// Contains returns whether point lies within this segment.
func (s Segment[K, V]) Contains(point K) bool {
	return s.Start <= point && point <= s.End
}

// Len returns the number of segments in the index.
func (m *Intersect[K, V]) Len() int {
	return m.segments.Len()
}

// Get returns the segment containing point.
//
// If no interval contains point, the returned segment has nil Values.
func (m *Intersect[K, V]) Get(point K) Segment[K, V] {
	it := m.segments.Iter()
	if !it.Seek(point) || !it.Value().Contains(point) {
		return Segment[K, V]{}
	}
	return *it.Value()
}

// Segments yields every segment, in ascending order.
func (m *Intersect[K, V]) Segments() iter.Seq[Segment[K, V]] {
	return func(yield func(Segment[K, V]) bool) {
		it := m.segments.Iter()
		for ok := it.First(); ok; ok = it.Next() {
			if !yield(*it.Value()) {
				return
			}
		}
	}
}

// Insert adds the interval [start, end] with the given value.
//
// Returns whether the new interval overlapped nothing already present.
func (m *Intersect[K, V]) Insert(start, end K, value V) (disjoint bool) {
	if start > end {
		panic(fmt.Sprintf("interval: start (%#v) > end (%#v)", start, end))
	}

	var overlaps []*Segment[K, V]
	it := m.segments.Iter()
	for ok := it.Seek(start); ok && it.Value().Start <= end; ok = it.Next() {
		overlaps = append(overlaps, it.Value())
	}
	if len(overlaps) == 0 {
		m.put(start, end, []V{value})
		return true
	}
	for _, seg := range overlaps {
		m.segments.Delete(seg.End)
	}

	// Rebuild [min(start, first.Start), max(end, last.End)], splitting the
	// overlapped segments at start and end, and filling gaps between them
	// with segments holding only the new value.
	var last K
	for i, seg := range overlaps {
		lo, hi := max(seg.Start, start), min(seg.End, end)

		if seg.Start < start {
			m.put(seg.Start, start-1, seg.Values)
		}
		switch {
		case i == 0 && start < lo:
			m.put(start, lo-1, []V{value})
		case i > 0 && last+1 < lo:
			m.put(last+1, lo-1, []V{value})
		}

		// Clip so the appended value never aliases a sibling's slice.
		m.put(lo, hi, append(slices.Clip(seg.Values), value))
		if seg.End > end {
			m.put(end+1, seg.End, seg.Values)
		}
		last = hi
	}
	if last < end {
		m.put(last+1, end, []V{value})
	}
	return false
}

func (m *Intersect[K, V]) put(start, end K, values []V) {
	m.segments.Set(end, &Segment[K, V]{Start: start, End: end, Values: values})
}

// Format implements [fmt.Formatter].
func (m *Intersect[K, V]) Format(s fmt.State, v rune) {
	fmt.Fprint(s, "{")
	first := true
	for seg := range m.Segments() {
		if !first {
			fmt.Fprint(s, ", ")
		}
		first = false
		if seg.Start == seg.End {
			fmt.Fprintf(s, "%#v: ", seg.Start)
		} else {
			fmt.Fprintf(s, "[%#v, %#v]: ", seg.Start, seg.End)
		}
		fmt.Fprintf(s, fmt.FormatString(s, v), seg.Values)
	}
	fmt.Fprint(s, "}")
}
