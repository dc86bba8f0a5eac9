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

package rangemap

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when decoding a range map from bytes that are not
// a valid encoding.
var ErrMalformed = errors.New("rangemap: malformed encoding")

// AppendBinary appends the encoding of m to buf.
//
// The encoding is a varint count followed by a varint (src, dst, len) triple
// per range.
func (m RangeMap) AppendBinary(buf []byte) ([]byte, error) {
	buf = protowire.AppendVarint(buf, uint64(len(m.ranges)))
	for _, r := range m.ranges {
		buf = protowire.AppendVarint(buf, uint64(r.Src))
		buf = protowire.AppendVarint(buf, uint64(r.Dst))
		buf = protowire.AppendVarint(buf, uint64(r.Len))
	}
	return buf, nil
}

// MarshalBinary implements [encoding.BinaryMarshaler].
func (m RangeMap) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(nil)
}

// UnmarshalBinary implements [encoding.BinaryUnmarshaler]. Trailing bytes
// are an error.
func (m *RangeMap) UnmarshalBinary(data []byte) error {
	n, err := m.Decode(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-n)
	}
	return nil
}

// Decode decodes a range map from the front of data and returns the number of
// bytes consumed.
func (m *RangeMap) Decode(data []byte) (int, error) {
	var read int
	next := func() (int, error) {
		v, n := protowire.ConsumeVarint(data[read:])
		if n < 0 {
			return 0, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("%w: value %d out of range", ErrMalformed, v)
		}
		read += n
		return int(v), nil
	}

	count, err := next()
	if err != nil {
		return 0, err
	}
	// Each range takes at least three bytes; a larger count is garbage.
	if count > (len(data)-read)/3 {
		return 0, fmt.Errorf("%w: count %d exceeds input", ErrMalformed, count)
	}

	ranges := make([]Range, 0, count)
	for range count {
		var r Range
		for _, field := range []*int{&r.Src, &r.Dst, &r.Len} {
			if *field, err = next(); err != nil {
				return 0, err
			}
		}
		ranges = append(ranges, r)
	}

	decoded, err := build(ranges)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	*m = decoded
	return read, nil
}
