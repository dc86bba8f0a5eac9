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

package cache

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bufbuild/macroexpand/macro"
)

// FormatVersion is stamped into every persistent store. Bump it whenever the
// record format, or the expansion algorithm, changes: stores with any other
// version are treated as empty.
const FormatVersion = 1

var errCorrupt = errors.New("cache: corrupt record")

// encodeExpansion appends the stored form of exp to buf: the text, length
// prefixed, followed by the encoded range map.
func encodeExpansion(buf []byte, exp *macro.Expansion) ([]byte, error) {
	buf = protowire.AppendString(buf, exp.Text)
	return exp.Ranges.AppendBinary(buf)
}

func decodeExpansion(data []byte) (*macro.Expansion, error) {
	text, n := protowire.ConsumeString(data)
	if n < 0 {
		return nil, errCorrupt
	}
	exp := &macro.Expansion{Text: text}
	if err := exp.Ranges.UnmarshalBinary(data[n:]); err != nil {
		return nil, errors.Join(errCorrupt, err)
	}
	return exp, nil
}
