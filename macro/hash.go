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

package macro

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash is a content hash of some macro text, such as a definition body or
// a call body.
type Hash [16]byte

// HashOf hashes the given strings, as if they were one string with each
// piece length-prefixed.
func HashOf(pieces ...string) Hash {
	h, err := blake2b.New(len(Hash{}), nil)
	if err != nil {
		// Only returned for bad sizes or oversized keys.
		panic(err)
	}
	var n [8]byte
	for _, p := range pieces {
		for i := range n {
			n[i] = byte(len(p) >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(p))
	}

	var out Hash
	h.Sum(out[:0])
	return out
}

// IsZero returns whether this is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String implements [fmt.Stringer].
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
