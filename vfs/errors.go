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

package vfs

import (
	"fmt"
	"io/fs"
)

// ErrorKind classifies an [Error].
type ErrorKind int8

const (
	NotFound      ErrorKind = iota + 1 // The path, or one of its parents, does not exist.
	NotADirectory                      // A directory was expected, but a file was found.
	IsADirectory                       // A file was expected, but a directory was found.
	AlreadyExists                      // Creating something that already exists.
	IllegalPath                        // The path is outside of the tree, or malformed.
)

// String implements [fmt.Stringer].
func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case NotADirectory:
		return "not a directory"
	case IsADirectory:
		return "is a directory"
	case AlreadyExists:
		return "already exists"
	case IllegalPath:
		return "illegal path"
	default:
		return fmt.Sprintf("vfs.ErrorKind(%d)", int(k))
	}
}

// Error is returned when an operation would violate the structure of the
// tree. These are bugs in the caller rather than problems with the data.
type Error struct {
	Op   string
	Path string
	Kind ErrorKind
}

// Error implements [error].
func (e *Error) Error() string {
	return fmt.Sprintf("vfs: %s %s: %v", e.Op, e.Path, e.Kind)
}

// Is makes errors.Is match the corresponding [fs] errors.
func (e *Error) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e.Kind == NotFound
	case fs.ErrExist:
		return e.Kind == AlreadyExists
	case fs.ErrInvalid:
		return e.Kind == IllegalPath
	}
	return false
}

func newError(op, path string, kind ErrorKind) *Error {
	return &Error{Op: op, Path: path, Kind: kind}
}
