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

package scheduler

import "fmt"

// Scope is how much of a project a reconciliation covers. Scopes are
// ordered: a larger scope covers everything a smaller one does.
type Scope int8

const (
	// Only crates that have never been reconciled.
	Unprocessed Scope = iota + 1
	// Every crate that belongs to the workspace.
	Workspace
	// Every crate, vendored dependencies included, and removal of files
	// for crates that no longer exist.
	Full
)

// String implements [fmt.Stringer].
func (s Scope) String() string {
	switch s {
	case Unprocessed:
		return "unprocessed"
	case Workspace:
		return "workspace"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("scope(%d)", int8(s))
	}
}

// ParseScope parses the name of a scope, as printed by [Scope.String].
func ParseScope(name string) (Scope, error) {
	for s := Unprocessed; s <= Full; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown scope %q", name)
}

// Covers returns whether s includes everything other does.
func (s Scope) Covers(other Scope) bool {
	return s >= other
}

// Family groups tasks that can absorb each other.
type Family int8

const (
	// Expand reconciles expansion files with the workspace.
	Expand Family = iota + 1
	// Clear removes every expansion file of the project.
	Clear
)

// String implements [fmt.Stringer].
func (f Family) String() string {
	switch f {
	case Expand:
		return "expand"
	case Clear:
		return "clear"
	default:
		return fmt.Sprintf("family(%d)", int8(f))
	}
}

// Task describes a unit of work for a [Queue].
type Task struct {
	Family Family
	Scope  Scope
}

// String implements [fmt.Stringer].
func (t Task) String() string {
	return t.Family.String() + "/" + t.Scope.String()
}

// absorbs returns whether t makes other redundant.
func (t Task) absorbs(other Task) bool {
	return t.Family == other.Family && t.Scope.Covers(other.Scope)
}
