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
	"errors"
	"slices"
	"time"
)

// Op is the kind of change an [Event] reports.
type Op int8

const (
	Created Op = iota + 1
	Deleted
)

// String implements [fmt.Stringer].
func (op Op) String() string {
	switch op {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a change to the tree, reported to subscribers.
type Event struct {
	Op   Op
	Path string
}

// Subscribe registers fn to be called with every change to the tree. A batch
// is reported in one call. Returns a function that unsubscribes.
//
// fn is called synchronously, after the change is visible, and must not
// modify the tree itself.
func (fs *FS) Subscribe(fn func([]Event)) (cancel func()) {
	fs.subMu.Lock()
	defer fs.subMu.Unlock()
	id := fs.nextSub
	fs.nextSub++
	fs.subs[id] = fn
	return func() {
		fs.subMu.Lock()
		defer fs.subMu.Unlock()
		delete(fs.subs, id)
	}
}

func (fs *FS) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	fs.subMu.Lock()
	subs := make([]func([]Event), 0, len(fs.subs))
	for _, fn := range fs.subs {
		subs = append(subs, fn)
	}
	fs.subMu.Unlock()

	for _, fn := range subs {
		fn(events)
	}
}

// Batch is a set of changes to one project, applied all at once.
type Batch struct {
	Project string
	Create  []File
	// Paths of files to delete.
	Delete []string
}

// File is a file to create.
type File struct {
	Path    string
	Content Content
}

// IsEmpty returns whether the batch changes nothing.
func (b *Batch) IsEmpty() bool {
	return len(b.Create) == 0 && len(b.Delete) == 0
}

// Apply applies a batch: first every deletion, then every creation, creating
// parent directories as needed and removing directories that deletion left
// empty.
//
// The batch is checked before anything is changed. If any deletion names a
// file that does not exist, or any creation names a file that exists and is
// not also being deleted, nothing is changed and an [*Error] is returned.
// Other readers see either none of the batch or all of it.
func (fs *FS) Apply(b Batch) error {
	p, ok := fs.project(b.Project)
	if !ok {
		return newError("apply", "/"+fs.root+"/"+b.Project, NotFound)
	}
	p.batch.Lock()
	if p.dir.tombstone {
		p.batch.Unlock()
		return newError("apply", "/"+fs.root+"/"+b.Project, NotFound)
	}

	events, err := fs.apply(p.dir, b)
	p.batch.Unlock()
	if err != nil {
		return err
	}
	fs.notify(events)
	return nil
}

// apply applies a batch to a project's directory. Must be called with the
// project's batch lock held.
func (fs *FS) apply(root *dir, b Batch) ([]Event, error) {
	type target struct {
		path  string
		parts []string
	}
	resolve := func(op, path string) (target, error) {
		id, rest, ok := split(fs.root, path)
		if !ok || id != b.Project || len(rest) == 0 {
			return target{}, newError(op, path, IllegalPath)
		}
		return target{path, rest}, nil
	}

	deletes := make([]target, 0, len(b.Delete))
	for _, path := range b.Delete {
		t, err := resolve("delete", path)
		if err != nil {
			return nil, err
		}
		n, err := lookup(root, t.parts, "delete", path)
		if err != nil {
			return nil, err
		}
		if _, ok := n.(*file); !ok {
			return nil, newError("delete", path, IsADirectory)
		}
		deletes = append(deletes, t)
	}

	creates := make([]target, 0, len(b.Create))
	for _, f := range b.Create {
		t, err := resolve("create", f.Path)
		if err != nil {
			return nil, err
		}
		if slices.Contains(b.Delete, f.Path) {
			creates = append(creates, t)
			continue
		}
		n, err := lookup(root, t.parts, "create", f.Path)
		var verr *Error
		switch {
		case err == nil:
			if _, ok := n.(*dir); ok {
				return nil, newError("create", f.Path, IsADirectory)
			}
			return nil, newError("create", f.Path, AlreadyExists)
		case errors.As(err, &verr) && verr.Kind == NotFound:
		default:
			return nil, err
		}
		creates = append(creates, t)
	}

	now := fs.now()
	events := make([]Event, 0, len(deletes)+len(creates))
	for _, t := range deletes {
		parents := dirChain(root, t.parts[:len(t.parts)-1])
		parents[len(parents)-1].remove(t.parts[len(t.parts)-1], now)
		// Prune directories the deletion emptied, stopping at the project.
		for i := len(parents) - 1; i > 0; i-- {
			if parents[i].len() > 0 {
				break
			}
			parents[i-1].remove(parents[i].name, now)
		}
		events = append(events, Event{Op: Deleted, Path: t.path})
	}
	for i, t := range creates {
		d := root
		for _, part := range t.parts[:len(t.parts)-1] {
			d = d.mkdir(part, now)
		}
		d.put(&file{name: t.parts[len(t.parts)-1], modTime: now, content: b.Create[i].Content}, now)
		events = append(events, Event{Op: Created, Path: t.path})
	}
	return events, nil
}

// dirChain returns root followed by each directory along parts, all of
// which must exist.
func dirChain(root *dir, parts []string) []*dir {
	chain := []*dir{root}
	for _, part := range parts {
		n, _ := chain[len(chain)-1].child(part)
		chain = append(chain, n.(*dir)) //nolint:errcheck // Checked by the caller.
	}
	return chain
}

// mkdir returns the child directory of d with the given name, creating it if
// necessary.
func (d *dir) mkdir(name string, now time.Time) *dir {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.children.Get(name); ok {
		if child, ok := n.(*dir); ok {
			return child
		}
	}
	child := &dir{name: name, modTime: now}
	d.children.Set(name, child)
	d.modTime = now
	return child
}

// put adds or replaces a child of d.
func (d *dir) put(child node, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.children.Set(nodeName(child), child)
	d.modTime = now
}

func (d *dir) len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.children.Len()
}
