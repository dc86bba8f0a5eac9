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
	"strings"
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// ErrConsumed is returned when reading a file whose content was already read
// and which has no way to produce it again.
var ErrConsumed = errors.New("vfs: content already consumed")

// FS is an in-memory tree of synthetic files, one subtree per project:
//
//	/<root>/<project>/...
//
// Directory metadata lives for as long as its project is open. File content
// does not: it is handed out once, on first read, and then dropped.
//
// An FS is safe for concurrent use. Changes to a directory's children are
// guarded by that directory's own lock; the list of projects is guarded by
// one lock for the whole tree.
type FS struct {
	root string
	now  func() time.Time

	mu       sync.RWMutex
	projects map[string]*project
	modTime  time.Time

	subMu   sync.Mutex
	subs    map[int]func([]Event)
	nextSub int
}

// Option configures an [FS].
type Option func(*FS)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(fs *FS) { fs.now = now }
}

// New returns an empty tree rooted at /root.
func New(root string, opts ...Option) *FS {
	fs := &FS{
		root:     root,
		now:      time.Now,
		projects: make(map[string]*project),
		subs:     make(map[int]func([]Event)),
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.modTime = fs.now()
	return fs
}

// Root returns the name of the root directory.
func (fs *FS) Root() string {
	return fs.root
}

type project struct {
	// Held for reading by single operations, and for writing by batches, so
	// that nobody observes half of a batch.
	batch sync.RWMutex
	dir   *dir
}

type node interface {
	info() Info
}

type dir struct {
	name      string
	tombstone bool

	mu       sync.RWMutex
	children btree.Map[string, node]
	modTime  time.Time
}

type file struct {
	name    string
	modTime time.Time

	mu      sync.Mutex
	content Content
}

// Info describes a file or directory.
type Info struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
	// For a closed project's directory, which no longer has children.
	Tombstone bool
}

func (d *dir) info() Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Info{Name: d.name, IsDir: true, ModTime: d.modTime, Tombstone: d.tombstone}
}

func (f *file) info() Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Info{Name: f.name, Size: f.content.size, ModTime: f.modTime}
}

// Content is the content of a synthetic file.
type Content struct {
	size    int64
	data    []byte
	produce func() ([]byte, error)
}

// Bytes returns content that can be read exactly once.
func Bytes(data []byte) Content {
	if data == nil {
		data = []byte{}
	}
	return Content{size: int64(len(data)), data: data}
}

// Lazy returns content that is computed on first read and then dropped,
// like [Bytes]. size is what the file reports as its length.
//
// If produce fails, the file keeps it, and a later read tries again.
func Lazy(size int64, produce func() ([]byte, error)) Content {
	return Content{size: size, produce: produce}
}

// OpenProject creates the subtree for a project, or brings a closed one back
// with no children. Opening an open project does nothing.
func (fs *FS) OpenProject(id string) error {
	if id == "" || strings.Contains(id, "/") || id == "." || id == ".." {
		return newError("open", "/"+fs.root+"/"+id, IllegalPath)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.projects[id]
	if !ok {
		fs.projects[id] = &project{dir: &dir{name: id, modTime: fs.now()}}
		fs.modTime = fs.now()
		return nil
	}

	p.batch.Lock()
	defer p.batch.Unlock()
	if p.dir.tombstone {
		p.dir = &dir{name: id, modTime: fs.now()}
	}
	return nil
}

// CloseProject drops a project's subtree, leaving a tombstone that still
// answers [FS.Stat] for the project directory.
func (fs *FS) CloseProject(id string) error {
	fs.mu.RLock()
	p, ok := fs.projects[id]
	fs.mu.RUnlock()
	if !ok {
		return newError("close", "/"+fs.root+"/"+id, NotFound)
	}

	p.batch.Lock()
	defer p.batch.Unlock()
	p.dir = &dir{name: id, tombstone: true, modTime: fs.now()}
	return nil
}

// Projects returns the ids of every project, open or closed, sorted.
func (fs *FS) Projects() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	ids := make([]string, 0, len(fs.projects))
	for id := range fs.projects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsOpen returns whether a project exists and is not closed.
func (fs *FS) IsOpen(id string) bool {
	p, ok := fs.project(id)
	if !ok {
		return false
	}
	p.batch.RLock()
	defer p.batch.RUnlock()
	return !p.dir.tombstone
}

func (fs *FS) project(id string) (*project, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	p, ok := fs.projects[id]
	return p, ok
}

// Stat describes the file or directory at path.
func (fs *FS) Stat(path string) (Info, error) {
	id, rest, ok := split(fs.root, path)
	switch {
	case !ok:
		return Info{}, newError("stat", path, IllegalPath)
	case id == "":
		fs.mu.RLock()
		defer fs.mu.RUnlock()
		return Info{Name: fs.root, IsDir: true, ModTime: fs.modTime}, nil
	}

	p, ok := fs.project(id)
	if !ok {
		return Info{}, newError("stat", path, NotFound)
	}
	p.batch.RLock()
	defer p.batch.RUnlock()

	n, err := lookup(p.dir, rest, "stat", path)
	if err != nil {
		return Info{}, err
	}
	return n.info(), nil
}

// ReadDir lists the directory at path, sorted by name.
func (fs *FS) ReadDir(path string) ([]Info, error) {
	id, rest, ok := split(fs.root, path)
	switch {
	case !ok:
		return nil, newError("readdir", path, IllegalPath)
	case id == "":
		var out []Info
		for _, id := range fs.Projects() {
			if p, ok := fs.project(id); ok {
				p.batch.RLock()
				out = append(out, p.dir.info())
				p.batch.RUnlock()
			}
		}
		return out, nil
	}

	p, ok := fs.project(id)
	if !ok {
		return nil, newError("readdir", path, NotFound)
	}
	p.batch.RLock()
	defer p.batch.RUnlock()

	n, err := lookup(p.dir, rest, "readdir", path)
	if err != nil {
		return nil, err
	}
	d, ok := n.(*dir)
	if !ok {
		return nil, newError("readdir", path, NotADirectory)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Info, 0, d.children.Len())
	d.children.Scan(func(_ string, child node) bool {
		out = append(out, child.info())
		return true
	})
	return out, nil
}

// ReadFile returns the content of the file at path.
//
// Content is handed out once and then dropped: reading it again returns
// [ErrConsumed]. Content given with [Lazy] is produced by that first read.
func (fs *FS) ReadFile(path string) ([]byte, error) {
	f, err := fs.file("read", path)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	content := f.content
	f.content.data, f.content.produce = nil, nil
	f.mu.Unlock()

	switch {
	case content.data != nil:
		return content.data, nil
	case content.produce != nil:
		data, err := content.produce()
		if err != nil {
			f.mu.Lock()
			if f.content.data == nil && f.content.produce == nil {
				f.content.produce = content.produce
			}
			f.mu.Unlock()
			return nil, err
		}
		return data, nil
	default:
		return nil, ErrConsumed
	}
}

func (fs *FS) file(op, path string) (*file, error) {
	id, rest, ok := split(fs.root, path)
	if !ok || id == "" {
		return nil, newError(op, path, IllegalPath)
	}
	p, ok := fs.project(id)
	if !ok {
		return nil, newError(op, path, NotFound)
	}
	p.batch.RLock()
	defer p.batch.RUnlock()

	n, err := lookup(p.dir, rest, op, path)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*file)
	if !ok {
		return nil, newError(op, path, IsADirectory)
	}
	return f, nil
}

// Mkdir creates a directory. Its parent must already exist.
func (fs *FS) Mkdir(path string) error {
	return fs.create("mkdir", path, func(name string) node {
		return &dir{name: name, modTime: fs.now()}
	}, false)
}

// CreateFile creates a file. Its parent must already exist. If override is
// set, an existing file at path is replaced.
func (fs *FS) CreateFile(path string, content Content, override bool) error {
	return fs.create("create", path, func(name string) node {
		return &file{name: name, modTime: fs.now(), content: content}
	}, override)
}

func (fs *FS) create(op, path string, newNode func(string) node, override bool) error {
	id, rest, ok := split(fs.root, path)
	if !ok || id == "" || len(rest) == 0 {
		return newError(op, path, IllegalPath)
	}
	p, ok := fs.project(id)
	if !ok {
		return newError(op, path, NotFound)
	}
	p.batch.RLock()
	defer p.batch.RUnlock()

	if p.dir.tombstone {
		return newError(op, path, NotFound)
	}
	parent, err := lookupDir(p.dir, rest[:len(rest)-1], op, path)
	if err != nil {
		return err
	}
	if err := parent.insert(newNode(rest[len(rest)-1]), override, op, path, fs.now()); err != nil {
		return err
	}
	fs.notify([]Event{{Op: Created, Path: path}})
	return nil
}

// Delete removes a file, or a directory and everything in it.
func (fs *FS) Delete(path string) error {
	id, rest, ok := split(fs.root, path)
	if !ok || id == "" || len(rest) == 0 {
		return newError("delete", path, IllegalPath)
	}
	p, ok := fs.project(id)
	if !ok {
		return newError("delete", path, NotFound)
	}
	p.batch.RLock()
	defer p.batch.RUnlock()

	parent, err := lookupDir(p.dir, rest[:len(rest)-1], "delete", path)
	if err != nil {
		return err
	}
	if !parent.remove(rest[len(rest)-1], fs.now()) {
		return newError("delete", path, NotFound)
	}
	fs.notify([]Event{{Op: Deleted, Path: path}})
	return nil
}

// Files returns the paths of every file in a project, sorted.
func (fs *FS) Files(id string) ([]string, error) {
	p, ok := fs.project(id)
	if !ok {
		return nil, newError("files", "/"+fs.root+"/"+id, NotFound)
	}
	p.batch.RLock()
	defer p.batch.RUnlock()

	var out []string
	var walk func(d *dir, prefix string)
	walk = func(d *dir, prefix string) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		d.children.Scan(func(name string, child node) bool {
			switch child := child.(type) {
			case *dir:
				walk(child, prefix+"/"+name)
			case *file:
				out = append(out, prefix+"/"+name)
			}
			return true
		})
	}
	walk(p.dir, "/"+fs.root+"/"+id)
	return out, nil
}

// insert adds a child to d.
func (d *dir) insert(child node, override bool, op, path string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := nodeName(child)
	if prev, ok := d.children.Get(name); ok {
		_, prevIsDir := prev.(*dir)
		_, newIsDir := child.(*dir)
		switch {
		case prevIsDir && !newIsDir:
			return newError(op, path, IsADirectory)
		case !override || newIsDir:
			return newError(op, path, AlreadyExists)
		}
	}
	d.children.Set(name, child)
	d.modTime = now
	return nil
}

// remove deletes a child of d, returning whether there was one.
func (d *dir) remove(name string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.children.Delete(name); !ok {
		return false
	}
	d.modTime = now
	return true
}

// child returns the child of d with the given name.
func (d *dir) child(name string) (node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.children.Get(name)
}

func nodeName(n node) string {
	switch n := n.(type) {
	case *dir:
		return n.name
	case *file:
		return n.name
	default:
		panic("unreachable")
	}
}

// lookup walks from d down the given path components.
func lookup(d *dir, parts []string, op, path string) (node, error) {
	var n node = d
	for _, part := range parts {
		d, ok := n.(*dir)
		if !ok {
			return nil, newError(op, path, NotADirectory)
		}
		if n, ok = d.child(part); !ok {
			return nil, newError(op, path, NotFound)
		}
	}
	return n, nil
}

func lookupDir(d *dir, parts []string, op, path string) (*dir, error) {
	n, err := lookup(d, parts, op, path)
	if err != nil {
		return nil, err
	}
	d, ok := n.(*dir)
	if !ok {
		return nil, newError(op, path, NotADirectory)
	}
	return d, nil
}
