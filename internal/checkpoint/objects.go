package checkpoint

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/fyrsmithlabs/agentgate/internal/ignore"
)

// treeBuilder writes the working tree into the object store bottom-up.
type treeBuilder struct {
	store        storer.EncodedObjectStorer
	ignore       *ignore.Matcher
	maxFileBytes int64

	files   int
	skipped []string
}

// build returns the hash of the tree for dir, or the zero hash when nothing
// under dir is tracked.
func (b *treeBuilder) build(dir, rel string) (plumbing.Hash, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var tree object.Tree
	for _, e := range entries {
		name := e.Name()
		if name == ".git" {
			continue
		}
		childRel := path.Join(rel, name)
		childAbs := filepath.Join(dir, name)
		mode := e.Type()

		switch {
		case mode.IsDir():
			if b.ignore.Ignored(childRel, true) || isNestedRepo(childAbs) {
				continue
			}
			h, err := b.build(childAbs, childRel)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if h.IsZero() {
				continue
			}
			tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})

		case mode&os.ModeSymlink != 0:
			if b.ignore.Ignored(childRel, false) {
				continue
			}
			target, err := os.Readlink(childAbs)
			if err != nil {
				b.skipped = append(b.skipped, childRel)
				continue
			}
			h, err := writeBlob(b.store, []byte(filepath.ToSlash(target)))
			if err != nil {
				return plumbing.ZeroHash, err
			}
			tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Symlink, Hash: h})
			b.files++

		case mode.IsRegular():
			if b.ignore.Ignored(childRel, false) {
				continue
			}
			entry, ok, err := b.blob(childAbs, childRel, name)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if ok {
				tree.Entries = append(tree.Entries, entry)
				b.files++
			}
		}
	}

	if len(tree.Entries) == 0 {
		return plumbing.ZeroHash, nil
	}
	sortEntries(tree.Entries)
	return writeEncoded(b.store, &tree)
}

func (b *treeBuilder) blob(abs, rel, name string) (object.TreeEntry, bool, error) {
	info, err := os.Stat(abs)
	if err != nil {
		// deleted between listing and reading
		b.skipped = append(b.skipped, rel)
		return object.TreeEntry{}, false, nil
	}
	if b.maxFileBytes > 0 && info.Size() > b.maxFileBytes {
		b.skipped = append(b.skipped, rel)
		return object.TreeEntry{}, false, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		b.skipped = append(b.skipped, rel)
		return object.TreeEntry{}, false, nil
	}
	h, err := writeBlob(b.store, data)
	if err != nil {
		return object.TreeEntry{}, false, err
	}
	mode := filemode.Regular
	if info.Mode().Perm()&0o111 != 0 {
		mode = filemode.Executable
	}
	return object.TreeEntry{Name: name, Mode: mode, Hash: h}, true, nil
}

func isNestedRepo(dir string) bool {
	_, err := os.Lstat(filepath.Join(dir, ".git"))
	return err == nil
}

// sortEntries orders entries the way git does: byte order, with directory
// names compared as if they ended in "/".
func sortEntries(entries []object.TreeEntry) {
	key := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(entries, func(i, j int) bool {
		return key(entries[i]) < key(entries[j])
	})
}

func writeBlob(s storer.EncodedObjectStorer, data []byte) (plumbing.Hash, error) {
	h := plumbing.ComputeHash(plumbing.BlobObject, data)
	if s.HasEncodedObject(h) == nil {
		return h, nil
	}
	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := bytes.NewReader(data).WriteTo(w); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

type encoder interface {
	Encode(plumbing.EncodedObject) error
}

func writeEncoded(s storer.EncodedObjectStorer, v encoder) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	if err := v.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	if s.HasEncodedObject(obj.Hash()) == nil {
		return obj.Hash(), nil
	}
	return s.SetEncodedObject(obj)
}
