// Package filesystem implements backend.Backend over the local disk.
// Immutability is enforced by file mode (0400 vs 0600); atomic writes use
// a temp-file-then-rename dance, the same pattern the containers/image
// directory transport uses in directory_dest.go's PutBlob.
package filesystem

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/repoerr"
)

const (
	immutableMode os.FileMode = 0400
	mutableMode   os.FileMode = 0600
	dirMode       os.FileMode = 0700
)

// Backend stores blobs on disk, one subdirectory per backend.Location under
// a configured root.
type Backend struct {
	root string
}

// New returns a filesystem backend rooted at root. The root and its
// per-location subdirectories are created lazily on first write.
func New(root string) *Backend {
	return &Backend{root: root}
}

func (b *Backend) path(location backend.Location, key string) string {
	return filepath.Join(b.root, string(location), filepath.FromSlash(key))
}

func (b *Backend) Exists(ctx context.Context, location backend.Location, key string) (bool, error) {
	_, err := os.Stat(b.path(location, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, repoerr.Wrap(repoerr.Backend, "filesystem.Exists", err)
}

func (b *Backend) Read(ctx context.Context, location backend.Location, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(location, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, repoerr.Wrap(repoerr.Backend, "filesystem.Read", err)
	}
	return data, true, nil
}

func (b *Backend) Write(ctx context.Context, location backend.Location, key string, data []byte, immutable bool) error {
	dst := b.path(location, key)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return repoerr.Wrap(repoerr.Backend, "filesystem.Write", err)
	}

	if immutable {
		if _, err := os.Stat(dst); err == nil {
			return repoerr.New(repoerr.AlreadyExists, dst)
		} else if !os.IsNotExist(err) {
			return repoerr.Wrap(repoerr.Backend, "filesystem.Write", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return repoerr.Wrap(repoerr.Backend, "filesystem.Write", err)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		tmp.Close()
		if !succeeded {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return repoerr.Wrap(repoerr.Backend, "filesystem.Write", err)
	}
	if err := tmp.Sync(); err != nil {
		return repoerr.Wrap(repoerr.Backend, "filesystem.Write", err)
	}
	mode := mutableMode
	if immutable {
		mode = immutableMode
	}
	if err := tmp.Chmod(mode); err != nil {
		return repoerr.Wrap(repoerr.Backend, "filesystem.Write", err)
	}
	tmp.Close()

	if immutable {
		// A second writer that lost the Stat race above still loses here:
		// os.Link fails if dst already exists, giving the same
		// at-most-one-winner guarantee as an immutable write elsewhere.
		if err := os.Link(tmpName, dst); err != nil {
			if os.IsExist(err) {
				return repoerr.New(repoerr.AlreadyExists, dst)
			}
			return repoerr.Wrap(repoerr.Backend, "filesystem.Write", err)
		}
		// succeeded stays false: the deferred cleanup removes the temp
		// name, leaving the data reachable only at dst.
		return nil
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return repoerr.Wrap(repoerr.Backend, "filesystem.Write", err)
	}
	succeeded = true
	return nil
}

func (b *Backend) Delete(ctx context.Context, location backend.Location, key string) (bool, error) {
	err := os.Remove(b.path(location, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, repoerr.Wrap(repoerr.Backend, "filesystem.Delete", err)
	}
	return true, nil
}

func (b *Backend) List(ctx context.Context, location backend.Location, prefix string) ([]string, error) {
	root := filepath.Join(b.root, string(location))
	var keys []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, repoerr.Wrap(repoerr.Backend, "filesystem.List", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Move relocates srcKey to dstKey with os.Rename, atomic on POSIX within a
// filesystem (spec.md §4.1). Unlike the generic read-delete-write sequence
// a backend without an atomic move verb must fall back to, this leaves no
// window where the data exists at neither location.
func (b *Backend) Move(ctx context.Context, location backend.Location, srcKey, dstKey string) (bool, error) {
	src := b.path(location, srcKey)
	dst := b.path(location, dstKey)

	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, repoerr.Wrap(repoerr.Backend, "filesystem.Move", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return false, repoerr.Wrap(repoerr.Backend, "filesystem.Move", err)
	}

	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			// Another caller moved/deleted srcKey first: we lost the race.
			return false, nil
		}
		return false, repoerr.Wrap(repoerr.Backend, "filesystem.Move", err)
	}
	return true, nil
}

