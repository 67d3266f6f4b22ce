/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package file is the default persist.Backend: a plain directory tree.
// Grounded on storage/persistence-files.go's FileStorage, which reads and
// writes shard columns as ordinary os.Open/os.Create files rooted at a
// per-database base path; generalized here from a (shard, column) key
// shape to an arbitrary relative path, since a segment directory's files
// are already named and laid out by the segment package.
package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/persist"
)

// Factory opens namespaced Backends rooted under Basepath, mirroring the
// teacher's FileFactory.
type Factory struct {
	Basepath string
}

func (f *Factory) Open(namespace string) persist.Backend {
	return &Backend{root: filepath.Join(f.Basepath, namespace)}
}

// Backend is a persist.Backend rooted at a single directory.
type Backend struct {
	root string
}

func New(root string) *Backend { return &Backend{root: root} }

func (b *Backend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *Backend) Put(ctx context.Context, key string, r io.Reader) error {
	p := b.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return errs.Wrap(errs.IoError, "creating parent directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return errs.Wrap(errs.IoError, "creating temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.IoError, "writing file contents", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.IoError, "fsyncing file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.IoError, "closing file", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.IoError, "publishing file", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(key))
	if os.IsNotExist(err) {
		return nil, errs.New(errs.NotFound, "no such object: "+key)
	}
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "opening file", err)
	}
	return f, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IoError, "removing file", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	root := b.root
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "listing directory", err)
	}
	sort.Strings(out)
	return out, nil
}
