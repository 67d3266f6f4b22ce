//go:build ceph

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

// Package ceph is a persist.Backend over Ceph/RADOS, grounded on
// storage/persistence-ceph.go. RADOS has no append either (like S3), so
// objects are written whole via WriteFull, matching that file's "atomic
// overwrite" comment.
package ceph

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/ceph/go-ceph/rados"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/persist"
)

// Factory opens namespaced Backends against one RADOS pool.
type Factory struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

func (f *Factory) Open(namespace string) persist.Backend {
	pfx := path.Join(strings.TrimSuffix(f.Prefix, "/"), namespace)
	return &Backend{factory: f, prefix: pfx}
}

// Backend is a persist.Backend over one RADOS pool+prefix.
type Backend struct {
	factory *Factory
	prefix  string

	mu    sync.Mutex
	conn  *rados.Conn
	ioctx *rados.IOContext
	open  bool
}

func (b *Backend) ensureOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return nil
	}

	conn, err := rados.NewConnWithClusterAndUser(b.factory.ClusterName, b.factory.UserName)
	if err != nil {
		return errs.Wrap(errs.IoError, "connecting to ceph cluster", err)
	}
	if b.factory.ConfFile != "" {
		if err := conn.ReadConfigFile(b.factory.ConfFile); err != nil {
			return errs.Wrap(errs.IoError, "reading ceph config file", err)
		}
	} else {
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		return errs.Wrap(errs.IoError, "connecting to ceph", err)
	}
	ioctx, err := conn.OpenIOContext(b.factory.Pool)
	if err != nil {
		conn.Shutdown()
		return errs.Wrap(errs.IoError, "opening ceph pool", err)
	}
	b.conn = conn
	b.ioctx = ioctx
	b.open = true
	return nil
}

func (b *Backend) obj(key string) string {
	return path.Join(b.prefix, key)
}

func (b *Backend) Put(ctx context.Context, key string, r io.Reader) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errs.Wrap(errs.IoError, "buffering object before write", err)
	}
	if err := b.ioctx.WriteFull(b.obj(key), data); err != nil {
		return errs.Wrap(errs.IoError, "writing rados object", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	obj := b.obj(key)
	stat, err := b.ioctx.Stat(obj)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "statting rados object "+key, err)
	}
	data := make([]byte, stat.Size)
	n, err := b.ioctx.Read(obj, data, 0)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "reading rados object", err)
	}
	return io.NopCloser(bytes.NewReader(data[:n])), nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if err := b.ioctx.Delete(b.obj(key)); err != nil {
		return errs.Wrap(errs.IoError, "deleting rados object", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	iter, err := b.ioctx.Iter()
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "listing rados pool", err)
	}
	defer iter.Close()

	full := b.obj(prefix)
	var out []string
	for iter.Next() {
		name := iter.Value()
		if !strings.HasPrefix(name, full) {
			continue
		}
		rel := strings.TrimPrefix(name, b.prefix+"/")
		out = append(out, rel)
	}
	sort.Strings(out)
	return out, nil
}
