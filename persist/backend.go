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

// Package persist defines the pluggable tiering backend a shard mirrors its
// published segment directories and WAL archives to, once they are durable
// on local disk. Grounded on the teacher's PersistenceEngine/PersistenceFactory
// pair (storage/persistence.go): that interface keyed reads/writes by
// (shard, column) because memcp's unit of storage is a table shard's column
// files; this engine's unit of storage is a segment directory's named files
// (`.col`, `.zfc`, `.idx`, ...), so Backend is generalized to an arbitrary
// object-key space instead of the column-name-hashing scheme
// ProcessColumnName used.
package persist

import (
	"context"
	"io"
)

// Backend is one storage tier: the local filesystem, S3, or Ceph/RADOS.
// Keys are slash-separated paths relative to a backend's own root/prefix,
// mirroring a segment directory's relative file layout
// (`<segment-dir>/<uid>_<field>.col`, `segments.idx`, WAL archive names).
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Factory opens a namespaced Backend, matching the teacher's
// PersistenceFactory.CreateDatabase(schema) — here namespaced by database
// directory name rather than SQL schema name.
type Factory interface {
	Open(namespace string) Backend
}

// MirrorDir puts every entry of files (base name -> contents, e.g. the
// files of a published segment directory or a retired WAL archive) to dst
// under keyPrefix+"/"+name — the tiering operation a shard runs after a
// segment or archive becomes durable locally. Every entry is put, whether
// or not dst already holds that key; the first Put error stops the copy.
func MirrorDir(ctx context.Context, dst Backend, keyPrefix string, files map[string]io.Reader) error {
	for name, r := range files {
		if err := dst.Put(ctx, keyPrefix+"/"+name, r); err != nil {
			return err
		}
	}
	return nil
}
