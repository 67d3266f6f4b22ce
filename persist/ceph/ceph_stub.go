//go:build !ceph

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
package ceph

import (
	"context"
	"io"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/persist"
)

// Factory is a stub when Ceph support is not compiled in, grounded on
// storage/persistence-ceph-stub.go's CephFactory. Build with -tags=ceph to
// enable the real RADOS-backed Factory in ceph_cgo.go.
type Factory struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

func (f *Factory) Open(namespace string) persist.Backend {
	return stubBackend{}
}

type stubBackend struct{}

func (stubBackend) Put(ctx context.Context, key string, r io.Reader) error {
	return errs.New(errs.IoError, "ceph support not compiled in: build with -tags=ceph")
}

func (stubBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errs.New(errs.IoError, "ceph support not compiled in: build with -tags=ceph")
}

func (stubBackend) Delete(ctx context.Context, key string) error {
	return errs.New(errs.IoError, "ceph support not compiled in: build with -tags=ceph")
}

func (stubBackend) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, errs.New(errs.IoError, "ceph support not compiled in: build with -tags=ceph")
}
