/*
Copyright (C) 2024  Carl-Philip Hänsch

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
package wal

import (
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shardline/eventcore/errs"
)

// durableRetry bounds the retry of one fsync/rename call: a handful of short
// attempts, enough to ride out a transient EINTR/ENOSPC blip without turning
// a retriable hiccup into minutes of stall on a wedged shard.
func durableRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}

// syncFile durably syncs f, retrying transient failures. Per §4.1, a single
// transient fsync error must not be promoted straight to a fatal shard
// error, so the caller only sees errs.IoError once retries are exhausted.
func syncFile(f *os.File) error {
	op := func() error { return fdatasync(f) }
	if err := backoff.Retry(op, durableRetry()); err != nil {
		return errs.Wrap(errs.IoError, "fsyncing wal file", err)
	}
	return nil
}

// renameFile durably publishes oldpath as newpath, retrying transient
// rename failures the same way syncFile retries fsync.
func renameFile(oldpath, newpath string) error {
	op := func() error { return os.Rename(oldpath, newpath) }
	if err := backoff.Retry(op, durableRetry()); err != nil {
		return errs.Wrap(errs.IoError, "renaming wal file", err)
	}
	return nil
}
