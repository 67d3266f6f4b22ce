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
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/shardline/eventcore/errs"
)

// request is the {Entry, Shutdown} message the writer task consumes from
// its bounded channel; back-pressure comes entirely from the channel's
// capacity, not from a separate semaphore.
type request struct {
	entry    Entry
	shutdown bool
	done     chan error
}

// Writer owns one shard's Log and serializes all appends through a single
// task reading from a bounded channel, mirroring the teacher's preference
// for a dedicated goroutine over fine-grained locking for serialized I/O
// (storage/cache.go's single opChan consumer).
type Writer struct {
	log     *Log
	reqs    chan request
	done    chan struct{}
	log_    *zap.SugaredLogger
	onRotate func(RotatedFile)
}

// NewWriter starts the writer task. capacity bounds the channel and is the
// shard's natural back-pressure limit.
func NewWriter(l *Log, capacity int, logger *zap.SugaredLogger, onRotate func(RotatedFile)) *Writer {
	w := &Writer{
		log:      l,
		reqs:     make(chan request, capacity),
		done:     make(chan struct{}),
		log_:     logger,
		onRotate: onRotate,
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for req := range w.reqs {
		if req.shutdown {
			err := w.log.Sync()
			req.done <- err
			return
		}
		before := w.log.fileNum
		err := w.log.Append(req.entry)
		if err == nil && w.onRotate != nil && w.log.fileNum != before {
			w.onRotate(RotatedFile{Path: filepath.Join(w.log.dir, logFileName(w.log.shard, before)), FileNum: before})
		}
		if err != nil && w.log_ != nil {
			w.log_.Errorw("wal append failed", "error", err)
		}
		req.done <- err
	}
}

// Append enqueues entry and blocks until the writer task has durably
// processed it (or ctx is cancelled first).
func (w *Writer) Append(ctx context.Context, e Entry) error {
	done := make(chan error, 1)
	select {
	case w.reqs <- request{entry: e, done: done}:
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "enqueueing wal append", ctx.Err())
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "waiting for wal append", ctx.Err())
	}
}

// Shutdown drains pending appends, fsyncs, and stops the writer task.
func (w *Writer) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case w.reqs <- request{shutdown: true, done: done}:
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "enqueueing wal shutdown", ctx.Err())
	}
	select {
	case err := <-done:
		<-w.done
		return err
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "waiting for wal shutdown", ctx.Err())
	}
}
