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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/framing"
)

// Log is one shard's append-only WAL file on disk.
type Log struct {
	mu       sync.Mutex
	dir      string
	shard    int
	fsync    bool
	buffered bool
	rotateAt int

	file    *os.File
	writer  *bufio.Writer
	fileNum int
	count   int
}

func logFileName(shard, fileNum int) string {
	return fmt.Sprintf("shard-%d-%06d.wal", shard, fileNum)
}

// Open opens (creating if needed) the newest WAL file for shard in dir.
func Open(dir string, shard int, fsync, buffered bool, rotateAt int) (*Log, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errs.Wrap(errs.IoError, "creating wal directory", err)
	}
	l := &Log{dir: dir, shard: shard, fsync: fsync, buffered: buffered, rotateAt: rotateAt}
	fileNum, err := latestFileNum(dir, shard)
	if err != nil {
		return nil, err
	}
	if err := l.openFile(fileNum); err != nil {
		return nil, err
	}
	return l, nil
}

func latestFileNum(dir string, shard int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errs.Wrap(errs.IoError, "listing wal directory", err)
	}
	prefix := fmt.Sprintf("shard-%d-", shard)
	max := -1
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".wal") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".wal")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	if max < 0 {
		return 0, nil
	}
	return max, nil
}

func (l *Log) openFile(fileNum int) error {
	path := filepath.Join(l.dir, logFileName(l.shard, fileNum))
	existed := false
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		existed = true
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return errs.Wrap(errs.IoError, "opening wal file", err)
	}
	if !existed {
		h := framing.NewHeader(framing.KindWAL, 1, 0)
		if err := h.WriteTo(f); err != nil {
			f.Close()
			return err
		}
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.fileNum = fileNum
	l.count = 0
	return nil
}

// Append serializes, frames, writes, and (per policy) flushes/fsyncs entry.
// Rotation happens automatically once rotateAt entries have been appended.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	payload := encodeEntry(e)
	if err := writeFrame(l.writer, payload); err != nil {
		return err
	}
	if !l.buffered {
		if err := l.writer.Flush(); err != nil {
			return errs.Wrap(errs.IoError, "flushing wal writer", err)
		}
	}
	if l.fsync {
		if err := syncFile(l.file); err != nil {
			return err
		}
	}
	l.count++
	if l.rotateAt > 0 && l.count >= l.rotateAt {
		return l.rotateLocked()
	}
	return nil
}

// Flush pushes buffered writes to the OS without fsyncing.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return errs.Wrap(errs.IoError, "flushing wal writer", err)
	}
	return nil
}

// Sync flushes and fsyncs, used on clean shutdown per the durability
// invariant that the WAL is fsynced before the shard stops.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return errs.Wrap(errs.IoError, "flushing wal writer", err)
	}
	return syncFile(l.file)
}

// RotatedFile is the just-retired WAL file's path, returned so the archiver
// can consume it.
type RotatedFile struct {
	Path    string
	FileNum int
}

func (l *Log) rotateLocked() error {
	if err := l.writer.Flush(); err != nil {
		return errs.Wrap(errs.IoError, "flushing wal writer before rotation", err)
	}
	if err := syncFile(l.file); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return errs.Wrap(errs.IoError, "closing rotated wal file", err)
	}
	return l.openFile(l.fileNum + 1)
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return errs.Wrap(errs.IoError, "flushing wal writer on close", err)
	}
	return errs.Wrap(errs.IoError, "closing wal file", l.file.Close())
}

// Replay iterates every WAL file for shard in ascending fileNum order,
// yielding well-formed records; within each file it stops (not failing)
// at the first corrupt/truncated record and goes on with the next file.
func Replay(dir string, shard int) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoError, "listing wal directory for replay", err)
	}
	prefix := fmt.Sprintf("shard-%d-", shard)
	var nums []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".wal") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".wal")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var all []Entry
	for _, n := range nums {
		recs, err := replayFile(filepath.Join(dir, logFileName(shard, n)))
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return dedupByEventID(all), nil
}

func replayFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "opening wal file for replay", err)
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindWAL); err != nil {
		return nil, err
	}

	var records []Entry
	for {
		payload, err := readFrame(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			// trailing corrupt/truncated record: stop here, keep what we have
			break
		}
		e, err := decodeEntry(payload)
		if err != nil {
			break
		}
		records = append(records, e)
	}
	return records, nil
}

func dedupByEventID(entries []Entry) []Entry {
	seen := make(map[[16]byte]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if seen[e.EventID] {
			continue
		}
		seen[e.EventID] = true
		out = append(out, e)
	}
	return out
}
