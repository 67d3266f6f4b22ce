/*
Copyright (C) 2023  Carl-Philip Hänsch

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
package segment

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/framing"
)

// DirName is the zero-padded directory name for a segment counter, matching
// the naming convention segments.idx entries reference.
func DirName(counter uint32) string {
	return fmt.Sprintf("%010d", counter)
}

// ColumnFileName returns the base name of the `.col` file for (uid, field).
func ColumnFileName(uid uint32, field string) string { return fmt.Sprintf("%d_%s.col", uid, field) }
func ZfcFileName(uid uint32, field string) string     { return fmt.Sprintf("%d_%s.zfc", uid, field) }
func ZonesFileName(uid uint32) string                 { return fmt.Sprintf("%d.zones", uid) }
func IdxFileName(uid uint32) string                   { return fmt.Sprintf("%d.idx", uid) }
func CtxFileName(uid uint32) string                   { return fmt.Sprintf("%d.ctx", uid) }
func CalFileName(uid uint32) string                   { return fmt.Sprintf("%d.cal", uid) }
func IcxFileName(uid uint32) string                   { return fmt.Sprintf("%d.icx", uid) }
func ZxfFileName(uid uint32, field string) string     { return fmt.Sprintf("%d_%s.zxf", uid, field) }
func XfFileName(uid uint32, field string) string      { return fmt.Sprintf("%d_%s.xf", uid, field) }
func ZsrfFileName(uid uint32, field string) string    { return fmt.Sprintf("%d_%s.zsrf", uid, field) }
func EbmFileName(uid uint32, field string) string     { return fmt.Sprintf("%d_%s.ebm", uid, field) }

// IndexEntry is one `segments.idx` record: a segment's counter, a
// human-readable label, and the uids it holds data for.
type IndexEntry struct {
	Counter uint32
	Label   string
	UIDs    []uint32
}

// WriteSegmentIndex rewrites the whole `segments.idx` atomically: write to
// a temp file in the same directory, fsync, then rename over the target.
// This mirrors the flush procedure's "temp file then rename" publish step.
func WriteSegmentIndex(path string, entries []IndexEntry) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".segments-idx-*")
	if err != nil {
		return errs.Wrap(errs.IoError, "creating segments.idx temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := encodeSegmentIndex(tmp, entries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap(errs.IoError, "fsyncing segments.idx temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.IoError, "closing segments.idx temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.Wrap(errs.IoError, "publishing segments.idx", err)
	}
	return nil
}

func encodeSegmentIndex(w io.Writer, entries []IndexEntry) error {
	h := framing.NewHeader(framing.KindSegmentIndex, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
		return errs.Wrap(errs.IoError, "writing segments.idx entry count", err)
	}
	for _, e := range entries {
		if err := binary.Write(w, binary.LittleEndian, e.Counter); err != nil {
			return errs.Wrap(errs.IoError, "writing segment counter", err)
		}
		if err := writeString(w, e.Label); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.UIDs))); err != nil {
			return errs.Wrap(errs.IoError, "writing segment uid count", err)
		}
		for _, uid := range e.UIDs {
			if err := binary.Write(w, binary.LittleEndian, uid); err != nil {
				return errs.Wrap(errs.IoError, "writing segment uid", err)
			}
		}
	}
	return nil
}

// ReadSegmentIndex reads `segments.idx`. A missing file is treated as an
// empty index (a fresh shard has no segments yet).
func ReadSegmentIndex(path string) ([]IndexEntry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "opening segments.idx", err)
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindSegmentIndex); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading segments.idx entry count", err)
	}
	entries := make([]IndexEntry, count)
	for i := range entries {
		var e IndexEntry
		if err := binary.Read(f, binary.LittleEndian, &e.Counter); err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading segment counter", err)
		}
		label, err := readString(f)
		if err != nil {
			return nil, err
		}
		e.Label = label
		var uidCount uint32
		if err := binary.Read(f, binary.LittleEndian, &uidCount); err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading segment uid count", err)
		}
		e.UIDs = make([]uint32, uidCount)
		for j := range e.UIDs {
			if err := binary.Read(f, binary.LittleEndian, &e.UIDs[j]); err != nil {
				return nil, errs.Wrap(errs.CorruptionError, "reading segment uid", err)
			}
		}
		entries[i] = e
	}
	return entries, nil
}
