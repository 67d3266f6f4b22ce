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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/framing"
)

// ArchiveHeader is the metadata prologue of one archived, retired WAL file.
type ArchiveHeader struct {
	Version    uint16
	Shard      int32
	LogID      int32
	EntryCount uint32
	TSMin      int64
	TSMax      int64
}

// Archive reads a retired WAL file and writes a compressed, framed archive
// atomically into archiveDir. Malformed trailing records are tolerated
// (skipped) rather than failing the whole archive, per §4.1.
func Archive(retiredPath string, archiveDir string, shard, logID int) (string, error) {
	entries, err := replayFile(retiredPath)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	count := uint32(0)
	var tsMin, tsMax int64
	first := true
	for _, e := range entries {
		if first {
			tsMin, tsMax = e.Timestamp, e.Timestamp
			first = false
		} else {
			if e.Timestamp < tsMin {
				tsMin = e.Timestamp
			}
			if e.Timestamp > tsMax {
				tsMax = e.Timestamp
			}
		}
		payload := encodeEntry(e)
		if err := writeFrame(&body, payload); err != nil {
			return "", err
		}
		count++
	}

	if err := os.MkdirAll(archiveDir, 0750); err != nil {
		return "", errs.Wrap(errs.IoError, "creating wal archive directory", err)
	}
	name := fmt.Sprintf("shard-%d-log-%d.wal.xz", shard, logID)
	finalPath := filepath.Join(archiveDir, name)

	tmp, err := os.CreateTemp(archiveDir, ".archive-*")
	if err != nil {
		return "", errs.Wrap(errs.IoError, "creating wal archive temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := framing.NewHeader(framing.KindSnapshot, 1, 0)
	if err := h.WriteTo(tmp); err != nil {
		tmp.Close()
		return "", err
	}

	hdr := ArchiveHeader{Version: 1, Shard: int32(shard), LogID: int32(logID), EntryCount: count, TSMin: tsMin, TSMax: tsMax}
	if err := writeArchiveHeader(tmp, hdr); err != nil {
		tmp.Close()
		return "", err
	}

	xw, err := xz.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return "", errs.Wrap(errs.IoError, "creating xz writer", err)
	}
	if _, err := io.Copy(xw, &body); err != nil {
		tmp.Close()
		return "", errs.Wrap(errs.IoError, "writing compressed wal archive body", err)
	}
	if err := xw.Close(); err != nil {
		tmp.Close()
		return "", errs.Wrap(errs.IoError, "closing xz writer", err)
	}
	if err := syncFile(tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", errs.Wrap(errs.IoError, "closing wal archive temp file", err)
	}
	if err := renameFile(tmpPath, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

func writeArchiveHeader(w io.Writer, h ArchiveHeader) error {
	buf := make([]byte, 2+4+4+4+8+8)
	binary.LittleEndian.PutUint16(buf[0:2], h.Version)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(h.Shard))
	binary.LittleEndian.PutUint32(buf[6:10], uint32(h.LogID))
	binary.LittleEndian.PutUint32(buf[10:14], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[14:22], uint64(h.TSMin))
	binary.LittleEndian.PutUint64(buf[22:30], uint64(h.TSMax))
	if _, err := w.Write(buf); err != nil {
		return errs.Wrap(errs.IoError, "writing wal archive header", err)
	}
	return nil
}

// OpenArchive decompresses an archive and returns its entries, used by
// offline tooling or extended-retention replay, not by normal recovery.
func OpenArchive(path string) (ArchiveHeader, []Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return ArchiveHeader{}, nil, errs.Wrap(errs.IoError, "opening wal archive", err)
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindSnapshot); err != nil {
		return ArchiveHeader{}, nil, err
	}
	hdrBuf := make([]byte, 2+4+4+4+8+8)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		return ArchiveHeader{}, nil, errs.Wrap(errs.CorruptionError, "reading wal archive header", err)
	}
	hdr := ArchiveHeader{
		Version:    binary.LittleEndian.Uint16(hdrBuf[0:2]),
		Shard:      int32(binary.LittleEndian.Uint32(hdrBuf[2:6])),
		LogID:      int32(binary.LittleEndian.Uint32(hdrBuf[6:10])),
		EntryCount: binary.LittleEndian.Uint32(hdrBuf[10:14]),
		TSMin:      int64(binary.LittleEndian.Uint64(hdrBuf[14:22])),
		TSMax:      int64(binary.LittleEndian.Uint64(hdrBuf[22:30])),
	}

	xr, err := xz.NewReader(f)
	if err != nil {
		return ArchiveHeader{}, nil, errs.Wrap(errs.CorruptionError, "opening xz reader", err)
	}
	var entries []Entry
	for {
		payload, err := readFrame(xr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return hdr, entries, err
		}
		e, err := decodeEntry(payload)
		if err != nil {
			return hdr, entries, err
		}
		entries = append(entries, e)
	}
	return hdr, entries, nil
}
