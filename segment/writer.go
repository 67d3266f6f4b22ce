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
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/framing"
)

// ZfcEntry is one `.zfc` record: where a zone's compressed block lives in
// the `.col` file and how to decompress it.
type ZfcEntry struct {
	ZoneID         uint32
	BlockStart     uint64
	CompLen        uint32
	UncompLen      uint32
	NumRows        uint32
	InBlockOffsets []uint32 // reserved for intra-block row seeking; unused today
}

// ColumnWriter appends one compressed column block per zone to a `.col`
// stream and accumulates the matching `.zfc` index entries.
type ColumnWriter struct {
	col     io.Writer
	offset  uint64
	entries []ZfcEntry
}

func NewColumnWriter(col io.Writer) (*ColumnWriter, error) {
	h := framing.NewHeader(framing.KindColumnBlock, 1, 0)
	if err := h.WriteTo(col); err != nil {
		return nil, err
	}
	return &ColumnWriter{col: col, offset: framing.HeaderLen}, nil
}

// WriteZoneBlock compresses and appends one zone's block, returning its
// zone id's `.zfc` entry (also retained for Finish).
func (w *ColumnWriter) WriteZoneBlock(zoneID uint32, b *Block) (ZfcEntry, error) {
	raw, err := Encode(b)
	if err != nil {
		return ZfcEntry{}, err
	}
	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, compressed)
	if err != nil {
		return ZfcEntry{}, errs.Wrap(errs.IoError, "compressing column block", err)
	}
	if n == 0 {
		// incompressible: lz4 signals this by returning 0; store raw verbatim
		// with CompLen == UncompLen as the "stored" convention.
		compressed = raw
		n = len(raw)
	}
	if _, err := w.col.Write(compressed[:n]); err != nil {
		return ZfcEntry{}, errs.Wrap(errs.IoError, "writing column block", err)
	}
	entry := ZfcEntry{
		ZoneID:     zoneID,
		BlockStart: w.offset,
		CompLen:    uint32(n),
		UncompLen:  uint32(len(raw)),
		NumRows:    b.RowCount,
	}
	w.offset += uint64(n)
	w.entries = append(w.entries, entry)
	return entry, nil
}

// WriteZfc serializes the accumulated `.zfc` index to w.
func (w *ColumnWriter) WriteZfc(zfc io.Writer) error {
	return WriteZfcEntries(zfc, w.entries)
}

func WriteZfcEntries(w io.Writer, entries []ZfcEntry) error {
	h := framing.NewHeader(framing.KindColumnBlock, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	for _, e := range entries {
		var buf bytes.Buffer
		hdr := make([]byte, 4+8+4+4+4+4)
		binary.LittleEndian.PutUint32(hdr[0:4], e.ZoneID)
		binary.LittleEndian.PutUint64(hdr[4:12], e.BlockStart)
		binary.LittleEndian.PutUint32(hdr[12:16], e.CompLen)
		binary.LittleEndian.PutUint32(hdr[16:20], e.UncompLen)
		binary.LittleEndian.PutUint32(hdr[20:24], e.NumRows)
		binary.LittleEndian.PutUint32(hdr[24:28], uint32(len(e.InBlockOffsets)))
		buf.Write(hdr)
		for _, off := range e.InBlockOffsets {
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], off)
			buf.Write(tmp[:])
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return errs.Wrap(errs.IoError, "writing zfc entry", err)
		}
	}
	return nil
}

func ReadZfcEntries(r io.Reader) ([]ZfcEntry, error) {
	if _, err := framing.ReadHeader(r, framing.KindColumnBlock); err != nil {
		return nil, err
	}
	var entries []ZfcEntry
	fixed := make([]byte, 28)
	for {
		_, err := io.ReadFull(r, fixed)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading zfc entry", err)
		}
		e := ZfcEntry{
			ZoneID:     binary.LittleEndian.Uint32(fixed[0:4]),
			BlockStart: binary.LittleEndian.Uint64(fixed[4:12]),
			CompLen:    binary.LittleEndian.Uint32(fixed[12:16]),
			UncompLen:  binary.LittleEndian.Uint32(fixed[16:20]),
			NumRows:    binary.LittleEndian.Uint32(fixed[20:24]),
		}
		count := binary.LittleEndian.Uint32(fixed[24:28])
		if count > 0 {
			offBuf := make([]byte, 4*count)
			if _, err := io.ReadFull(r, offBuf); err != nil {
				return nil, errs.Wrap(errs.CorruptionError, "reading zfc in-block offsets", err)
			}
			e.InBlockOffsets = make([]uint32, count)
			for i := range e.InBlockOffsets {
				e.InBlockOffsets[i] = binary.LittleEndian.Uint32(offBuf[i*4 : i*4+4])
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
