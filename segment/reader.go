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
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/framing"
)

// ColumnReader random-accesses zone blocks out of a `.col` file using a
// previously-loaded `.zfc` index.
type ColumnReader struct {
	col     io.ReaderAt
	byZone  map[uint32]ZfcEntry
	entries []ZfcEntry
}

func OpenColumnReader(col io.ReaderAt, zfc []ZfcEntry) *ColumnReader {
	byZone := make(map[uint32]ZfcEntry, len(zfc))
	for _, e := range zfc {
		byZone[e.ZoneID] = e
	}
	return &ColumnReader{col: col, byZone: byZone, entries: zfc}
}

// ReadZoneBlock decodes the column block for the given zone.
func (r *ColumnReader) ReadZoneBlock(zoneID uint32) (*Block, error) {
	e, ok := r.byZone[zoneID]
	if !ok {
		return nil, errs.New(errs.NotFound, "zone not present in column")
	}
	compressed := make([]byte, e.CompLen)
	if _, err := r.col.ReadAt(compressed, int64(e.BlockStart)); err != nil {
		return nil, errs.Wrap(errs.IoError, "reading compressed column block", err)
	}
	var raw []byte
	if e.CompLen == e.UncompLen {
		raw = compressed // stored verbatim (incompressible block)
	} else {
		raw = make([]byte, e.UncompLen)
		n, err := lz4.UncompressBlock(compressed, raw)
		if err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "decompressing column block", err)
		}
		raw = raw[:n]
	}
	return Decode(raw)
}

func (r *ColumnReader) Zones() []uint32 {
	ids := make([]uint32, 0, len(r.entries))
	for _, e := range r.entries {
		ids = append(ids, e.ZoneID)
	}
	return ids
}

// VerifyHeader validates the shared file header of a `.col` stream without
// consuming the reader, for callers that open `.col` files via io.ReaderAt.
func VerifyHeader(header []byte) error {
	if len(header) < framing.HeaderLen {
		return errs.New(errs.CorruptionError, "column file truncated header")
	}
	_, err := framing.ReadHeader(newByteReader(header[:framing.HeaderLen]), framing.KindColumnBlock)
	return err
}

type byteReaderAt struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReaderAt { return &byteReaderAt{b: b} }

func (r *byteReaderAt) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
