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
	"io"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/framing"
)

// Zone is one contiguous run of at most event_per_zone rows inside a segment.
type Zone struct {
	ZoneID       uint32
	UID          uint32
	SegmentID    uint32
	StartRow     uint64
	EndRow       uint64
	TimestampMin int64
	TimestampMax int64
	CreatedAt    int64
}

const zoneRecordLen = 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8

// WriteZones writes the `<uid>.zones` file: the shared header, then one
// fixed-width record per zone in order.
func WriteZones(w io.Writer, zones []Zone) error {
	h := framing.NewHeader(framing.KindZoneMeta, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	buf := make([]byte, zoneRecordLen)
	for _, z := range zones {
		binary.LittleEndian.PutUint32(buf[0:4], z.ZoneID)
		binary.LittleEndian.PutUint32(buf[4:8], z.UID)
		binary.LittleEndian.PutUint32(buf[8:12], z.SegmentID)
		binary.LittleEndian.PutUint64(buf[12:20], z.StartRow)
		binary.LittleEndian.PutUint64(buf[20:28], z.EndRow)
		binary.LittleEndian.PutUint64(buf[28:36], uint64(z.TimestampMin))
		binary.LittleEndian.PutUint64(buf[36:44], uint64(z.TimestampMax))
		binary.LittleEndian.PutUint64(buf[44:52], uint64(z.CreatedAt))
		if _, err := w.Write(buf); err != nil {
			return errs.Wrap(errs.IoError, "writing zone record", err)
		}
	}
	return nil
}

// ReadZones reads back a `<uid>.zones` file produced by WriteZones.
func ReadZones(r io.Reader) ([]Zone, error) {
	if _, err := framing.ReadHeader(r, framing.KindZoneMeta); err != nil {
		return nil, err
	}
	var zones []Zone
	buf := make([]byte, zoneRecordLen)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading zone record", err)
		}
		zones = append(zones, Zone{
			ZoneID:       binary.LittleEndian.Uint32(buf[0:4]),
			UID:          binary.LittleEndian.Uint32(buf[4:8]),
			SegmentID:    binary.LittleEndian.Uint32(buf[8:12]),
			StartRow:     binary.LittleEndian.Uint64(buf[12:20]),
			EndRow:       binary.LittleEndian.Uint64(buf[20:28]),
			TimestampMin: int64(binary.LittleEndian.Uint64(buf[28:36])),
			TimestampMax: int64(binary.LittleEndian.Uint64(buf[36:44])),
			CreatedAt:    int64(binary.LittleEndian.Uint64(buf[44:52])),
		})
	}
	return zones, nil
}

// Plan partitions rowCount rows (already grouped by uid, in insertion order)
// into zones of at most eventPerZone rows, assigning contiguous zone ids
// starting at nextZoneID.
func Plan(uid uint32, segmentID uint32, nextZoneID uint32, rowCount int, eventPerZone int, timestamps []int64, createdAt int64) []Zone {
	if eventPerZone <= 0 {
		eventPerZone = 1
	}
	var zones []Zone
	zid := nextZoneID
	for start := 0; start < rowCount; start += eventPerZone {
		end := start + eventPerZone
		if end > rowCount {
			end = rowCount
		}
		tmin, tmax := timestamps[start], timestamps[start]
		for _, ts := range timestamps[start:end] {
			if ts < tmin {
				tmin = ts
			}
			if ts > tmax {
				tmax = ts
			}
		}
		zones = append(zones, Zone{
			ZoneID:       zid,
			UID:          uid,
			SegmentID:    segmentID,
			StartRow:     uint64(start),
			EndRow:       uint64(end),
			TimestampMin: tmin,
			TimestampMax: tmax,
			CreatedAt:    createdAt,
		})
		zid++
	}
	return zones
}
