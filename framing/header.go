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

// Package framing is the shared file header every core file begins with:
// magic + version + flags + reserved + a CRC-32 guarding the rest of the
// header. It is the single point where "is this file what I think it is"
// gets decided, grounded on storage's many *.Serialize/*.Deserialize magic
// byte checks (e.g. storage/storage-int.go's leading magic byte 10).
package framing

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/shardline/eventcore/errs"
)

const HeaderLen = 18 // 8 magic + 2 version + 2 flags + 2 reserved + 4 crc

// FileKind distinguishes the file kinds enumerated in §6.1.
type FileKind uint8

const (
	KindZoneMeta FileKind = iota
	KindZoneEventTypeIndex
	KindContextIndex
	KindCalendarDir
	KindZoneXor
	KindZoneSurf
	KindZoneCompressedOffsets
	KindEnumBitmap
	KindWAL
	KindSnapshot
	KindAuthWAL
	KindColumnBlock
	KindIndexCatalog
	KindSegmentIndex
	KindFieldXor
)

var magics = map[FileKind][8]byte{
	KindZoneMeta:              {'E', 'V', 'Z', 'N', 'M', 'E', 'T', 'A'},
	KindZoneEventTypeIndex:    {'E', 'V', 'Z', 'N', 'I', 'D', 'X', '0'},
	KindContextIndex:          {'E', 'V', 'C', 'T', 'X', 'I', 'D', 'X'},
	KindCalendarDir:           {'E', 'V', 'C', 'A', 'L', 'N', 'D', 'R'},
	KindZoneXor:               {'E', 'V', 'Z', 'X', 'O', 'R', 'F', '8'},
	KindZoneSurf:              {'E', 'V', 'Z', 'S', 'U', 'R', 'F', '0'},
	KindZoneCompressedOffsets: {'E', 'V', 'Z', 'F', 'C', 'O', 'F', 'F'},
	KindEnumBitmap:            {'E', 'V', 'E', 'B', 'M', 'P', '0', '0'},
	KindWAL:                   {'E', 'V', 'W', 'A', 'L', 'L', 'O', 'G'},
	KindSnapshot:              {'E', 'V', 'S', 'N', 'A', 'P', '0', '0'},
	KindAuthWAL:               {'E', 'V', 'A', 'U', 'T', 'H', 'W', 'L'},
	KindColumnBlock:           {'E', 'V', 'C', 'O', 'L', 'B', 'L', 'K'},
	KindIndexCatalog:          {'E', 'V', 'I', 'C', 'A', 'T', '0', '0'},
	KindSegmentIndex:          {'E', 'V', 'S', 'G', 'I', 'D', 'X', '0'},
	KindFieldXor:              {'E', 'V', 'F', 'L', 'D', 'X', 'O', 'R'},
}

func (k FileKind) Magic() [8]byte { return magics[k] }

// Header is the fixed 18-byte prologue of every core file.
type Header struct {
	Magic    [8]byte
	Version  uint16
	Flags    uint16
	Reserved uint16
	CRC      uint32
}

// NewHeader builds a header for kind with the header CRC already computed.
func NewHeader(kind FileKind, version, flags uint16) Header {
	h := Header{Magic: kind.Magic(), Version: version, Flags: flags}
	h.CRC = h.computeCRC()
	return h
}

func (h Header) computeCRC() uint32 {
	buf := make([]byte, 14)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	binary.LittleEndian.PutUint16(buf[10:12], h.Flags)
	binary.LittleEndian.PutUint16(buf[12:14], h.Reserved)
	return crc32.ChecksumIEEE(buf)
}

// WriteTo writes the 18-byte header.
func (h Header) WriteTo(w io.Writer) error {
	buf := make([]byte, HeaderLen)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	binary.LittleEndian.PutUint16(buf[10:12], h.Flags)
	binary.LittleEndian.PutUint16(buf[12:14], h.Reserved)
	binary.LittleEndian.PutUint32(buf[14:18], h.CRC)
	_, err := w.Write(buf)
	if err != nil {
		return errs.Wrap(errs.IoError, "writing file header", err)
	}
	return nil
}

// ReadHeader reads and validates the 18-byte header, checking both the CRC
// over the first 14 bytes and that the magic is want's magic.
func ReadHeader(r io.Reader, want FileKind) (Header, error) {
	buf := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, errs.Wrap(errs.CorruptionError, "truncated file header", err)
	}
	var h Header
	copy(h.Magic[:], buf[0:8])
	h.Version = binary.LittleEndian.Uint16(buf[8:10])
	h.Flags = binary.LittleEndian.Uint16(buf[10:12])
	h.Reserved = binary.LittleEndian.Uint16(buf[12:14])
	h.CRC = binary.LittleEndian.Uint32(buf[14:18])

	if h.CRC != h.computeCRC() {
		return Header{}, errs.New(errs.CorruptionError, "file header CRC mismatch")
	}
	wantMagic := want.Magic()
	if h.Magic != wantMagic {
		return Header{}, errs.New(errs.CorruptionError, fmt.Sprintf("unexpected file magic: got %q want %q", h.Magic, wantMagic))
	}
	return h, nil
}
