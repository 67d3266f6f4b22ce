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

// Package segment implements the on-disk columnar format: column blocks,
// zone metadata, and the per-field index family. Encoding/decoding mirrors
// the bit-packed, magic-byte-guarded serialization storage/storage-int.go
// and storage/storage-string.go use, generalized to the block shape
// required (phys_type/flags/row_count/aux_len header, then aux, then an
// 8-byte-aligned payload).
package segment

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/value"
)

// PhysType is the physical encoding of a column block, independent of the
// schema's logical type (e.g. a Timestamp is stored as I64).
type PhysType uint8

const (
	PhysVarBytes PhysType = iota
	PhysI64
	PhysU64
	PhysF64
	PhysBool
)

// LogicalToPhys maps a schema logical kind to its on-disk physical type.
func LogicalToPhys(k value.Kind) PhysType {
	switch k {
	case value.String:
		return PhysVarBytes
	case value.I64, value.Timestamp:
		return PhysI64
	case value.U64:
		return PhysU64
	case value.F64:
		return PhysF64
	case value.Bool:
		return PhysBool
	default:
		return PhysVarBytes
	}
}

const (
	flagNulls uint8 = 1 << 0
)

const blockHeaderLen = 16 // phys_type u8, flags u8, row_count u32, aux_len u32, reserved u48

// Block is the decoded in-memory form of one field's values for one zone.
type Block struct {
	Phys     PhysType
	RowCount uint32
	Nulls    []bool // len == RowCount when any null present, else nil
	I64      []int64
	U64      []uint64
	F64      []float64
	Bool     []bool
	Bytes    [][]byte // VarBytes rows
}

func (b *Block) hasNulls() bool {
	for _, n := range b.Nulls {
		if n {
			return true
		}
	}
	return false
}

// Encode serializes the block into its on-disk representation (uncompressed;
// the caller is responsible for block-level compression before writing to
// the .col file).
func Encode(b *Block) ([]byte, error) {
	var buf bytes.Buffer
	hasNulls := b.hasNulls()

	var aux []byte
	switch b.Phys {
	case PhysVarBytes:
		aux = make([]byte, 4*int(b.RowCount))
		for i, v := range b.Bytes {
			binary.LittleEndian.PutUint32(aux[i*4:i*4+4], uint32(len(v)))
		}
	default:
		if hasNulls {
			aux = make([]byte, (int(b.RowCount)+7)/8)
			for i, n := range b.Nulls {
				if n {
					aux[i/8] |= 1 << uint(i%8)
				}
			}
		}
	}

	var flags uint8
	if hasNulls && b.Phys != PhysVarBytes {
		flags |= flagNulls
	}

	header := make([]byte, blockHeaderLen)
	header[0] = byte(b.Phys)
	header[1] = flags
	binary.LittleEndian.PutUint32(header[2:6], b.RowCount)
	binary.LittleEndian.PutUint32(header[6:10], uint32(len(aux)))
	buf.Write(header)
	buf.Write(aux)

	if b.Phys != PhysVarBytes {
		pad := (8 - (buf.Len() % 8)) % 8
		buf.Write(make([]byte, pad))
	}

	switch b.Phys {
	case PhysVarBytes:
		for _, v := range b.Bytes {
			buf.Write(v)
		}
	case PhysI64:
		for _, v := range b.I64 {
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], uint64(v))
			buf.Write(tmp[:])
		}
	case PhysU64:
		for _, v := range b.U64 {
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], v)
			buf.Write(tmp[:])
		}
	case PhysF64:
		for _, v := range b.F64 {
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
			buf.Write(tmp[:])
		}
	case PhysBool:
		packed := make([]byte, (int(b.RowCount)+7)/8)
		for i, v := range b.Bool {
			if v {
				packed[i/8] |= 1 << uint(i%8)
			}
		}
		buf.Write(packed)
	default:
		return nil, errs.New(errs.CorruptionError, "unknown physical type during encode")
	}

	return buf.Bytes(), nil
}

// Decode parses a block previously produced by Encode.
func Decode(raw []byte) (*Block, error) {
	if len(raw) < blockHeaderLen {
		return nil, errs.New(errs.CorruptionError, "column block shorter than header")
	}
	phys := PhysType(raw[0])
	flags := raw[1]
	rowCount := binary.LittleEndian.Uint32(raw[2:6])
	auxLen := binary.LittleEndian.Uint32(raw[6:10])

	off := blockHeaderLen
	if uint32(len(raw)-off) < auxLen {
		return nil, errs.New(errs.CorruptionError, "column block aux section truncated")
	}
	aux := raw[off : off+int(auxLen)]
	off += int(auxLen)

	b := &Block{Phys: phys, RowCount: rowCount}

	var varLens []uint32
	if phys == PhysVarBytes {
		if int(auxLen) != 4*int(rowCount) {
			return nil, errs.New(errs.CorruptionError, "varbytes aux length mismatch")
		}
		varLens = make([]uint32, rowCount)
		for i := range varLens {
			varLens[i] = binary.LittleEndian.Uint32(aux[i*4 : i*4+4])
		}
	} else {
		if flags&flagNulls != 0 {
			b.Nulls = make([]bool, rowCount)
			for i := range b.Nulls {
				b.Nulls[i] = aux[i/8]&(1<<uint(i%8)) != 0
			}
		}
		pad := (8 - (off % 8)) % 8
		if off+pad > len(raw) {
			return nil, errs.New(errs.CorruptionError, "column block missing alignment padding")
		}
		off += pad
	}

	switch phys {
	case PhysVarBytes:
		b.Bytes = make([][]byte, rowCount)
		for i, l := range varLens {
			if off+int(l) > len(raw) {
				return nil, errs.New(errs.CorruptionError, "varbytes payload truncated")
			}
			v := make([]byte, l)
			copy(v, raw[off:off+int(l)])
			b.Bytes[i] = v
			off += int(l)
		}
	case PhysI64:
		b.I64 = make([]int64, rowCount)
		for i := range b.I64 {
			if off+8 > len(raw) {
				return nil, errs.New(errs.CorruptionError, "i64 payload truncated")
			}
			b.I64[i] = int64(binary.LittleEndian.Uint64(raw[off : off+8]))
			off += 8
		}
	case PhysU64:
		b.U64 = make([]uint64, rowCount)
		for i := range b.U64 {
			if off+8 > len(raw) {
				return nil, errs.New(errs.CorruptionError, "u64 payload truncated")
			}
			b.U64[i] = binary.LittleEndian.Uint64(raw[off : off+8])
			off += 8
		}
	case PhysF64:
		b.F64 = make([]float64, rowCount)
		for i := range b.F64 {
			if off+8 > len(raw) {
				return nil, errs.New(errs.CorruptionError, "f64 payload truncated")
			}
			b.F64[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off : off+8]))
			off += 8
		}
	case PhysBool:
		need := (int(rowCount) + 7) / 8
		if off+need > len(raw) {
			return nil, errs.New(errs.CorruptionError, "bool payload truncated")
		}
		b.Bool = make([]bool, rowCount)
		for i := range b.Bool {
			b.Bool[i] = raw[off+i/8]&(1<<uint(i%8)) != 0
		}
	default:
		return nil, errs.New(errs.CorruptionError, "unknown physical type during decode")
	}

	return b, nil
}

// At returns the value at row i as a value.Value, honoring the null bitmap.
func (b *Block) At(i int) value.Value {
	if b.Nulls != nil && i < len(b.Nulls) && b.Nulls[i] {
		return value.Nil()
	}
	switch b.Phys {
	case PhysVarBytes:
		return value.NewString(string(b.Bytes[i]))
	case PhysI64:
		return value.NewI64(b.I64[i])
	case PhysU64:
		return value.NewU64(b.U64[i])
	case PhysF64:
		return value.NewF64(b.F64[i])
	case PhysBool:
		return value.NewBool(b.Bool[i])
	default:
		return value.Nil()
	}
}

// BlockFromValues builds a Block for one zone's worth of a field's values.
func BlockFromValues(phys PhysType, vals []value.Value) *Block {
	b := &Block{Phys: phys, RowCount: uint32(len(vals))}
	anyNull := false
	for _, v := range vals {
		if v.IsNil() {
			anyNull = true
			break
		}
	}
	if anyNull {
		b.Nulls = make([]bool, len(vals))
	}
	switch phys {
	case PhysVarBytes:
		b.Bytes = make([][]byte, len(vals))
	case PhysI64:
		b.I64 = make([]int64, len(vals))
	case PhysU64:
		b.U64 = make([]uint64, len(vals))
	case PhysF64:
		b.F64 = make([]float64, len(vals))
	case PhysBool:
		b.Bool = make([]bool, len(vals))
	}
	for i, v := range vals {
		if b.Nulls != nil && v.IsNil() {
			b.Nulls[i] = true
			continue
		}
		switch phys {
		case PhysVarBytes:
			b.Bytes[i] = []byte(v.Str())
		case PhysI64:
			b.I64[i] = v.I64()
		case PhysU64:
			b.U64[i] = v.U64()
		case PhysF64:
			b.F64[i] = v.F64()
		case PhysBool:
			b.Bool[i] = v.Bool()
		}
	}
	return b
}
