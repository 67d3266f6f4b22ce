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

// Package value holds the fixed scalar enum payload values are built from.
// Unlike a general-purpose dynamic language value, this is a closed set of
// seven kinds, so it is kept as a plain tagged struct instead of a NaN-boxed
// union.
package value

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Kind discriminates the seven logical payload types the engine knows about.
type Kind uint8

const (
	Null Kind = iota
	I64
	U64
	F64
	Bool
	String
	Timestamp
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case I64:
		return "i64"
	case U64:
		return "u64"
	case F64:
		return "f64"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Timestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a single scalar payload value.
type Value struct {
	kind Kind
	num  uint64 // holds i64/u64/f64 bit pattern or bool (0/1) or timestamp seconds
	str  string // holds string payload only
}

func Nil() Value { return Value{kind: Null} }

func NewI64(v int64) Value { return Value{kind: I64, num: uint64(v)} }
func NewU64(v uint64) Value { return Value{kind: U64, num: v} }
func NewF64(v float64) Value { return Value{kind: F64, num: math.Float64bits(v)} }
func NewBool(v bool) Value {
	if v {
		return Value{kind: Bool, num: 1}
	}
	return Value{kind: Bool, num: 0}
}

// NewString normalizes the string to NFC before boxing it, so that two
// byte-distinct but canonically-equal encodings dedupe in dictionaries and
// membership filters.
func NewString(v string) Value {
	return Value{kind: String, str: norm.NFC.String(v)}
}
func NewTimestamp(seconds uint64) Value { return Value{kind: Timestamp, num: seconds} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNil() bool  { return v.kind == Null }

func (v Value) I64() int64 {
	switch v.kind {
	case I64:
		return int64(v.num)
	case U64:
		return int64(v.num)
	case Timestamp:
		return int64(v.num)
	case F64:
		return int64(math.Float64frombits(v.num))
	case Bool:
		return int64(v.num)
	default:
		return 0
	}
}

func (v Value) U64() uint64 {
	switch v.kind {
	case U64, I64, Timestamp:
		return v.num
	case F64:
		return uint64(math.Float64frombits(v.num))
	case Bool:
		return v.num
	default:
		return 0
	}
}

func (v Value) F64() float64 {
	switch v.kind {
	case F64:
		return math.Float64frombits(v.num)
	case I64:
		return float64(int64(v.num))
	case U64, Timestamp:
		return float64(v.num)
	case Bool:
		return float64(v.num)
	default:
		return 0
	}
}

func (v Value) Bool() bool { return v.kind == Bool && v.num != 0 }

func (v Value) Str() string {
	if v.kind == String {
		return v.str
	}
	return ""
}

// NumericString renders any numeric kind as a canonical decimal string for
// use in dictionaries/filters that only operate on bytes (e.g. XOR filter
// input hashing of high-cardinality string fields).
func (v Value) NumericString() string {
	switch v.kind {
	case I64:
		return strconv.FormatInt(int64(v.num), 10)
	case U64, Timestamp:
		return strconv.FormatUint(v.num, 10)
	case F64:
		return strconv.FormatFloat(math.Float64frombits(v.num), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(v.num != 0)
	case String:
		return v.str
	default:
		return ""
	}
}

func (v Value) String() string {
	switch v.kind {
	case Null:
		return "NULL"
	case String:
		return v.str
	default:
		return v.NumericString()
	}
}

// IsNumeric reports whether the value can participate in a numeric compare.
func (v Value) IsNumeric() bool {
	switch v.kind {
	case I64, U64, F64, Timestamp, Bool:
		return true
	default:
		return false
	}
}

// ParsesNumeric reports whether a string value can be parsed as a number,
// used by Min/Max/ordering to decide numeric-vs-lexical comparison per the
// engine's "prefer numeric when all observed values parse" rule.
func (v Value) ParsesNumeric() (float64, bool) {
	if v.IsNumeric() {
		return v.F64(), true
	}
	if v.kind == String {
		f, err := strconv.ParseFloat(v.str, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

// Less defines a total order across values of possibly-mixed kind, used by
// ordering, indices, and sharding pivots. Numeric kinds compare by value;
// strings compare lexically; null sorts before everything; mixed
// numeric/string falls back to lexical string comparison.
func Less(a, b Value) bool {
	if a.kind == Null && b.kind == Null {
		return false
	}
	if a.kind == Null {
		return true
	}
	if b.kind == Null {
		return false
	}
	if a.IsNumeric() && b.IsNumeric() {
		return a.F64() < b.F64()
	}
	return a.String() < b.String()
}

// Equal reports value equality (same logical value, not necessarily same kind).
func Equal(a, b Value) bool {
	if a.kind == Null || b.kind == Null {
		return a.kind == b.kind
	}
	if a.IsNumeric() && b.IsNumeric() {
		return a.F64() == b.F64()
	}
	if a.kind == String && b.kind == String {
		return a.str == b.str
	}
	return a.String() == b.String()
}

func (v Value) GoString() string {
	return fmt.Sprintf("Value{%s:%s}", v.kind, v.String())
}
