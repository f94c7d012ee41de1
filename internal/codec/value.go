// Package codec implements the typed value model shared by the WAL,
// SSTable and wire protocol layers: a tagged value union, its binary
// record encoding, and its JSON wire encoding.
package codec

import (
	"bytes"
	"fmt"
	"time"
)

// Tag identifies the concrete type carried by a Value. Every codec path
// dispatches on Tag directly; nothing here uses a type switch over an
// interface.
type Tag byte

const (
	TagNull      Tag = 0
	TagInt64     Tag = 1
	TagVarchar   Tag = 2
	TagBool      Tag = 3
	TagDate      Tag = 4
	TagTimestamp Tag = 5
	TagBinary    Tag = 6
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagInt64:
		return "int64"
	case TagVarchar:
		return "varchar"
	case TagBool:
		return "boolean"
	case TagDate:
		return "date"
	case TagTimestamp:
		return "timestamp"
	case TagBinary:
		return "binary"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

// ParseColumnType maps a schema keyword to its Tag. Used by CREATE TABLE.
func ParseColumnType(kw string) (Tag, bool) {
	switch kw {
	case "int64":
		return TagInt64, true
	case "varchar":
		return TagVarchar, true
	case "boolean":
		return TagBool, true
	case "date":
		return TagDate, true
	case "timestamp":
		return TagTimestamp, true
	case "binary":
		return TagBinary, true
	default:
		return TagNull, false
	}
}

const dateLayout = "2006-01-02"
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Value is a tagged union over the seven wire/storage types. Only the
// field matching Tag is meaningful. int64 also carries DATE (days since
// the Unix epoch) and TIMESTAMP (milliseconds since the Unix epoch).
type Value struct {
	Tag Tag
	I64 int64
	Str string
	B   bool
	Bin []byte
}

func Null() Value                { return Value{Tag: TagNull} }
func Int64(v int64) Value        { return Value{Tag: TagInt64, I64: v} }
func Varchar(v string) Value     { return Value{Tag: TagVarchar, Str: v} }
func Bool(v bool) Value          { return Value{Tag: TagBool, B: v} }
func Binary(v []byte) Value      { return Value{Tag: TagBinary, Bin: v} }
func DateFromDays(d int32) Value { return Value{Tag: TagDate, I64: int64(d)} }
func TimestampFromMillis(ms int64) Value {
	return Value{Tag: TagTimestamp, I64: ms}
}

func (v Value) IsNull() bool { return v.Tag == TagNull }

// DateFromString parses an ISO YYYY-MM-DD literal into a DATE value.
func DateFromString(s string) (Value, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Value{}, fmt.Errorf("invalid date literal %q: %w", s, err)
	}
	days := int32(t.Unix() / 86400)
	return DateFromDays(days), nil
}

// TimestampFromString parses an ISO YYYY-MM-DDTHH:MM:SS.sssZ literal into
// a TIMESTAMP value.
func TimestampFromString(s string) (Value, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return Value{}, fmt.Errorf("invalid timestamp literal %q: %w", s, err)
	}
	return TimestampFromMillis(t.UnixMilli()), nil
}

// DateString renders a DATE value as YYYY-MM-DD.
func (v Value) DateString() string {
	t := time.Unix(v.I64*86400, 0).UTC()
	return t.Format(dateLayout)
}

// TimestampString renders a TIMESTAMP value as YYYY-MM-DDTHH:MM:SS.sssZ.
func (v Value) TimestampString() string {
	t := time.UnixMilli(v.I64).UTC()
	return t.Format(timestampLayout)
}

// Compare orders two values of the same Tag in their natural order:
// int64 by numeric value, varchar lexicographically, bool false<true,
// date/timestamp by instant, binary lexicographically by byte. Comparing
// across different tags is undefined and panics: the engine never mixes
// primary-key types within one table.
func Compare(a, b Value) int {
	if a.Tag != b.Tag {
		panic(fmt.Sprintf("codec: cannot compare %s with %s", a.Tag, b.Tag))
	}
	switch a.Tag {
	case TagNull:
		return 0
	case TagInt64, TagDate, TagTimestamp:
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		default:
			return 0
		}
	case TagVarchar:
		return bytes.Compare([]byte(a.Str), []byte(b.Str))
	case TagBool:
		if a.B == b.B {
			return 0
		}
		if !a.B {
			return -1
		}
		return 1
	case TagBinary:
		return bytes.Compare(a.Bin, b.Bin)
	default:
		panic(fmt.Sprintf("codec: unknown tag %d", byte(a.Tag)))
	}
}

// Equal reports whether two values of the same tag are identical.
func Equal(a, b Value) bool {
	if a.Tag != b.Tag {
		return false
	}
	return Compare(a, b) == 0
}

// EncodeKey renders v as an order-preserving byte string: comparing two
// EncodeKey outputs with the ordinary Go string "<" operator yields the
// same order as Compare. This lets the memtable and SSTable sparse index
// use plain byte/string comparison instead of re-dispatching on Tag for
// every comparison.
func EncodeKey(v Value) string {
	switch v.Tag {
	case TagInt64, TagDate, TagTimestamp:
		var buf [8]byte
		u := uint64(v.I64) ^ (1 << 63) // flip sign bit: orders signed ints via unsigned compare
		buf[0] = byte(u >> 56)
		buf[1] = byte(u >> 48)
		buf[2] = byte(u >> 40)
		buf[3] = byte(u >> 32)
		buf[4] = byte(u >> 24)
		buf[5] = byte(u >> 16)
		buf[6] = byte(u >> 8)
		buf[7] = byte(u)
		return string(buf[:])
	case TagVarchar:
		return v.Str
	case TagBool:
		if v.B {
			return string([]byte{1})
		}
		return string([]byte{0})
	case TagBinary:
		return string(v.Bin)
	default:
		return ""
	}
}
