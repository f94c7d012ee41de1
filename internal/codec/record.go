package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Kind distinguishes a PUT record (row upsert) from a DEL record
// (tombstone) in the shared WAL/SSTable binary format.
type Kind byte

const (
	KindPut    Kind = 1
	KindDelete Kind = 2
)

// Column is one (name, value) pair of a row, in schema order.
type Column struct {
	Name string
	Val  Value
}

// Record is the unit of the shared binary format:
//
//	record := varuint(len) body
//	body   := u8(kind) pk_value column_count { column }
//	column := varuint(name_len) name_bytes value
//	value  := u8(tag) payload
type Record struct {
	Kind Kind
	PK   Value
	Cols []Column
}

// EncodeRecord writes one length-prefixed record to w.
func EncodeRecord(w io.Writer, rec Record) error {
	var body bytes.Buffer
	body.WriteByte(byte(rec.Kind))
	if err := encodeValue(&body, rec.PK); err != nil {
		return err
	}
	if err := writeUvarint(&body, uint64(len(rec.Cols))); err != nil {
		return err
	}
	for _, c := range rec.Cols {
		if err := writeUvarint(&body, uint64(len(c.Name))); err != nil {
			return err
		}
		body.WriteString(c.Name)
		if err := encodeValue(&body, c.Val); err != nil {
			return err
		}
	}

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(body.Len()))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// ErrTornRecord is returned by DecodeRecord when the stream ends before a
// complete record could be read: the caller should treat everything from
// the start of that record onward as absent and, for a WAL, truncate the
// file there.
var ErrTornRecord = fmt.Errorf("codec: torn record")

// DecodeRecord reads one length-prefixed record from r. io.EOF is returned
// (unwrapped) when the stream ends cleanly between records. ErrTornRecord
// is returned when the stream ends mid-record.
func DecodeRecord(r *bufio.Reader) (Record, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, ErrTornRecord
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, ErrTornRecord
	}

	br := bytes.NewReader(body)
	kindByte, err := br.ReadByte()
	if err != nil {
		return Record{}, ErrTornRecord
	}
	rec := Record{Kind: Kind(kindByte)}

	rec.PK, err = decodeValue(br)
	if err != nil {
		return Record{}, ErrTornRecord
	}

	colCount, err := binary.ReadUvarint(br)
	if err != nil {
		return Record{}, ErrTornRecord
	}
	rec.Cols = make([]Column, 0, colCount)
	for i := uint64(0); i < colCount; i++ {
		nameLen, err := binary.ReadUvarint(br)
		if err != nil {
			return Record{}, ErrTornRecord
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(br, nameBytes); err != nil {
			return Record{}, ErrTornRecord
		}
		val, err := decodeValue(br)
		if err != nil {
			return Record{}, ErrTornRecord
		}
		rec.Cols = append(rec.Cols, Column{Name: string(nameBytes), Val: val})
	}

	return rec, nil
}

func writeUvarint(w *bytes.Buffer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func encodeValue(w *bytes.Buffer, v Value) error {
	w.WriteByte(byte(v.Tag))
	switch v.Tag {
	case TagNull:
		// no payload
	case TagInt64, TagTimestamp:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.I64))
		w.Write(buf[:])
	case TagVarchar:
		if err := writeUvarint(w, uint64(len(v.Str))); err != nil {
			return err
		}
		w.WriteString(v.Str)
	case TagBool:
		if v.B {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
	case TagDate:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v.I64))
		w.Write(buf[:])
	case TagBinary:
		if err := writeUvarint(w, uint64(len(v.Bin))); err != nil {
			return err
		}
		w.Write(v.Bin)
	default:
		return fmt.Errorf("codec: unknown value tag %d", byte(v.Tag))
	}
	return nil
}

func decodeValue(r *bytes.Reader) (Value, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	tag := Tag(tagByte)
	switch tag {
	case TagNull:
		return Null(), nil
	case TagInt64, TagTimestamp:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Value{}, err
		}
		i64 := int64(binary.LittleEndian.Uint64(buf[:]))
		if tag == TagTimestamp {
			return TimestampFromMillis(i64), nil
		}
		return Int64(i64), nil
	case TagVarchar:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return Value{}, err
		}
		return Varchar(string(b)), nil
	case TagBool:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case TagDate:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Value{}, err
		}
		return DateFromDays(int32(binary.LittleEndian.Uint32(buf[:]))), nil
	case TagBinary:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return Value{}, err
		}
		return Binary(b), nil
	default:
		return Value{}, fmt.Errorf("codec: unknown value tag %d", tagByte)
	}
}
