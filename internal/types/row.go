package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeRow serializes vals into the table heap's on-page tuple format:
// for each column, a one-byte null flag followed by the column's
// fixed/length-prefixed encoding. This is distinct from Encode, which
// produces a sortable index-key fragment rather than a self-describing
// storage format.
func EncodeRow(vals []Value) []byte {
	var buf []byte
	for _, v := range vals {
		if v.IsNull() {
			buf = append(buf, 1)
			continue
		}
		buf = append(buf, 0)
		switch v.Kind {
		case KindBool:
			if v.B {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case KindInt64:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], uint64(v.I))
			buf = append(buf, tmp[:]...)
		case KindFloat64:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.F))
			buf = append(buf, tmp[:]...)
		case KindVarchar:
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], uint32(len(v.S)))
			buf = append(buf, tmp[:]...)
			buf = append(buf, []byte(v.S)...)
		}
	}
	return buf
}

// DecodeRow parses data written by EncodeRow according to schema's
// column kinds, in order.
func DecodeRow(schema Schema, data []byte) ([]Value, error) {
	vals := make([]Value, len(schema.Columns))
	off := 0
	for i, col := range schema.Columns {
		if off >= len(data) {
			return nil, fmt.Errorf("types: row truncated at column %d", i)
		}
		isNull := data[off]
		off++
		if isNull != 0 {
			vals[i] = Null
			continue
		}
		switch col.Kind {
		case KindBool:
			vals[i] = Bool(data[off] != 0)
			off++
		case KindInt64:
			vals[i] = Int64(int64(binary.LittleEndian.Uint64(data[off:])))
			off += 8
		case KindFloat64:
			vals[i] = Float64(math.Float64frombits(binary.LittleEndian.Uint64(data[off:])))
			off += 8
		case KindVarchar:
			n := binary.LittleEndian.Uint32(data[off:])
			off += 4
			vals[i] = Varchar(string(data[off : off+int(n)]))
			off += int(n)
		default:
			return nil, fmt.Errorf("types: unsupported column kind %s", col.Kind)
		}
	}
	return vals, nil
}
