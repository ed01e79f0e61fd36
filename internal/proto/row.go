package proto

import (
	"time"

	"github.com/pkg/errors"

	"github.com/meoying/mysqlcore/internal/codec"
)

// textNullMarker is the single byte the text protocol uses in place of a
// length-encoded string to denote SQL NULL.
const textNullMarker = 0xFB

// ParseTextRow decodes a text-protocol result row: each column is either
// the single NULL marker byte or a length-encoded string.
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_com_query_response_text_resultset_row.html
func ParseTextRow(payload []byte, numCols int) ([]Value, error) {
	row := make([]Value, numCols)
	off := 0
	for i := 0; i < numCols; i++ {
		if off >= len(payload) {
			return nil, codec.ErrShortRead
		}
		if payload[off] == textNullMarker {
			row[i] = NullValue
			off++
			continue
		}
		s, n, err := codec.ReadLengthEncodedString(payload[off:])
		if err != nil {
			return nil, errors.Wrapf(err, "mysqlcore: reading text row column %d", i)
		}
		row[i] = StringValue(s)
		off += n
	}
	return row, nil
}

// ParseBinaryRow decodes a binary-protocol result row: header byte 0x00,
// a NULL bitmap of ceil((n+2)/8) bytes at bit offset 2, then each
// non-null column encoded per its FieldType.
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_binary_resultset.html
func ParseBinaryRow(payload []byte, cols []Column) ([]Value, error) {
	if len(payload) < 1 || payload[0] != 0x00 {
		return nil, errors.New("mysqlcore: binary row missing 0x00 header")
	}
	numCols := len(cols)
	bitmapLen := (numCols + 7 + 2) / 8
	if len(payload) < 1+bitmapLen {
		return nil, codec.ErrShortRead
	}
	bitmap := payload[1 : 1+bitmapLen]
	off := 1 + bitmapLen

	isNull := func(i int) bool {
		bitPos := i + 2
		return bitmap[bitPos/8]&(1<<(bitPos%8)) != 0
	}

	row := make([]Value, numCols)
	for i, col := range cols {
		if isNull(i) {
			row[i] = NullValue
			continue
		}
		v, n, err := decodeBinaryValue(payload[off:], col.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "mysqlcore: decoding binary row column %d", i)
		}
		row[i] = v
		off += n
	}
	return row, nil
}

func decodeBinaryValue(buf []byte, ft FieldType) (Value, int, error) {
	switch ft {
	case FieldTypeTiny:
		if len(buf) < 1 {
			return Value{}, 0, codec.ErrShortRead
		}
		return IntValue(int64(int8(buf[0]))), 1, nil
	case FieldTypeShort, FieldTypeYear:
		v, n, err := codec.ReadUint16(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return IntValue(int64(int16(v))), n, nil
	case FieldTypeLong, FieldTypeInt24:
		v, n, err := codec.ReadUint32(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return IntValue(int64(int32(v))), n, nil
	case FieldTypeLongLong:
		v, n, err := codec.ReadUint64(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return IntValue(int64(v)), n, nil
	case FieldTypeFloat:
		v, n, err := codec.ReadFloat32(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return FloatValue(float64(v)), n, nil
	case FieldTypeDouble:
		v, n, err := codec.ReadFloat64(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return FloatValue(v), n, nil
	case FieldTypeDate, FieldTypeDatetime, FieldTypeTimestamp:
		return decodeBinaryDatetime(buf)
	case FieldTypeTime:
		return decodeBinaryTime(buf)
	default:
		s, n, err := codec.ReadLengthEncodedBytes(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return BytesValue(s), n, nil
	}
}

// decodeBinaryDatetime decodes the variable-length 0/4/7/11-byte DATE,
// DATETIME and TIMESTAMP layout.
func decodeBinaryDatetime(buf []byte) (Value, int, error) {
	length, n, err := codec.ReadLengthEncodedInteger(buf)
	if err != nil {
		return Value{}, 0, err
	}
	off := n
	if len(buf) < off+int(length) {
		return Value{}, 0, codec.ErrShortRead
	}
	if length == 0 {
		return TemporalValue(time.Time{}), off, nil
	}
	body := buf[off:]
	year, _, _ := codec.ReadUint16(body)
	month := body[2]
	day := body[3]
	var hour, minute, second byte
	var microsecond uint32
	if length >= 7 {
		hour, minute, second = body[4], body[5], body[6]
	}
	if length >= 11 {
		microsecond, _, _ = codec.ReadUint32(body[7:])
	}
	t := time.Date(int(year), time.Month(month), int(day), int(hour), int(minute), int(second), int(microsecond)*1000, time.UTC)
	return TemporalValue(t), off + int(length), nil
}

// decodeBinaryTime decodes the variable-length 0/8/12-byte TIME layout
// into a zero-date time.Time carrying the duration's components; callers
// that need negative/overflowing (>24h) TIME values should read Days
// separately rather than relying on the wall-clock fields alone.
func decodeBinaryTime(buf []byte) (Value, int, error) {
	length, n, err := codec.ReadLengthEncodedInteger(buf)
	if err != nil {
		return Value{}, 0, err
	}
	off := n
	if len(buf) < off+int(length) {
		return Value{}, 0, codec.ErrShortRead
	}
	if length == 0 {
		return TemporalValue(time.Time{}), off, nil
	}
	body := buf[off:]
	isNegative := body[0] != 0
	days, _, _ := codec.ReadUint32(body[1:])
	hour, minute, second := body[5], body[6], body[7]
	var microsecond uint32
	if length >= 12 {
		microsecond, _, _ = codec.ReadUint32(body[8:])
	}
	totalHours := int(days)*24 + int(hour)
	d := time.Duration(totalHours)*time.Hour +
		time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second +
		time.Duration(microsecond)*time.Microsecond
	if isNegative {
		d = -d
	}
	t := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d)
	return TemporalValue(t), off + int(length), nil
}
