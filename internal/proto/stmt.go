package proto

import (
	"github.com/pkg/errors"

	"github.com/meoying/mysqlcore/internal/codec"
)

// PrepareOK is the COM_STMT_PREPARE_OK header; the num_params and
// num_columns column definitions that follow it are read by the caller
// (the connection state machine), not by this parser, since they arrive
// as their own packets.
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_com_stmt_prepare.html
type PrepareOK struct {
	StatementID  uint32
	NumColumns   uint16
	NumParams    uint16
	WarningCount uint16
}

// ParsePrepareOK decodes a COM_STMT_PREPARE_OK packet payload.
func ParsePrepareOK(payload []byte) (PrepareOK, error) {
	var ok PrepareOK
	if len(payload) < 1 || payload[0] != 0x00 {
		return ok, errors.New("mysqlcore: not a COM_STMT_PREPARE_OK packet")
	}
	off := 1

	stmtID, n, err := codec.ReadUint32(payload[off:])
	if err != nil {
		return ok, errors.Wrap(err, "mysqlcore: reading statement_id")
	}
	ok.StatementID = stmtID
	off += n

	numCols, n, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return ok, errors.Wrap(err, "mysqlcore: reading num_columns")
	}
	ok.NumColumns = numCols
	off += n

	numParams, n, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return ok, errors.Wrap(err, "mysqlcore: reading num_params")
	}
	ok.NumParams = numParams
	off += n

	// filler byte
	off++

	if off+2 <= len(payload) {
		warnings, _, err := codec.ReadUint16(payload[off:])
		if err == nil {
			ok.WarningCount = warnings
		}
	}
	return ok, nil
}

// BindParam is a single declared parameter passed to BuildComStmtExecute:
// its column type/signedness plus the value to serialize.
type BindParam struct {
	Type     FieldType
	Unsigned bool
	Value    Value
}

// BuildComStmtExecute builds a COM_STMT_EXECUTE request body: header,
// NULL bitmap, and (new_params_bound=1) the type tags and values for
// every non-null parameter, per spec.md §4.3.
func BuildComStmtExecute(stmtID uint32, params []BindParam) []byte {
	buf := make([]byte, 0, 16+len(params)*8)
	buf = append(buf, ComStmtExecute)
	buf = codec.WriteUint32(buf, stmtID)
	buf = codec.WriteUint8(buf, 0) // flags
	buf = codec.WriteUint32(buf, 1) // iteration_count

	bitmapLen := (len(params) + 7) / 8
	bitmap := make([]byte, bitmapLen)
	for i, p := range params {
		if p.Value.IsNull() {
			bitmap[i/8] |= 1 << (i % 8)
		}
	}
	buf = append(buf, bitmap...)

	buf = codec.WriteUint8(buf, 1) // new_params_bound_flag
	for _, p := range params {
		typeTag := uint16(p.Type)
		if p.Unsigned {
			typeTag |= 0x8000
		}
		buf = codec.WriteUint16(buf, typeTag)
	}
	for _, p := range params {
		if p.Value.IsNull() {
			continue
		}
		buf = appendBinaryValue(buf, p.Type, p.Value)
	}
	return buf
}

func appendBinaryValue(buf []byte, ft FieldType, v Value) []byte {
	switch ft {
	case FieldTypeTiny:
		i, _ := v.AsInt64()
		return codec.WriteUint8(buf, uint8(i))
	case FieldTypeShort, FieldTypeYear:
		i, _ := v.AsInt64()
		return codec.WriteUint16(buf, uint16(i))
	case FieldTypeLong, FieldTypeInt24:
		i, _ := v.AsInt64()
		return codec.WriteUint32(buf, uint32(i))
	case FieldTypeLongLong:
		if v.Kind == KindUint {
			return codec.WriteUint64(buf, v.Uint)
		}
		i, _ := v.AsInt64()
		return codec.WriteUint64(buf, uint64(i))
	case FieldTypeFloat:
		f, _ := v.AsFloat64()
		return codec.WriteFloat32(buf, float32(f))
	case FieldTypeDouble:
		f, _ := v.AsFloat64()
		return codec.WriteFloat64(buf, f)
	default:
		s, _ := v.AsString()
		return codec.LengthEncodedString(buf, s)
	}
}
