package proto

import (
	"github.com/pkg/errors"

	"github.com/meoying/mysqlcore/internal/codec"
)

// FieldType is the MySQL column type code carried in a column definition
// and in COM_STMT_EXECUTE parameter type tags.
type FieldType uint8

const (
	FieldTypeDecimal    FieldType = 0x00
	FieldTypeTiny       FieldType = 0x01
	FieldTypeShort      FieldType = 0x02
	FieldTypeLong       FieldType = 0x03
	FieldTypeFloat      FieldType = 0x04
	FieldTypeDouble     FieldType = 0x05
	FieldTypeNull       FieldType = 0x06
	FieldTypeTimestamp  FieldType = 0x07
	FieldTypeLongLong   FieldType = 0x08
	FieldTypeInt24      FieldType = 0x09
	FieldTypeDate       FieldType = 0x0A
	FieldTypeTime       FieldType = 0x0B
	FieldTypeDatetime   FieldType = 0x0C
	FieldTypeYear       FieldType = 0x0D
	FieldTypeVarchar    FieldType = 0x0F
	FieldTypeBit        FieldType = 0x10
	FieldTypeJSON       FieldType = 0xF5
	FieldTypeNewDecimal FieldType = 0xF6
	FieldTypeEnum       FieldType = 0xF7
	FieldTypeSet        FieldType = 0xF8
	FieldTypeTinyBlob   FieldType = 0xF9
	FieldTypeMediumBlob FieldType = 0xFA
	FieldTypeLongBlob   FieldType = 0xFB
	FieldTypeBlob       FieldType = 0xFC
	FieldTypeVarString  FieldType = 0xFD
	FieldTypeString     FieldType = 0xFE
	FieldTypeGeometry   FieldType = 0xFF
)

// WidthClass classifies how a FieldType's value is encoded in the binary
// protocol, per spec.md §4.3's binary result row layout.
type WidthClass int

const (
	WidthFixedInt WidthClass = iota
	WidthFixedFloat
	WidthLenencString
	WidthLenencBytes
	WidthTemporal
)

// Width reports ft's binary-encoding width class and, for fixed-width
// types, the byte count.
func (ft FieldType) Width() (class WidthClass, fixedBytes int) {
	switch ft {
	case FieldTypeTiny:
		return WidthFixedInt, 1
	case FieldTypeShort, FieldTypeYear:
		return WidthFixedInt, 2
	case FieldTypeLong, FieldTypeInt24:
		return WidthFixedInt, 4
	case FieldTypeLongLong:
		return WidthFixedInt, 8
	case FieldTypeFloat:
		return WidthFixedFloat, 4
	case FieldTypeDouble:
		return WidthFixedFloat, 8
	case FieldTypeDate, FieldTypeDatetime, FieldTypeTimestamp, FieldTypeTime:
		return WidthTemporal, 0
	case FieldTypeVarchar, FieldTypeVarString, FieldTypeString, FieldTypeEnum,
		FieldTypeSet, FieldTypeDecimal, FieldTypeNewDecimal, FieldTypeJSON:
		return WidthLenencString, 0
	default:
		return WidthLenencBytes, 0
	}
}

// Unsigned reports whether the FieldType byte carried an unsigned flag
// (high bit 0x80 of the two-byte type tag used in COM_STMT_EXECUTE).
func (ft FieldType) Unsigned(typeTag uint16) bool {
	return typeTag&0x8000 != 0
}

// Column is a single column's metadata, parsed from Column Definition 41.
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_com_query_response_text_resultset_column_definition.html
type Column struct {
	Catalog  string
	Schema   string
	Table    string
	OrgTable string
	Name     string
	OrgName  string
	Charset  uint16
	Length   uint32
	Type     FieldType
	Flags    uint16
	Decimals uint8
}

// ParseColumn41 decodes a Column Definition 41 packet payload.
func ParseColumn41(payload []byte) (Column, error) {
	var c Column
	off := 0

	readLenencStr := func() (string, error) {
		s, n, err := codec.ReadLengthEncodedString(payload[off:])
		if err != nil {
			return "", err
		}
		off += n
		return s, nil
	}

	var err error
	if c.Catalog, err = readLenencStr(); err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading catalog")
	}
	if c.Schema, err = readLenencStr(); err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading schema")
	}
	if c.Table, err = readLenencStr(); err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading table")
	}
	if c.OrgTable, err = readLenencStr(); err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading org_table")
	}
	if c.Name, err = readLenencStr(); err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading name")
	}
	if c.OrgName, err = readLenencStr(); err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading org_name")
	}

	// length of fixed-length fields, always 0x0C
	if _, n, err := codec.ReadLengthEncodedInteger(payload[off:]); err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading fixed-length-fields length")
	} else {
		off += n
	}

	charset, n, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading character_set")
	}
	c.Charset = charset
	off += n

	length, n, err := codec.ReadUint32(payload[off:])
	if err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading column_length")
	}
	c.Length = length
	off += n

	typ, n, err := codec.ReadUint8(payload[off:])
	if err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading type")
	}
	c.Type = FieldType(typ)
	off += n

	fieldFlags, n, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading flags")
	}
	c.Flags = fieldFlags
	off += n

	decimals, _, err := codec.ReadUint8(payload[off:])
	if err != nil {
		return c, errors.Wrap(err, "mysqlcore: reading decimals")
	}
	c.Decimals = decimals

	return c, nil
}
