// Package codec implements the primitive byte encodings used by the MySQL
// wire protocol: fixed-width little-endian integers and floats,
// null-terminated strings, and the length-encoded integer/string/bytes
// forms described at
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_basic_dt_integers.html
package codec

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrShortRead is returned by every Read* function when the supplied
// buffer does not yet contain a full value. Callers must not treat any
// bytes as consumed when this error is returned.
var ErrShortRead = errors.New("mysqlcore: short read")

// ErrReservedLenenc is returned when a length-encoded integer's first byte
// is one of the two reserved values (0xFB, 0xFF).
var ErrReservedLenenc = errors.New("mysqlcore: reserved length-encoded integer prefix")

// FixedLengthInteger writes value into byteSize little-endian bytes.
// byteSize must be one of 1, 2, 3, 4, 6, 8.
func FixedLengthInteger(value uint64, byteSize int) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, value)
	return b[:byteSize]
}

// ReadFixedLengthInteger reads byteSize little-endian bytes from buf.
func ReadFixedLengthInteger(buf []byte, byteSize int) (uint64, error) {
	if len(buf) < byteSize {
		return 0, ErrShortRead
	}
	b := make([]byte, 8)
	copy(b, buf[:byteSize])
	return binary.LittleEndian.Uint64(b), nil
}

// WriteUint8/16/24/32/64 append a fixed-width little-endian integer.
func WriteUint8(dst []byte, v uint8) []byte   { return append(dst, v) }
func WriteUint16(dst []byte, v uint16) []byte { return append(dst, FixedLengthInteger(uint64(v), 2)...) }
func WriteUint24(dst []byte, v uint32) []byte { return append(dst, FixedLengthInteger(uint64(v), 3)...) }
func WriteUint32(dst []byte, v uint32) []byte { return append(dst, FixedLengthInteger(uint64(v), 4)...) }
func WriteUint64(dst []byte, v uint64) []byte { return append(dst, FixedLengthInteger(v, 8)...) }

// WriteFloat32/64 append an IEEE-754 little-endian float.
func WriteFloat32(dst []byte, v float32) []byte {
	return WriteUint32(dst, math.Float32bits(v))
}

func WriteFloat64(dst []byte, v float64) []byte {
	return WriteUint64(dst, math.Float64bits(v))
}

// ReadUint8/16/24/32/64 read a fixed-width little-endian integer, reporting
// how many bytes were consumed.
func ReadUint8(buf []byte) (uint8, int, error) {
	if len(buf) < 1 {
		return 0, 0, ErrShortRead
	}
	return buf[0], 1, nil
}

func ReadUint16(buf []byte) (uint16, int, error) {
	v, err := ReadFixedLengthInteger(buf, 2)
	if err != nil {
		return 0, 0, err
	}
	return uint16(v), 2, nil
}

func ReadUint24(buf []byte) (uint32, int, error) {
	v, err := ReadFixedLengthInteger(buf, 3)
	if err != nil {
		return 0, 0, err
	}
	return uint32(v), 3, nil
}

func ReadUint32(buf []byte) (uint32, int, error) {
	v, err := ReadFixedLengthInteger(buf, 4)
	if err != nil {
		return 0, 0, err
	}
	return uint32(v), 4, nil
}

func ReadUint64(buf []byte) (uint64, int, error) {
	v, err := ReadFixedLengthInteger(buf, 8)
	if err != nil {
		return 0, 0, err
	}
	return v, 8, nil
}

func ReadFloat32(buf []byte) (float32, int, error) {
	v, n, err := ReadUint32(buf)
	if err != nil {
		return 0, 0, err
	}
	return math.Float32frombits(v), n, nil
}

func ReadFloat64(buf []byte) (float64, int, error) {
	v, n, err := ReadUint64(buf)
	if err != nil {
		return 0, 0, err
	}
	return math.Float64frombits(v), n, nil
}

// NullTerminatedString appends str followed by a 0x00 byte.
func NullTerminatedString(dst []byte, str string) []byte {
	dst = append(dst, str...)
	return append(dst, 0x00)
}

// ReadNullTerminatedString reads a string up to (and consuming) the next
// 0x00 byte, reporting the number of bytes consumed including the
// terminator.
func ReadNullTerminatedString(buf []byte) (string, int, error) {
	idx := -1
	for i, b := range buf {
		if b == 0x00 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", 0, ErrShortRead
	}
	return string(buf[:idx]), idx + 1, nil
}

// LengthEncodedInteger appends value encoded as int<lenenc>:
//
//	value <  0xFB        -> 1-byte literal
//	value <= 0xFFFF       -> 0xFC + 2-byte integer
//	value <= 0xFFFFFF     -> 0xFD + 3-byte integer
//	otherwise              -> 0xFE + 8-byte integer
func LengthEncodedInteger(dst []byte, value uint64) []byte {
	switch {
	case value < 0xFB:
		return append(dst, byte(value))
	case value <= 0xFFFF:
		dst = append(dst, 0xFC)
		return append(dst, FixedLengthInteger(value, 2)...)
	case value <= 0xFFFFFF:
		dst = append(dst, 0xFD)
		return append(dst, FixedLengthInteger(value, 3)...)
	default:
		dst = append(dst, 0xFE)
		return append(dst, FixedLengthInteger(value, 8)...)
	}
}

// ReadLengthEncodedInteger reads int<lenenc>, reporting consumed bytes.
// ErrReservedLenenc is returned for the reserved prefixes 0xFB and 0xFF
// (0xFB doubles as the text-protocol NULL marker and must be special-cased
// by row decoders before calling this function).
func ReadLengthEncodedInteger(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, ErrShortRead
	}
	switch first := buf[0]; {
	case first < 0xFB:
		return uint64(first), 1, nil
	case first == 0xFC:
		v, err := ReadFixedLengthInteger(buf[1:], 2)
		if err != nil {
			return 0, 0, err
		}
		return v, 3, nil
	case first == 0xFD:
		v, err := ReadFixedLengthInteger(buf[1:], 3)
		if err != nil {
			return 0, 0, err
		}
		return v, 4, nil
	case first == 0xFE:
		v, err := ReadFixedLengthInteger(buf[1:], 8)
		if err != nil {
			return 0, 0, err
		}
		return v, 9, nil
	default:
		// 0xFB or 0xFF
		return 0, 0, ErrReservedLenenc
	}
}

// LengthEncodedString appends str as string<lenenc>: its byte length as
// int<lenenc>, followed by the raw bytes.
func LengthEncodedString(dst []byte, str string) []byte {
	return LengthEncodedBytes(dst, []byte(str))
}

// LengthEncodedBytes appends b as string<lenenc> (the binary form used for
// auth responses and binary-protocol blob columns).
func LengthEncodedBytes(dst []byte, b []byte) []byte {
	dst = LengthEncodedInteger(dst, uint64(len(b)))
	return append(dst, b...)
}

// ReadLengthEncodedString reads string<lenenc>, reporting consumed bytes.
func ReadLengthEncodedString(buf []byte) (string, int, error) {
	b, n, err := ReadLengthEncodedBytes(buf)
	if err != nil {
		return "", 0, err
	}
	return string(b), n, nil
}

// ReadLengthEncodedBytes reads string<lenenc> as raw bytes, reporting
// consumed bytes.
func ReadLengthEncodedBytes(buf []byte) ([]byte, int, error) {
	length, n, err := ReadLengthEncodedInteger(buf)
	if err != nil {
		return nil, 0, err
	}
	total := n + int(length)
	if len(buf) < total {
		return nil, 0, ErrShortRead
	}
	out := make([]byte, length)
	copy(out, buf[n:total])
	return out, total, nil
}
