package proto

import (
	"github.com/pkg/errors"

	"github.com/meoying/mysqlcore/errs"
	"github.com/meoying/mysqlcore/internal/codec"
	"github.com/meoying/mysqlcore/internal/flags"
)

// OK is the OK_Packet: command success plus row-affecting metadata.
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_basic_ok_packet.html
type OK struct {
	AffectedRows uint64
	LastInsertID uint64
	Status       ServerStatus
	Warnings     uint16
	Info         string
}

// IsOKHeader reports whether payload starts with an OK packet header for
// the given capability set: strictly 0x00, or 0xFE when the packet is
// short enough that it cannot be an EOF-shaped packet's longer cousin.
// Callers in a rows phase must check DEPRECATE_EOF before trusting a
// leading 0xFE as OK rather than EOF.
func IsOKHeader(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0x00
}

// ParseOK decodes an OK packet. caps controls whether the optional
// session-state-changes tail (irrelevant to this core) is skipped
// correctly; it is otherwise unused since this core treats that tail as
// opaque trailing info.
func ParseOK(payload []byte, caps flags.Capability) (OK, error) {
	var ok OK
	if len(payload) < 1 || (payload[0] != 0x00 && payload[0] != 0xFE) {
		return ok, errors.Wrap(errs.ErrInvalidPacket, "mysqlcore: not an OK packet")
	}
	off := 1

	affected, n, err := codec.ReadLengthEncodedInteger(payload[off:])
	if err != nil {
		return ok, errors.Wrap(err, "mysqlcore: reading affected_rows")
	}
	ok.AffectedRows = affected
	off += n

	lastID, n, err := codec.ReadLengthEncodedInteger(payload[off:])
	if err != nil {
		return ok, errors.Wrap(err, "mysqlcore: reading last_insert_id")
	}
	ok.LastInsertID = lastID
	off += n

	if caps.Has(flags.ClientProtocol41) {
		status, n, err := codec.ReadUint16(payload[off:])
		if err != nil {
			return ok, errors.Wrap(err, "mysqlcore: reading status")
		}
		ok.Status = ServerStatus(status)
		off += n

		warnings, n, err := codec.ReadUint16(payload[off:])
		if err != nil {
			return ok, errors.Wrap(err, "mysqlcore: reading warnings")
		}
		ok.Warnings = warnings
		off += n
	}

	if off < len(payload) {
		ok.Info = string(payload[off:])
	}
	return ok, nil
}

// EOF is the EOF_Packet: a non-terminal marker ending a column or row
// block. When DEPRECATE_EOF is negotiated the server sends an OK packet
// with header byte 0xFE instead; ParseEOFOrOK accepts both shapes.
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_basic_eof_packet.html
type EOF struct {
	Warnings uint16
	Status   ServerStatus
}

// IsEOFHeader reports whether payload is short enough to be a classic
// (non-deprecated) EOF packet: header 0xFE and total length under 9.
func IsEOFHeader(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0xFE && len(payload) < 9
}

// ParseEOF decodes a classic EOF_Packet.
func ParseEOF(payload []byte) (EOF, error) {
	var e EOF
	if !IsEOFHeader(payload) {
		return e, errors.Wrap(errs.ErrInvalidPacket, "mysqlcore: not an EOF packet")
	}
	off := 1
	warnings, n, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return e, errors.Wrap(err, "mysqlcore: reading warnings")
	}
	e.Warnings = warnings
	off += n

	status, _, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return e, errors.Wrap(err, "mysqlcore: reading status")
	}
	e.Status = ServerStatus(status)
	return e, nil
}

// ParseEOFOrOK decodes either shape of end-of-block packet into the
// common EOF view, dispatching on DEPRECATE_EOF the way spec.md §4.3
// requires.
func ParseEOFOrOK(payload []byte, caps flags.Capability) (EOF, error) {
	if caps.Has(flags.ClientDeprecateEOF) {
		ok, err := ParseOK(payload, caps)
		if err != nil {
			return EOF{}, err
		}
		return EOF{Warnings: ok.Warnings, Status: ok.Status}, nil
	}
	return ParseEOF(payload)
}

// IsTerminator reports whether payload is the packet that ends a rows
// block under the negotiated capabilities: a classic EOF, or (under
// DEPRECATE_EOF) an OK-shaped packet with header 0xFE.
func IsTerminator(payload []byte, caps flags.Capability) bool {
	if len(payload) == 0 {
		return false
	}
	if caps.Has(flags.ClientDeprecateEOF) {
		return payload[0] == 0xFE
	}
	return IsEOFHeader(payload)
}

// ERR is the ERR_Packet.
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_basic_err_packet.html
type ERR struct {
	Code     uint16
	SQLState string
	Message  string
}

// IsErrHeader reports whether payload starts with the ERR header byte.
func IsErrHeader(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0xFF
}

// ParseERR decodes an ERR packet into the public errs.ServerError shape.
func ParseERR(payload []byte) (*errs.ServerError, error) {
	if !IsErrHeader(payload) {
		return nil, errors.Wrap(errs.ErrInvalidPacket, "mysqlcore: not an ERR packet")
	}
	off := 1
	code, n, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return nil, errors.Wrap(err, "mysqlcore: reading error_code")
	}
	off += n

	sqlState := ""
	if off < len(payload) && payload[off] == '#' {
		off++
		if off+5 > len(payload) {
			return nil, codec.ErrShortRead
		}
		sqlState = string(payload[off : off+5])
		off += 5
	}

	message := ""
	if off <= len(payload) {
		message = string(payload[off:])
	}
	return &errs.ServerError{Code: code, SQLState: sqlState, Message: message}, nil
}
