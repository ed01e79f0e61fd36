// Package proto implements the structured MySQL protocol messages: the
// handshake, OK/EOF/ERR, column definitions, result-set rows (text and
// binary), and the COM_* command packets. Each type's Parse/Build pair
// mirrors a single page of
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol.html
package proto

import (
	"github.com/pkg/errors"

	"github.com/meoying/mysqlcore/internal/codec"
	"github.com/meoying/mysqlcore/internal/flags"
)

// saltLen is the usable length of the handshake auth-plugin-data nonce.
const saltLen = 20

// HandshakeV10 is the server's initial greeting.
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_connection_phase_packets_protocol_handshake_v10.html
type HandshakeV10 struct {
	ServerVersion   string
	ConnectionID    uint32
	Salt            [saltLen]byte
	Capabilities    flags.Capability
	Charset         uint8
	Status          ServerStatus
	AuthPluginName  string
}

// ParseHandshakeV10 decodes a HandshakeV10 from a packet payload. It fails
// if the protocol version byte is not 0x0A or the usable salt is shorter
// than 20 bytes.
func ParseHandshakeV10(payload []byte) (HandshakeV10, error) {
	var hs HandshakeV10
	if len(payload) < 1 {
		return hs, codec.ErrShortRead
	}
	if payload[0] != 0x0A {
		return hs, errors.Errorf("mysqlcore: unsupported handshake protocol version %d", payload[0])
	}
	off := 1

	version, n, err := codec.ReadNullTerminatedString(payload[off:])
	if err != nil {
		return hs, errors.Wrap(err, "mysqlcore: reading server version")
	}
	hs.ServerVersion = version
	off += n

	connID, n, err := codec.ReadUint32(payload[off:])
	if err != nil {
		return hs, errors.Wrap(err, "mysqlcore: reading connection id")
	}
	hs.ConnectionID = connID
	off += n

	if len(payload) < off+8 {
		return hs, codec.ErrShortRead
	}
	saltPart1 := payload[off : off+8]
	off += 8

	// filler byte 0x00
	off++

	capLo, n, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return hs, errors.Wrap(err, "mysqlcore: reading capability_flags_1")
	}
	off += n

	charset, n, err := codec.ReadUint8(payload[off:])
	if err != nil {
		return hs, errors.Wrap(err, "mysqlcore: reading charset")
	}
	hs.Charset = charset
	off += n

	status, n, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return hs, errors.Wrap(err, "mysqlcore: reading status flags")
	}
	hs.Status = ServerStatus(status)
	off += n

	capHi, n, err := codec.ReadUint16(payload[off:])
	if err != nil {
		return hs, errors.Wrap(err, "mysqlcore: reading capability_flags_2")
	}
	off += n

	hs.Capabilities = flags.Capability(uint32(capLo) | uint32(capHi)<<16)

	authDataLen, n, err := codec.ReadUint8(payload[off:])
	if err != nil {
		return hs, errors.Wrap(err, "mysqlcore: reading auth_plugin_data_len")
	}
	off += n

	// 10 reserved bytes
	if len(payload) < off+10 {
		return hs, codec.ErrShortRead
	}
	off += 10

	// remainder of the salt: MAX(13, auth_plugin_data_len-8) bytes, the
	// last of which is a trailing NUL to discard.
	tailLen := int(authDataLen) - 8
	if tailLen < 13 {
		tailLen = 13
	}
	if len(payload) < off+tailLen {
		return hs, codec.ErrShortRead
	}
	saltPart2 := payload[off : off+12]
	off += tailLen

	usableSalt := append(append([]byte{}, saltPart1...), saltPart2...)
	if len(usableSalt) < saltLen {
		return hs, errors.New("mysqlcore: handshake salt shorter than 20 bytes")
	}
	copy(hs.Salt[:], usableSalt[:saltLen])

	if hs.Capabilities.Has(flags.ClientPluginAuth) && off < len(payload) {
		name, _, err := codec.ReadNullTerminatedString(payload[off:])
		if err == nil {
			hs.AuthPluginName = name
		}
	}

	return hs, nil
}

// HandshakeResponse41 is the client's reply to HandshakeV10.
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_connection_phase_packets_protocol_handshake_response.html
type HandshakeResponse41 struct {
	ClientFlags  flags.Capability
	Charset      uint8
	Username     string
	AuthResponse []byte
	Database     string
	AuthPluginName string
}

// maxPacketSize is the client_flag-independent value this client always
// advertises, per spec.md §4.3.
const maxPacketSize = 1<<24 - 1

// Build serializes a HandshakeResponse41 packet body.
func (h HandshakeResponse41) Build() []byte {
	buf := make([]byte, 0, 64+len(h.Username)+len(h.AuthResponse)+len(h.Database))
	buf = codec.WriteUint32(buf, uint32(h.ClientFlags))
	buf = codec.WriteUint32(buf, maxPacketSize)
	buf = codec.WriteUint8(buf, h.Charset)
	buf = append(buf, make([]byte, 23)...)
	buf = codec.NullTerminatedString(buf, h.Username)
	buf = codec.LengthEncodedBytes(buf, h.AuthResponse)
	if h.ClientFlags.Has(flags.ClientConnectWithDB) {
		buf = codec.NullTerminatedString(buf, h.Database)
	}
	if h.ClientFlags.Has(flags.ClientPluginAuth) {
		buf = codec.NullTerminatedString(buf, h.AuthPluginName)
	}
	return buf
}
