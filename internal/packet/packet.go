// Package packet frames the MySQL wire protocol's byte stream into
// discrete packets: a 3-byte little-endian length, a 1-byte sequence id,
// and the payload. See
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_basic_packets.html
//
//go:generate mockgen -destination=mocks/io.mock.go -package=mocks io Reader
package packet

import (
	"io"

	"github.com/pkg/errors"

	"github.com/meoying/mysqlcore/internal/codec"
)

// MaxPayloadSize is the largest payload a single physical packet can carry
// (2^24 - 1 bytes). Logical payloads larger than this are split into
// continuation frames.
const MaxPayloadSize = 1<<24 - 1

// ErrSequenceMismatch signals that the server sent a packet whose sequence
// id did not match the one the framer expected; the connection is no
// longer trustworthy and must be closed.
var ErrSequenceMismatch = errors.New("mysqlcore: packet sequence id mismatch")

// Packet is a single logical protocol packet: a possibly-reassembled
// payload and the sequence id of its last physical frame.
type Packet struct {
	SequenceID uint8
	Payload    []byte
}

// Framer reads and writes Packets over a byte stream, tracking the
// sequence id across one request/response exchange. It performs blocking
// reads on the underlying io.Reader; this is the connection's single
// permitted suspension point for "need more bytes".
type Framer struct {
	r   io.Reader
	w   io.Writer
	seq uint8
}

// New wraps rw's Read/Write sides in a Framer with the sequence counter at
// zero, as at the start of a handshake.
func New(r io.Reader, w io.Writer) *Framer {
	return &Framer{r: r, w: w}
}

// ResetSequence zeroes the sequence counter, as required at the start of
// every new client-initiated command.
func (f *Framer) ResetSequence() {
	f.seq = 0
}

// ReadPacket blocks until one logical packet (reassembling continuation
// frames as needed) has been read, verifying and advancing the sequence
// id as it goes.
func (f *Framer) ReadPacket() (Packet, error) {
	var payload []byte
	var lastSeq uint8
	for {
		header := make([]byte, 4)
		if _, err := io.ReadFull(f.r, header); err != nil {
			return Packet{}, errors.Wrap(err, "mysqlcore: reading packet header")
		}
		length, _, err := codec.ReadUint24(header)
		if err != nil {
			return Packet{}, err
		}
		seq := header[3]
		if seq != f.seq {
			return Packet{}, ErrSequenceMismatch
		}
		f.seq++
		lastSeq = seq

		body := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(f.r, body); err != nil {
				return Packet{}, errors.Wrap(err, "mysqlcore: reading packet body")
			}
		}
		payload = append(payload, body...)

		if int(length) < MaxPayloadSize {
			return Packet{SequenceID: lastSeq, Payload: payload}, nil
		}
		// length == MaxPayloadSize: a continuation frame follows with the
		// next sequence id. A zero-length frame closes a sequence whose
		// total size is an exact multiple of MaxPayloadSize.
	}
}

// WritePacket splits payload into one or more physical frames (each at
// most MaxPayloadSize bytes) and writes them with strictly increasing
// sequence ids.
func (f *Framer) WritePacket(payload []byte) error {
	for {
		chunk := payload
		if len(chunk) > MaxPayloadSize {
			chunk = chunk[:MaxPayloadSize]
		}
		header := make([]byte, 0, 4)
		header = codec.WriteUint24(header, uint32(len(chunk)))
		header = codec.WriteUint8(header, f.seq)
		frame := append(header, chunk...)

		if _, err := f.w.Write(frame); err != nil {
			return errors.Wrap(err, "mysqlcore: writing packet")
		}
		f.seq++

		payload = payload[len(chunk):]
		if len(chunk) < MaxPayloadSize {
			return nil
		}
		if len(payload) == 0 {
			// Exact multiple of MaxPayloadSize: a trailing empty frame
			// closes the sequence.
			header = make([]byte, 0, 4)
			header = codec.WriteUint24(header, 0)
			header = codec.WriteUint8(header, f.seq)
			if _, err := f.w.Write(header); err != nil {
				return errors.Wrap(err, "mysqlcore: writing terminating packet")
			}
			f.seq++
			return nil
		}
	}
}
