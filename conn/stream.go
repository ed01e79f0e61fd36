package conn

import (
	"context"

	"github.com/pkg/errors"

	"github.com/meoying/mysqlcore/errs"
	"github.com/meoying/mysqlcore/internal/flags"
	"github.com/meoying/mysqlcore/internal/proto"
)

// EndInfo carries the metadata available once a RowStream is exhausted:
// the affected-rows/last-insert-id pair spec.md §3 attaches to every
// completed command.
type EndInfo struct {
	AffectedRows uint64
	LastInsertID uint64
}

// RowStream is the pull-model result of Query or Execute. Rows are parsed
// off the wire one at a time, only as Next is called, so a slow consumer
// exerts real back-pressure on the connection's read loop rather than
// buffering the whole result set in memory.
type RowStream struct {
	conn    *Conn
	columns []proto.Column
	binary  bool
	done    bool
	end     EndInfo
}

// Columns reports the result set's column metadata. It is empty for
// commands with no result set (INSERT, UPDATE, DELETE, DDL).
func (s *RowStream) Columns() []proto.Column {
	return s.columns
}

// Next reads and decodes the next row, or reports that the stream is
// exhausted. Once it returns ok=false (with err==nil), End reports the
// command's final metadata and the connection has already returned to
// Idle.
func (s *RowStream) Next(ctx context.Context) (row []proto.Value, ok bool, err error) {
	if s.done {
		return nil, false, nil
	}
	if err := s.conn.applyDeadline(ctx); err != nil {
		return nil, false, s.conn.fail(err)
	}
	pkt, err := s.conn.framer.ReadPacket()
	if err != nil {
		return nil, false, s.conn.fail(err)
	}

	if proto.IsErrHeader(pkt.Payload) {
		se, err := proto.ParseERR(pkt.Payload)
		if err != nil {
			return nil, false, s.conn.fail(err)
		}
		s.done = true
		s.conn.endCommand()
		return nil, false, se
	}

	if proto.IsTerminator(pkt.Payload, s.conn.caps) {
		if s.conn.caps.Has(flags.ClientDeprecateEOF) {
			finalOK, err := proto.ParseOK(pkt.Payload, s.conn.caps)
			if err != nil {
				return nil, false, s.conn.fail(err)
			}
			s.end = EndInfo{AffectedRows: finalOK.AffectedRows, LastInsertID: finalOK.LastInsertID}
			s.conn.affectedRows = finalOK.AffectedRows
			s.conn.lastInsertID = finalOK.LastInsertID
		}
		s.done = true
		s.conn.endCommand()
		return nil, false, nil
	}

	if s.binary {
		row, err = proto.ParseBinaryRow(pkt.Payload, s.columns)
	} else {
		row, err = proto.ParseTextRow(pkt.Payload, len(s.columns))
	}
	if err != nil {
		return nil, false, s.conn.fail(err)
	}
	return row, true, nil
}

// End reports the command's final metadata. It is only meaningful after
// Next has returned ok=false with a nil error.
func (s *RowStream) End() EndInfo {
	return s.end
}

// Close drains any unread rows so the connection can return to Idle in a
// known wire state, then discards them. Callers that abandon a stream
// before exhausting it (e.g. a cancelled context) must call Close rather
// than simply dropping the reference: the server is still going to send
// the remaining rows down the same socket, and the next command would
// otherwise desynchronize against them. The drain itself runs to
// completion even if ctx is already done, since an interrupted drain
// leaves the connection unusable.
func (s *RowStream) Close(ctx context.Context) error {
	if s.done {
		return nil
	}
	for {
		_, ok, err := s.Next(context.Background())
		if err != nil {
			var se *errs.ServerError
			if errors.As(err, &se) {
				return nil
			}
			return err
		}
		if !ok {
			return nil
		}
	}
}
