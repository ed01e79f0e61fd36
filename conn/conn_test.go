package conn

import (
	"context"
	"net"
	"testing"

	passert "github.com/magiconair/properties/assert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meoying/mysqlcore/errs"
	"github.com/meoying/mysqlcore/internal/codec"
	"github.com/meoying/mysqlcore/internal/flags"
	"github.com/meoying/mysqlcore/internal/packet"
	"github.com/meoying/mysqlcore/internal/proto"
)

// newScriptedConn wires a *Conn to one end of a net.Pipe and runs script
// against a Framer on the other end in a background goroutine, the way
// every test in this file stands in for a real MariaDB server.
func newScriptedConn(t *testing.T, script func(t *testing.T, server *packet.Framer)) (*Conn, func()) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		server := packet.New(serverSide, serverSide)
		script(t, server)
	}()
	c := New(clientSide)
	return c, func() {
		_ = clientSide.Close()
		_ = serverSide.Close()
		<-done
	}
}

// newScriptedConnRaw is newScriptedConn with the server's raw net.Conn
// also handed to script, for the rare test that needs to simulate the
// server vanishing mid-exchange rather than sending a scripted reply.
func newScriptedConnRaw(t *testing.T, script func(t *testing.T, server *packet.Framer, rawServer net.Conn)) (*Conn, func()) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		server := packet.New(serverSide, serverSide)
		script(t, server, serverSide)
	}()
	c := New(clientSide)
	return c, func() {
		_ = clientSide.Close()
		_ = serverSide.Close()
		<-done
	}
}

func buildHandshake(t *testing.T) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, 0x0A)
	buf = codec.NullTerminatedString(buf, "8.0.32")
	buf = codec.WriteUint32(buf, 7)
	buf = append(buf, []byte("12345678")...)
	buf = append(buf, 0x00)

	caps := flags.Default | flags.ClientDeprecateEOF
	buf = codec.WriteUint16(buf, uint16(caps))
	buf = codec.WriteUint8(buf, 0x21)
	buf = codec.WriteUint16(buf, uint16(proto.ServerStatusAutocommit))
	buf = codec.WriteUint16(buf, uint16(caps>>16))
	buf = codec.WriteUint8(buf, 21)
	buf = append(buf, make([]byte, 10)...)
	buf = append(buf, []byte("123456789012")...)
	buf = append(buf, 0x00)
	buf = codec.NullTerminatedString(buf, proto.AuthPluginMysqlNativePassword)
	return buf
}

func buildOK(affected, lastID uint64) []byte {
	var buf []byte
	buf = append(buf, 0x00)
	buf = codec.LengthEncodedInteger(buf, affected)
	buf = codec.LengthEncodedInteger(buf, lastID)
	buf = codec.WriteUint16(buf, uint16(proto.ServerStatusAutocommit))
	buf = codec.WriteUint16(buf, 0)
	return buf
}

// buildOKTerminator builds the OK-shaped (header 0xFE) packet a
// DEPRECATE_EOF server sends in place of the classic EOF packet to end a
// rows block.
func buildOKTerminator(affected, lastID uint64) []byte {
	var buf []byte
	buf = append(buf, 0xFE)
	buf = codec.LengthEncodedInteger(buf, affected)
	buf = codec.LengthEncodedInteger(buf, lastID)
	buf = codec.WriteUint16(buf, uint16(proto.ServerStatusAutocommit))
	buf = codec.WriteUint16(buf, 0)
	return buf
}

func buildERR(code uint16, sqlState, message string) []byte {
	var buf []byte
	buf = append(buf, 0xFF)
	buf = codec.WriteUint16(buf, code)
	buf = append(buf, '#')
	buf = append(buf, sqlState...)
	buf = append(buf, message...)
	return buf
}

func buildColumn(name string, ft proto.FieldType, fieldFlags uint16) []byte {
	var buf []byte
	buf = codec.LengthEncodedString(buf, "def")
	buf = codec.LengthEncodedString(buf, "")
	buf = codec.LengthEncodedString(buf, "")
	buf = codec.LengthEncodedString(buf, "")
	buf = codec.LengthEncodedString(buf, name)
	buf = codec.LengthEncodedString(buf, name)
	buf = codec.LengthEncodedInteger(buf, 0x0C)
	buf = codec.WriteUint16(buf, 0x21)
	buf = codec.WriteUint32(buf, 256)
	buf = codec.WriteUint8(buf, uint8(ft))
	buf = codec.WriteUint16(buf, fieldFlags)
	buf = codec.WriteUint8(buf, 0)
	return buf
}

// performHandshake drives the scripted server through a successful,
// capability-default, no-database authentication.
func performHandshake(t *testing.T, server *packet.Framer) {
	t.Helper()
	require.NoError(t, server.WritePacket(buildHandshake(t)))
	_, err := server.ReadPacket() // HandshakeResponse41
	require.NoError(t, err)
	server.ResetSequence()
	require.NoError(t, server.WritePacket(buildOK(0, 0)))
}

func authenticate(t *testing.T, c *Conn) {
	t.Helper()
	require.NoError(t, c.Authenticate(context.Background(), "root", "secret", "", false))
	assert.Equal(t, StateIdle, c.State())
}

// S1: SELECT @@version returns one row, one column, then the stream ends.
func TestQuerySelectVersion(t *testing.T) {
	t.Parallel()
	c, stop := newScriptedConn(t, func(t *testing.T, server *packet.Framer) {
		performHandshake(t, server)

		_, err := server.ReadPacket() // COM_QUERY
		require.NoError(t, err)
		server.ResetSequence()
		require.NoError(t, server.WritePacket(codec.LengthEncodedInteger(nil, 1)))
		require.NoError(t, server.WritePacket(buildColumn("@@version", proto.FieldTypeVarString, 0)))
		var row []byte
		row = codec.LengthEncodedString(row, "8.0.32")
		require.NoError(t, server.WritePacket(row))
		require.NoError(t, server.WritePacket(buildOKTerminator(0, 0)))
	})
	defer stop()

	authenticate(t, c)
	stream, err := c.Query(context.Background(), "SELECT @@version")
	require.NoError(t, err)
	require.Len(t, stream.Columns(), 1)

	row, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "8.0.32", row[0].String)

	_, ok, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateIdle, c.State())
}

// A stream closed before it is exhausted drains the remaining rows off
// the wire instead of leaving them for the next command, and the
// connection ends up Idle, never a mixed state.
func TestRowStreamCloseDrainsRemainingRowsToIdle(t *testing.T) {
	t.Parallel()
	c, stop := newScriptedConn(t, func(t *testing.T, server *packet.Framer) {
		performHandshake(t, server)

		_, err := server.ReadPacket() // COM_QUERY
		require.NoError(t, err)
		server.ResetSequence()
		require.NoError(t, server.WritePacket(codec.LengthEncodedInteger(nil, 1)))
		require.NoError(t, server.WritePacket(buildColumn("n", proto.FieldTypeLongLong, 0)))
		for _, v := range []string{"1", "2", "3"} {
			var row []byte
			row = codec.LengthEncodedString(row, v)
			require.NoError(t, server.WritePacket(row))
		}
		require.NoError(t, server.WritePacket(buildOKTerminator(0, 0)))
	})
	defer stop()

	authenticate(t, c)
	stream, err := c.Query(context.Background(), "SELECT n FROM three_rows")
	require.NoError(t, err)

	row, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", row[0].String)

	require.NoError(t, stream.Close(context.Background()))
	assert.Equal(t, StateIdle, c.State())
}

// If the drain itself hits a fatal I/O error — the server vanishes mid
// result set instead of sending the remaining rows or a terminator —
// Close reports that error and the connection ends up Closed, never
// silently Idle.
func TestRowStreamCloseOnDrainIOErrorLeavesConnectionClosed(t *testing.T) {
	t.Parallel()
	c, stop := newScriptedConnRaw(t, func(t *testing.T, server *packet.Framer, rawServer net.Conn) {
		performHandshake(t, server)

		_, err := server.ReadPacket() // COM_QUERY
		require.NoError(t, err)
		server.ResetSequence()
		require.NoError(t, server.WritePacket(codec.LengthEncodedInteger(nil, 1)))
		require.NoError(t, server.WritePacket(buildColumn("n", proto.FieldTypeLongLong, 0)))
		var row []byte
		row = codec.LengthEncodedString(row, "1")
		require.NoError(t, server.WritePacket(row))
		_ = rawServer.Close()
	})
	defer stop()

	authenticate(t, c)
	stream, err := c.Query(context.Background(), "SELECT n FROM two_rows")
	require.NoError(t, err)

	row, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", row[0].String)

	err = stream.Close(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateClosed, c.State())
}

// S2: an INSERT reports affected rows and a last insert id with no column
// phase at all.
func TestQueryInsertHasNoResultSet(t *testing.T) {
	t.Parallel()
	c, stop := newScriptedConn(t, func(t *testing.T, server *packet.Framer) {
		performHandshake(t, server)
		_, err := server.ReadPacket()
		require.NoError(t, err)
		server.ResetSequence()
		require.NoError(t, server.WritePacket(buildOK(1, 42)))
	})
	defer stop()

	authenticate(t, c)
	stream, err := c.Query(context.Background(), "INSERT INTO t(id) VALUES (1)")
	require.NoError(t, err)
	assert.Empty(t, stream.Columns())

	_, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, EndInfo{AffectedRows: 1, LastInsertID: 42}, stream.End())
	assert.Equal(t, uint64(1), c.AffectedRows())
	assert.Equal(t, uint64(42), c.LastInsertID())
}

// S3: prepare a one-parameter SELECT and execute it with a bound value.
func TestPrepareAndExecute(t *testing.T) {
	t.Parallel()
	c, stop := newScriptedConn(t, func(t *testing.T, server *packet.Framer) {
		performHandshake(t, server)

		_, err := server.ReadPacket() // COM_STMT_PREPARE
		require.NoError(t, err)
		server.ResetSequence()
		var prepOK []byte
		prepOK = append(prepOK, 0x00)
		prepOK = codec.WriteUint32(prepOK, 1)
		prepOK = codec.WriteUint16(prepOK, 1) // num_columns
		prepOK = codec.WriteUint16(prepOK, 1) // num_params
		prepOK = append(prepOK, 0x00)
		prepOK = codec.WriteUint16(prepOK, 0)
		require.NoError(t, server.WritePacket(prepOK))
		require.NoError(t, server.WritePacket(buildColumn("id", proto.FieldTypeLong, 0)))
		require.NoError(t, server.WritePacket(buildColumn("name", proto.FieldTypeVarString, 0)))

		_, err = server.ReadPacket() // COM_STMT_EXECUTE
		require.NoError(t, err)
		server.ResetSequence()
		require.NoError(t, server.WritePacket(codec.LengthEncodedInteger(nil, 1)))
		require.NoError(t, server.WritePacket(buildColumn("name", proto.FieldTypeVarString, 0)))
		var row []byte
		row = append(row, 0x00, 0x00)
		row = codec.LengthEncodedString(row, "Ada")
		require.NoError(t, server.WritePacket(row))
		require.NoError(t, server.WritePacket(buildOKTerminator(0, 0)))
	})
	defer stop()

	authenticate(t, c)
	stmt, err := c.Prepare(context.Background(), "SELECT name FROM users WHERE id = ?")
	require.NoError(t, err)
	require.Len(t, stmt.Params, 1)

	stream, err := c.Execute(context.Background(), stmt, []proto.Value{proto.IntValue(1)})
	require.NoError(t, err)
	row, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", row[0].String)
}

// S4: binding a non-numeric string against an UNSIGNED INT parameter fails
// synchronously, with no packet sent.
func TestExecuteTypeMismatchFailsBeforeSending(t *testing.T) {
	t.Parallel()
	c, stop := newScriptedConn(t, func(t *testing.T, server *packet.Framer) {
		performHandshake(t, server)

		_, err := server.ReadPacket() // COM_STMT_PREPARE
		require.NoError(t, err)
		server.ResetSequence()
		var prepOK []byte
		prepOK = append(prepOK, 0x00)
		prepOK = codec.WriteUint32(prepOK, 9)
		prepOK = codec.WriteUint16(prepOK, 0)
		prepOK = codec.WriteUint16(prepOK, 1)
		prepOK = append(prepOK, 0x00)
		prepOK = codec.WriteUint16(prepOK, 0)
		require.NoError(t, server.WritePacket(prepOK))
		require.NoError(t, server.WritePacket(buildColumn("id", proto.FieldTypeLong, fieldUnsigned)))
		// No further packets: a correct client must not send COM_STMT_EXECUTE.
	})
	defer stop()

	authenticate(t, c)
	stmt, err := c.Prepare(context.Background(), "INSERT INTO t(id) VALUES (?)")
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), stmt, []proto.Value{proto.StringValue("abc")})
	require.Error(t, err)
	var typeErr *errs.InvalidTypeBound
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "string", typeErr.Got)
	assert.Equal(t, "uint", typeErr.Expected)
	assert.Equal(t, StateIdle, c.State())
}

// S5: a server error mid-query is delivered as ServerError and leaves the
// connection usable for the next command.
func TestServerErrorThenRecovery(t *testing.T) {
	t.Parallel()
	c, stop := newScriptedConn(t, func(t *testing.T, server *packet.Framer) {
		performHandshake(t, server)

		_, err := server.ReadPacket() // SELECT * FROM nope
		require.NoError(t, err)
		server.ResetSequence()
		require.NoError(t, server.WritePacket(buildERR(1146, "42S02", "Table 'nope' doesn't exist")))

		_, err = server.ReadPacket() // SELECT 1
		require.NoError(t, err)
		server.ResetSequence()
		require.NoError(t, server.WritePacket(codec.LengthEncodedInteger(nil, 1)))
		require.NoError(t, server.WritePacket(buildColumn("1", proto.FieldTypeLongLong, 0)))
		var row []byte
		row = codec.LengthEncodedString(row, "1")
		require.NoError(t, server.WritePacket(row))
		require.NoError(t, server.WritePacket(buildOKTerminator(0, 0)))
	})
	defer stop()

	authenticate(t, c)
	_, err := c.Query(context.Background(), "SELECT * FROM nope")
	var serverErr *errs.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, uint16(1146), serverErr.Code)
	assert.Equal(t, "42S02", serverErr.SQLState)
	assert.Equal(t, StateIdle, c.State())

	stream, err := c.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	row, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", row[0].String)
}

// A second command issued while one is still outstanding fails with
// ConnectionInUse rather than interleaving bytes on the wire.
func TestConnectionInUseRejectsOverlappingCommands(t *testing.T) {
	t.Parallel()
	c, stop := newScriptedConn(t, func(t *testing.T, server *packet.Framer) {
		performHandshake(t, server)
	})
	defer stop()

	authenticate(t, c)
	require.NoError(t, c.beginCommand(StateTextCommand))
	_, err := c.Query(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, errs.ErrConnectionInUse)
	passert.Equal(t, c.State(), StateTextCommand)
}
