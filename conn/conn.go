// Package conn drives a single physical connection's MySQL protocol state
// machine: handshake, the text-protocol simple-query sub-protocol, and the
// prepared-statement sub-protocol, exposing the request API described in
// spec.md §4.5. It performs no internal locking; the owning pool is
// responsible for ensuring exactly one caller uses a Conn at a time.
package conn

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/meoying/mysqlcore/errs"
	"github.com/meoying/mysqlcore/internal/codec"
	"github.com/meoying/mysqlcore/internal/flags"
	"github.com/meoying/mysqlcore/internal/packet"
	"github.com/meoying/mysqlcore/internal/proto"
)

// Conn is a single MySQL protocol connection. It is not safe for
// concurrent use; spec.md §5 places that obligation on the pool.
type Conn struct {
	transport net.Conn
	framer    *packet.Framer
	caps      flags.Capability
	charset   uint8
	state     State
	busy      bool

	connectionID uint32
	lastInsertID uint64
	affectedRows uint64

	ownedStatements map[uint32]*Statement
}

// New wraps an already-dialed net.Conn. The connection starts in
// StateHandshaking; callers must call Authenticate before issuing any
// command.
func New(transport net.Conn) *Conn {
	return &Conn{
		transport:       transport,
		framer:          packet.New(transport, transport),
		state:           StateHandshaking,
		charset:         0x21,
		ownedStatements: make(map[uint32]*Statement),
	}
}

// SetCharset overrides the charset collation id advertised in the
// handshake response; it must be called before Authenticate. The
// default, 0x21 (utf8_general_ci), is used if this is never called.
func (c *Conn) SetCharset(id uint8) {
	c.charset = id
}

// State reports the connection's current coarse phase.
func (c *Conn) State() State {
	return c.state
}

// LastInsertID and AffectedRows report the values from the most recently
// completed command, per spec.md §3's Connection data model.
func (c *Conn) LastInsertID() uint64 { return c.lastInsertID }
func (c *Conn) AffectedRows() uint64 { return c.affectedRows }

// fail transitions the connection to Closed and returns err, following
// spec.md §7: any parse, framing or I/O error in a non-Idle state is
// fatal.
func (c *Conn) fail(err error) error {
	c.state = StateClosed
	c.busy = false
	_ = c.transport.Close()
	return err
}

// beginCommand enforces the at-most-one-in-flight-command contract and
// moves the connection out of Idle.
func (c *Conn) beginCommand(next State) error {
	if c.state == StateClosed {
		return errors.Wrap(errs.ErrInvalidResponse, "mysqlcore: connection is closed")
	}
	if c.state != StateIdle || c.busy {
		return errs.ErrConnectionInUse
	}
	c.busy = true
	c.state = next
	c.framer.ResetSequence()
	return nil
}

// endCommand returns the connection to Idle after a command completes,
// whether by success or by a non-fatal ServerError (spec.md §7: the
// server has already re-synchronized itself, so the connection is
// reusable).
func (c *Conn) endCommand() {
	c.busy = false
	c.state = StateIdle
}

// applyDeadline propagates ctx's deadline, if any, onto the transport, the
// way the teacher's writeTimeout field does for writes alone.
func (c *Conn) applyDeadline(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return c.transport.SetDeadline(time.Time{})
	}
	return c.transport.SetDeadline(deadline)
}

// Authenticate drives HS/AwaitGreeting -> HS/AwaitAuthResult -> Idle.
func (c *Conn) Authenticate(ctx context.Context, user, password, database string, allowMultiStatements bool) error {
	if c.state != StateHandshaking {
		return errors.New("mysqlcore: Authenticate called outside the handshake phase")
	}

	greeting, err := c.framer.ReadPacket()
	if err != nil {
		return c.fail(err)
	}
	hs, err := proto.ParseHandshakeV10(greeting.Payload)
	if err != nil {
		return c.fail(errors.Wrap(err, "mysqlcore: invalid handshake"))
	}

	clientFlags := flags.Default
	if database != "" {
		clientFlags = clientFlags.Set(flags.ClientConnectWithDB)
	}
	if allowMultiStatements {
		clientFlags = clientFlags.Set(flags.ClientMultiStatements)
	}
	c.caps = flags.Negotiate(clientFlags, hs.Capabilities)
	c.connectionID = hs.ConnectionID

	var authResponse []byte
	switch hs.AuthPluginName {
	case proto.AuthPluginCachingSHA2Password:
		// Optimistically offer the native-password vector; a server
		// running caching_sha2_password will reply with AuthSwitchRequest
		// or AuthMoreData, handled below.
		authResponse = proto.NativePasswordAuthResponse(password, hs.Salt)
	default:
		authResponse = proto.NativePasswordAuthResponse(password, hs.Salt)
	}

	resp := proto.HandshakeResponse41{
		ClientFlags:    c.caps,
		Charset:        c.charset,
		Username:       user,
		AuthResponse:   authResponse,
		Database:       database,
		AuthPluginName: proto.AuthPluginMysqlNativePassword,
	}
	if err := c.framer.WritePacket(resp.Build()); err != nil {
		return c.fail(err)
	}

	return c.awaitAuthResult(ctx)
}

// awaitAuthResult implements HS/AwaitAuthResult, including the
// AuthSwitchRequest/AuthMoreData detour a caching_sha2_password server
// may take before the final OK or ERR.
func (c *Conn) awaitAuthResult(ctx context.Context) error {
	for {
		pkt, err := c.framer.ReadPacket()
		if err != nil {
			return c.fail(err)
		}
		payload := pkt.Payload
		switch {
		case proto.IsErrHeader(payload):
			se, err := proto.ParseERR(payload)
			if err != nil {
				return c.fail(err)
			}
			return c.fail(se)
		case len(payload) > 0 && payload[0] == 0xFE:
			// AuthSwitchRequest: this core only supports
			// mysql_native_password as a switch target.
			return c.fail(errs.NewUnsupported("auth plugin switch to a plugin other than mysql_native_password"))
		case len(payload) > 0 && payload[0] == 0x01:
			// AuthMoreData, used by caching_sha2_password.
			if err := proto.InterpretCachingSHA2Response(payload[1:]); err != nil {
				return c.fail(err)
			}
			continue
		case proto.IsOKHeader(payload):
			c.state = StateIdle
			return nil
		default:
			return c.fail(errors.Wrap(errs.ErrUnexpectedResponse, "mysqlcore: unexpected packet awaiting auth result"))
		}
	}
}

// Ping sends COM_PING and waits for the OK response.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.beginCommand(StateTextCommand); err != nil {
		return err
	}
	if err := c.framer.WritePacket(proto.BuildComPing()); err != nil {
		return c.fail(err)
	}
	pkt, err := c.framer.ReadPacket()
	if err != nil {
		return c.fail(err)
	}
	if proto.IsErrHeader(pkt.Payload) {
		se, err := proto.ParseERR(pkt.Payload)
		if err != nil {
			return c.fail(err)
		}
		c.endCommand()
		return se
	}
	if _, err := proto.ParseOK(pkt.Payload, c.caps); err != nil {
		return c.fail(err)
	}
	c.endCommand()
	return nil
}

// Query sends a COM_QUERY request and returns the resulting row stream.
// For statements with no result set (INSERT, UPDATE, DELETE, DDL), the
// returned stream is already exhausted; callers should still call End to
// read AffectedRows/LastInsertID.
func (c *Conn) Query(ctx context.Context, query string) (*RowStream, error) {
	if err := c.beginCommand(StateTextCommand); err != nil {
		return nil, err
	}
	if err := c.applyDeadline(ctx); err != nil {
		return nil, c.fail(err)
	}
	if err := c.framer.WritePacket(proto.BuildComQuery(query)); err != nil {
		return nil, c.fail(err)
	}
	return c.awaitColumnCount(false)
}

// awaitColumnCount implements Text|StatementCommand/AwaitColumnCount: the
// first packet after a COM_QUERY or COM_STMT_EXECUTE is either ERR, OK (no
// result set), or a lenenc column count opening a result-set header.
func (c *Conn) awaitColumnCount(binary bool) (*RowStream, error) {
	pkt, err := c.framer.ReadPacket()
	if err != nil {
		return nil, c.fail(err)
	}
	if proto.IsErrHeader(pkt.Payload) {
		se, err := proto.ParseERR(pkt.Payload)
		if err != nil {
			return nil, c.fail(err)
		}
		c.endCommand()
		return nil, se
	}
	if proto.IsOKHeader(pkt.Payload) {
		ok, err := proto.ParseOK(pkt.Payload, c.caps)
		if err != nil {
			return nil, c.fail(err)
		}
		c.affectedRows = ok.AffectedRows
		c.lastInsertID = ok.LastInsertID
		c.endCommand()
		return &RowStream{
			conn: c,
			done: true,
			end:  EndInfo{AffectedRows: ok.AffectedRows, LastInsertID: ok.LastInsertID},
		}, nil
	}

	count, _, err := codec.ReadLengthEncodedInteger(pkt.Payload)
	if err != nil {
		return nil, c.fail(err)
	}
	cols := make([]proto.Column, 0, count)
	for i := uint64(0); i < count; i++ {
		colPkt, err := c.framer.ReadPacket()
		if err != nil {
			return nil, c.fail(err)
		}
		col, err := proto.ParseColumn41(colPkt.Payload)
		if err != nil {
			return nil, c.fail(err)
		}
		cols = append(cols, col)
	}
	if count > 0 && !c.caps.Has(flags.ClientDeprecateEOF) {
		if _, err := c.framer.ReadPacket(); err != nil {
			return nil, c.fail(err)
		}
	}
	return &RowStream{conn: c, columns: cols, binary: binary}, nil
}

// Prepare sends COM_STMT_PREPARE and reads back the statement id plus its
// parameter and result column metadata.
func (c *Conn) Prepare(ctx context.Context, query string) (*Statement, error) {
	if err := c.beginCommand(StateStatementCommand); err != nil {
		return nil, err
	}
	if err := c.applyDeadline(ctx); err != nil {
		return nil, c.fail(err)
	}
	if err := c.framer.WritePacket(proto.BuildComStmtPrepare(query)); err != nil {
		return nil, c.fail(err)
	}

	pkt, err := c.framer.ReadPacket()
	if err != nil {
		return nil, c.fail(err)
	}
	if proto.IsErrHeader(pkt.Payload) {
		se, err := proto.ParseERR(pkt.Payload)
		if err != nil {
			return nil, c.fail(err)
		}
		c.endCommand()
		return nil, se
	}
	prepOK, err := proto.ParsePrepareOK(pkt.Payload)
	if err != nil {
		return nil, c.fail(err)
	}

	readDefs := func(n uint16) ([]proto.Column, error) {
		defs := make([]proto.Column, 0, n)
		for i := uint16(0); i < n; i++ {
			defPkt, err := c.framer.ReadPacket()
			if err != nil {
				return nil, err
			}
			col, err := proto.ParseColumn41(defPkt.Payload)
			if err != nil {
				return nil, err
			}
			defs = append(defs, col)
		}
		if n > 0 && !c.caps.Has(flags.ClientDeprecateEOF) {
			if _, err := c.framer.ReadPacket(); err != nil {
				return nil, err
			}
		}
		return defs, nil
	}

	params, err := readDefs(prepOK.NumParams)
	if err != nil {
		return nil, c.fail(err)
	}
	columns, err := readDefs(prepOK.NumColumns)
	if err != nil {
		return nil, c.fail(err)
	}

	stmt := &Statement{ID: prepOK.StatementID, owner: c, Params: params, Columns: columns}
	c.ownedStatements[stmt.ID] = stmt
	c.endCommand()
	return stmt, nil
}

// Execute binds values against a prepared statement's declared parameter
// types (spec.md §6), sends COM_STMT_EXECUTE, and returns the resulting
// row stream. No packet is sent if binding fails.
func (c *Conn) Execute(ctx context.Context, stmt *Statement, values []proto.Value) (*RowStream, error) {
	if stmt.owner != c {
		return nil, errors.New("mysqlcore: statement does not belong to this connection")
	}
	binds, err := BindValues(stmt, values)
	if err != nil {
		return nil, err
	}

	if err := c.beginCommand(StateStatementCommand); err != nil {
		return nil, err
	}
	if err := c.applyDeadline(ctx); err != nil {
		return nil, c.fail(err)
	}
	if err := c.framer.WritePacket(proto.BuildComStmtExecute(stmt.ID, binds)); err != nil {
		return nil, c.fail(err)
	}
	return c.awaitColumnCount(true)
}

// CloseStatement sends COM_STMT_CLOSE, which elicits no reply, and forgets
// the statement. The connection must be Idle; it remains Idle afterward.
func (c *Conn) CloseStatement(ctx context.Context, stmt *Statement) error {
	if stmt.owner != c {
		return errors.New("mysqlcore: statement does not belong to this connection")
	}
	if c.state == StateClosed {
		return nil
	}
	if c.state != StateIdle || c.busy {
		return errs.ErrConnectionInUse
	}
	c.framer.ResetSequence()
	if err := c.applyDeadline(ctx); err != nil {
		return c.fail(err)
	}
	if err := c.framer.WritePacket(proto.BuildComStmtClose(stmt.ID)); err != nil {
		return c.fail(err)
	}
	delete(c.ownedStatements, stmt.ID)
	return nil
}

// Close sends COM_QUIT and closes the transport. It never emits further
// events, per spec.md §6. The COM_QUIT write is best-effort, but its
// error is not silently swallowed: it is combined with any transport
// close error via multierr, the way the teacher combines the analogous
// pair of fallible teardown steps in its own Close methods.
func (c *Conn) Close(ctx context.Context) error {
	if c.state == StateClosed {
		return nil
	}
	quitErr := c.framer.WritePacket(proto.BuildComQuit())
	c.state = StateClosed
	closeErr := c.transport.Close()
	return multierr.Combine(quitErr, closeErr)
}
