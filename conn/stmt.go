package conn

import "github.com/meoying/mysqlcore/internal/proto"

// Statement is a prepared statement bound to the connection that created
// it. Execute and CloseStatement reject a Statement presented to a
// different *Conn.
type Statement struct {
	ID      uint32
	owner   *Conn
	Params  []proto.Column
	Columns []proto.Column
}
