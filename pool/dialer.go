package pool

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/meoying/mysqlcore/conn"
)

// NewDialer builds the Dialer a real caller wires into New: it opens a
// TCP (or, when cfg.TLSEnabled, TLS) connection to cfg.Address and runs
// the handshake, the way cmd/mysqlcli's one-shot connection setup does.
func NewDialer(cfg Config) Dialer {
	return func(ctx context.Context) (*conn.Conn, error) {
		d := net.Dialer{Timeout: cfg.ConnectTimeout()}
		transport, err := d.DialContext(ctx, "tcp", cfg.Address())
		if err != nil {
			return nil, err
		}
		if cfg.TLSEnabled {
			transport = tls.Client(transport, &tls.Config{ServerName: cfg.Hostname})
		}

		c := conn.New(transport)
		c.SetCharset(charsetID(cfg.Charset))
		if err := c.Authenticate(ctx, cfg.Username, cfg.Password, cfg.Database, cfg.AllowMultipleStatements); err != nil {
			_ = transport.Close()
			return nil, err
		}
		return c, nil
	}
}

// charsetCollations maps the handful of charset names cfg.Charset is
// expected to carry to their collation id, per the MySQL charset/collation
// table (utf8mb4_general_ci for utf8mb4, etc.). Unknown names fall back to
// utf8mb4's id so a typo in config never silently picks a narrower charset.
var charsetCollations = map[string]uint8{
	"utf8mb4": 0x2D,
	"utf8":    0x21,
	"latin1":  0x08,
	"ascii":   0x0B,
	"binary":  0x3F,
}

func charsetID(name string) uint8 {
	if id, ok := charsetCollations[name]; ok {
		return id
	}
	return 0x2D
}
