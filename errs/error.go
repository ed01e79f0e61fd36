// Package errs collects the error taxonomy shared by the codec, wire
// message, connection and pool layers, following the sentinel-error style
// of the teacher's own internal/errs package.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors usable with errors.Is. Most are wrapped with extra
// context via the constructors below before being handed to a caller.
var (
	ErrInvalidHandshake  = errors.New("mysqlcore: invalid handshake packet")
	ErrInvalidResponse   = errors.New("mysqlcore: invalid response packet")
	ErrInvalidPacket     = errors.New("mysqlcore: invalid packet")
	ErrParsing           = errors.New("mysqlcore: parse error")
	ErrDecoding          = errors.New("mysqlcore: decoding error")
	ErrInvalidCredentials = errors.New("mysqlcore: invalid credentials")
	ErrConnectionInUse   = errors.New("mysqlcore: connection already has an outstanding command")
	ErrUnexpectedResponse = errors.New("mysqlcore: unexpected response from server")
	ErrTooManyParametersBound   = errors.New("mysqlcore: too many parameters bound")
	ErrNotEnoughParametersBound = errors.New("mysqlcore: not enough parameters bound")
)

// Unsupported reports a protocol feature this core deliberately does not
// implement (e.g. caching_sha2_password full authentication).
type Unsupported struct {
	What string
}

func (e *Unsupported) Error() string {
	return fmt.Sprintf("mysqlcore: unsupported: %s", e.What)
}

// NewUnsupported builds an Unsupported error.
func NewUnsupported(what string) error {
	return &Unsupported{What: what}
}

// InvalidTypeBound reports a bound value whose declared type cannot be
// assigned to the prepared statement parameter's column type.
type InvalidTypeBound struct {
	Got      string
	Expected string
}

func (e *InvalidTypeBound) Error() string {
	return fmt.Sprintf("mysqlcore: invalid type bound: got %s, expected %s", e.Got, e.Expected)
}

// NewInvalidTypeBound builds an InvalidTypeBound error.
func NewInvalidTypeBound(got, expected string) error {
	return &InvalidTypeBound{Got: got, Expected: expected}
}

// InvalidBinding reports any other parameter-binding failure (e.g. a
// value that cannot be serialized at all for the bound column type).
type InvalidBinding struct {
	For string
}

func (e *InvalidBinding) Error() string {
	return fmt.Sprintf("mysqlcore: invalid binding for %s", e.For)
}

// NewInvalidBinding builds an InvalidBinding error.
func NewInvalidBinding(forWhat string) error {
	return &InvalidBinding{For: forWhat}
}

// ServerError is a structured ERR_Packet relayed verbatim to the caller.
// Receiving one does not close the connection: the server has already
// re-synchronized its own state.
type ServerError struct {
	Code    uint16
	SQLState string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("mysqlcore: server error %d (%s): %s", e.Code, e.SQLState, e.Message)
}

// NewServerError builds a ServerError.
func NewServerError(code uint16, sqlState, message string) error {
	return &ServerError{Code: code, SQLState: sqlState, Message: message}
}

// IsFatal reports whether err, if surfaced from an in-flight command,
// should transition the connection to Closed. Pre-send validation errors
// and ServerError are not fatal; everything else (parse, framing, I/O) is.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return false
	}
	switch {
	case errors.Is(err, ErrConnectionInUse),
		errors.Is(err, ErrTooManyParametersBound),
		errors.Is(err, ErrNotEnoughParametersBound):
		return false
	}
	var invalidType *InvalidTypeBound
	if errors.As(err, &invalidType) {
		return false
	}
	var invalidBinding *InvalidBinding
	if errors.As(err, &invalidBinding) {
		return false
	}
	return true
}
