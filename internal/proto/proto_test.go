package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meoying/mysqlcore/internal/codec"
	"github.com/meoying/mysqlcore/internal/flags"
)

func buildHandshakeV10(t *testing.T) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, 0x0A)
	buf = codec.NullTerminatedString(buf, "8.0.32")
	buf = codec.WriteUint32(buf, 42)
	buf = append(buf, []byte("12345678")...) // salt part 1
	buf = append(buf, 0x00)                  // filler

	caps := flags.Default
	buf = codec.WriteUint16(buf, uint16(caps))
	buf = codec.WriteUint8(buf, 0x21)
	buf = codec.WriteUint16(buf, uint16(ServerStatusAutocommit))
	buf = codec.WriteUint16(buf, uint16(caps>>16))
	buf = codec.WriteUint8(buf, 21) // auth_plugin_data_len
	buf = append(buf, make([]byte, 10)...)
	buf = append(buf, []byte("123456789012")...) // salt part 2 (12 usable bytes)
	buf = append(buf, 0x00)                       // trailing NUL
	buf = codec.NullTerminatedString(buf, AuthPluginMysqlNativePassword)
	return buf
}

func TestParseHandshakeV10(t *testing.T) {
	t.Parallel()
	hs, err := ParseHandshakeV10(buildHandshakeV10(t))
	require.NoError(t, err)
	assert.Equal(t, "8.0.32", hs.ServerVersion)
	assert.Equal(t, uint32(42), hs.ConnectionID)
	assert.Equal(t, "123456789012345678901"[:20], string(hs.Salt[:]))
	assert.Equal(t, AuthPluginMysqlNativePassword, hs.AuthPluginName)
	assert.True(t, hs.Capabilities.Has(flags.ClientProtocol41))
}

func TestParseHandshakeV10RejectsBadVersion(t *testing.T) {
	t.Parallel()
	_, err := ParseHandshakeV10([]byte{0x09})
	assert.Error(t, err)
}

func TestHandshakeResponse41Build(t *testing.T) {
	t.Parallel()
	resp := HandshakeResponse41{
		ClientFlags:  flags.Default | flags.ClientConnectWithDB,
		Charset:      0x21,
		Username:     "root",
		AuthResponse: []byte{1, 2, 3},
		Database:     "test",
		AuthPluginName: AuthPluginMysqlNativePassword,
	}
	buf := resp.Build()
	assert.Contains(t, string(buf), "root")
	assert.Contains(t, string(buf), "test")
}

func TestParseOKPacket(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = append(buf, 0x00)
	buf = codec.LengthEncodedInteger(buf, 2)
	buf = codec.LengthEncodedInteger(buf, 42)
	buf = codec.WriteUint16(buf, uint16(ServerStatusAutocommit))
	buf = codec.WriteUint16(buf, 0)

	ok, err := ParseOK(buf, flags.ClientProtocol41)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ok.AffectedRows)
	assert.Equal(t, uint64(42), ok.LastInsertID)
}

func TestParseEOFAndDeprecatedOK(t *testing.T) {
	t.Parallel()
	classic := []byte{0xFE, 0x00, 0x00, 0x02, 0x00}
	e, err := ParseEOFOrOK(classic, flags.Default&^flags.ClientDeprecateEOF)
	require.NoError(t, err)
	assert.Equal(t, ServerStatusAutocommit, e.Status)
	assert.True(t, IsTerminator(classic, flags.Default&^flags.ClientDeprecateEOF))

	var deprecated []byte
	deprecated = append(deprecated, 0xFE)
	deprecated = codec.LengthEncodedInteger(deprecated, 0)
	deprecated = codec.LengthEncodedInteger(deprecated, 0)
	deprecated = codec.WriteUint16(deprecated, uint16(ServerStatusAutocommit))
	deprecated = codec.WriteUint16(deprecated, 0)
	caps := flags.Default | flags.ClientDeprecateEOF
	e2, err := ParseEOFOrOK(deprecated, caps)
	require.NoError(t, err)
	assert.Equal(t, ServerStatusAutocommit, e2.Status)
	assert.True(t, IsTerminator(deprecated, caps))
}

func TestParseERRPacket(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = append(buf, 0xFF)
	buf = codec.WriteUint16(buf, 1146)
	buf = append(buf, '#')
	buf = append(buf, "42S02"...)
	buf = append(buf, "Table 'nope' doesn't exist"...)

	se, err := ParseERR(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(1146), se.Code)
	assert.Equal(t, "42S02", se.SQLState)
	assert.Equal(t, "Table 'nope' doesn't exist", se.Message)
}

func TestColumnDefinition41RoundTrip(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = codec.LengthEncodedString(buf, "def")
	buf = codec.LengthEncodedString(buf, "")
	buf = codec.LengthEncodedString(buf, "")
	buf = codec.LengthEncodedString(buf, "")
	buf = codec.LengthEncodedString(buf, "@@version")
	buf = codec.LengthEncodedString(buf, "@@version")
	buf = codec.LengthEncodedInteger(buf, 0x0C)
	buf = codec.WriteUint16(buf, 0x21)
	buf = codec.WriteUint32(buf, 256)
	buf = codec.WriteUint8(buf, uint8(FieldTypeVarString))
	buf = codec.WriteUint16(buf, 0)
	buf = codec.WriteUint8(buf, 0)

	col, err := ParseColumn41(buf)
	require.NoError(t, err)
	assert.Equal(t, "@@version", col.Name)
	assert.Equal(t, FieldTypeVarString, col.Type)
}

func TestParseTextRowWithNull(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = codec.LengthEncodedString(buf, "8.0.32")
	buf = append(buf, textNullMarker)

	row, err := ParseTextRow(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "8.0.32", row[0].String)
	assert.True(t, row[1].IsNull())
}

func TestParseBinaryRow(t *testing.T) {
	t.Parallel()
	cols := []Column{{Type: FieldTypeLong}, {Type: FieldTypeVarString}}
	var buf []byte
	buf = append(buf, 0x00)
	buf = append(buf, 0x00) // null bitmap, 1 byte covers 2 cols
	buf = codec.WriteUint32(buf, 7)
	buf = codec.LengthEncodedString(buf, "Joannis")

	row, err := ParseBinaryRow(buf, cols)
	require.NoError(t, err)
	i, err := row[0].AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), i)
	assert.Equal(t, "Joannis", row[1].String)
}

func TestParseBinaryRowNullBit(t *testing.T) {
	t.Parallel()
	cols := []Column{{Type: FieldTypeLong}, {Type: FieldTypeVarString}}
	var buf []byte
	buf = append(buf, 0x00)
	// bit 2 (column 0) set -> NULL
	buf = append(buf, 1<<2)
	buf = codec.LengthEncodedString(buf, "x")

	row, err := ParseBinaryRow(buf, cols)
	require.NoError(t, err)
	assert.True(t, row[0].IsNull())
	assert.Equal(t, "x", row[1].String)
}

func TestPrepareOKRoundTrip(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = append(buf, 0x00)
	buf = codec.WriteUint32(buf, 7)
	buf = codec.WriteUint16(buf, 2)
	buf = codec.WriteUint16(buf, 1)
	buf = append(buf, 0x00)
	buf = codec.WriteUint16(buf, 0)

	ok, err := ParsePrepareOK(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), ok.StatementID)
	assert.Equal(t, uint16(2), ok.NumColumns)
	assert.Equal(t, uint16(1), ok.NumParams)
}

func TestBuildComStmtExecute(t *testing.T) {
	t.Parallel()
	buf := BuildComStmtExecute(7, []BindParam{
		{Type: FieldTypeLongLong, Value: IntValue(7)},
	})
	assert.Equal(t, ComStmtExecute, buf[0])
}
