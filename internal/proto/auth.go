package proto

import (
	"crypto/sha1"

	"github.com/meoying/mysqlcore/errs"
)

// AuthPluginMysqlNativePassword and AuthPluginCachingSHA2Password are the
// only two auth_plugin_name values this core recognizes during the
// handshake, per spec.md §1's non-goals.
const (
	AuthPluginMysqlNativePassword = "mysql_native_password"
	AuthPluginCachingSHA2Password = "caching_sha2_password"
)

// NativePasswordAuthResponse computes the mysql_native_password auth
// response:
//
//	SHA1(password) XOR SHA1( salt || SHA1(SHA1(password)) )
//
// An empty password yields a zero-length response, matching the server's
// own special-case for anonymous auth.
func NativePasswordAuthResponse(password string, salt [20]byte) []byte {
	if password == "" {
		return nil
	}
	pwHash := sha1.Sum([]byte(password))
	pwHashHash := sha1.Sum(pwHash[:])

	h := sha1.New()
	h.Write(salt[:])
	h.Write(pwHashHash[:])
	saltedHash := h.Sum(nil)

	out := make([]byte, len(pwHash))
	for i := range pwHash {
		out[i] = pwHash[i] ^ saltedHash[i]
	}
	return out
}

// cachingSHA2FullAuthRequest is the byte the server sends mid-auth to
// request the plaintext-over-a-secure-channel / RSA-encrypted exchange
// that this core does not implement.
const cachingSHA2FullAuthRequest = 0x04

// cachingSHA2FastAuthSuccess is the byte the server sends when the fast
// (hash-is-cached) path succeeds; an OK packet follows immediately and no
// further action is required of the client.
const cachingSHA2FastAuthSuccess = 0x03

// InterpretCachingSHA2Response inspects an AuthMoreData/AuthSwitchRequest
// style single-byte payload from a caching_sha2_password exchange. It
// returns nil when the fast path succeeded (the caller should proceed to
// read the OK packet) and a typed Unsupported error when the server has
// requested full authentication.
func InterpretCachingSHA2Response(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	switch payload[0] {
	case cachingSHA2FastAuthSuccess:
		return nil
	case cachingSHA2FullAuthRequest:
		return errs.NewUnsupported("caching_sha2_password full authentication (send the password in cleartext over TLS, or configure the server for mysql_native_password)")
	default:
		return nil
	}
}
