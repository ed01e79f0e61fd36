package proto

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNativePasswordAuthResponseEmptyPassword(t *testing.T) {
	t.Parallel()
	var salt [20]byte
	copy(salt[:], "01234567890123456789")
	assert.Empty(t, NativePasswordAuthResponse("", salt))
}

func TestNativePasswordAuthResponseMatchesDefinition(t *testing.T) {
	t.Parallel()
	var salt [20]byte
	copy(salt[:], "abcdefghij0123456789")

	got := NativePasswordAuthResponse("secret", salt)
	require := assert.New(t)
	require.Len(got, 20)

	// Independently recompute SHA1(password) XOR SHA1(salt||SHA1(SHA1(password)))
	// using only crypto/sha1 directly, per spec.md §4.3.
	stage1 := sha1.Sum([]byte("secret"))
	stage2 := sha1.Sum(stage1[:])
	h := sha1.New()
	h.Write(salt[:])
	h.Write(stage2[:])
	mixed := h.Sum(nil)

	want := make([]byte, 20)
	for i := range want {
		want[i] = stage1[i] ^ mixed[i]
	}
	require.Equal(want, got)
}

func TestInterpretCachingSHA2Response(t *testing.T) {
	t.Parallel()
	assert.NoError(t, InterpretCachingSHA2Response([]byte{cachingSHA2FastAuthSuccess}))
	err := InterpretCachingSHA2Response([]byte{cachingSHA2FullAuthRequest})
	assert.Error(t, err)
}
