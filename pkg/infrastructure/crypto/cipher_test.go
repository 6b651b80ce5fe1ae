package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cipher, err := NewTokenCipher(testKey())
	require.NoError(t, err)

	for _, plaintext := range []string{"access-token-value", "", "refresh with spaces and ütf8"} {
		sealed, err := cipher.EncryptString(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)

		opened, err := cipher.DecryptString(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	cipher, err := NewTokenCipher(testKey())
	require.NoError(t, err)

	a, err := cipher.EncryptString("same plaintext")
	require.NoError(t, err)
	b, err := cipher.EncryptString("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTampering(t *testing.T) {
	cipher, err := NewTokenCipher(testKey())
	require.NoError(t, err)

	sealed, err := cipher.EncryptString("token")
	require.NoError(t, err)

	tampered := strings.ToUpper(sealed)
	if tampered == sealed {
		t.Skip("ciphertext has no lowercase characters to flip")
	}
	_, err = cipher.DecryptString(tampered)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	cipher, err := NewTokenCipher(testKey())
	require.NoError(t, err)

	_, err = cipher.DecryptString("not base64 at all!!!")
	assert.Error(t, err)
	_, err = cipher.DecryptString("")
	assert.Error(t, err)
}

func TestNewTokenCipherRejectsBadKey(t *testing.T) {
	_, err := NewTokenCipher([]byte("too short"))
	assert.Error(t, err)
}

func TestNewTokenCipherFromBase64(t *testing.T) {
	cipher, err := NewTokenCipherFromBase64("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	require.NoError(t, err)

	sealed, err := cipher.EncryptString("x")
	require.NoError(t, err)
	opened, err := cipher.DecryptString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "x", opened)

	_, err = NewTokenCipherFromBase64("%%%not-base64%%%")
	assert.Error(t, err)
}
