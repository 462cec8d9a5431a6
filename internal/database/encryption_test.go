package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_EncryptDecrypt(t *testing.T) {
	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"simple text", "hello world"},
		{"empty string", ""},
		{"unicode text", "Schicht morgen 07:00 ✅"},
		{"phone number", "+15550001111"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tc.plaintext)
			require.NoError(t, err)

			if tc.plaintext == "" {
				assert.Equal(t, "", ciphertext)
				return
			}
			assert.NotEqual(t, tc.plaintext, ciphertext)

			decrypted, err := enc.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, decrypted)
		})
	}
}

func TestEncryptor_RandomVersusLookup(t *testing.T) {
	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	a, err := enc.Encrypt("+15550001111")
	require.NoError(t, err)
	b, err := enc.Encrypt("+15550001111")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	l1, err := enc.EncryptForLookup("+15550001111")
	require.NoError(t, err)
	l2, err := enc.EncryptForLookup("+15550001111")
	require.NoError(t, err)
	assert.Equal(t, l1, l2)

	plain, err := enc.Decrypt(l1)
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", plain)
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := newEncryptor("")
	require.NoError(t, err)

	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = enc.Decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestEncryptor_DecryptErrors(t *testing.T) {
	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64!")
	assert.Error(t, err)

	_, err = enc.Decrypt("c2hvcnQ=")
	assert.Error(t, err)

	other, err := newEncryptor(testSecret + "-other")
	require.NoError(t, err)
	sealed, err := other.Encrypt("secret")
	require.NoError(t, err)
	_, err = enc.Decrypt(sealed)
	assert.Error(t, err)
}
