package scrypto

import (
	"bytes"
	"errors"
	"github.com/faanross/simulacra_lsb/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func testKey(t *testing.T, passphrase string) Key {
	t.Helper()
	salt, err := SaltFromBytes(bytes.Repeat([]byte{0x42}, spec.SALT_SIZE))
	require.NoError(t, err)
	return DeriveKey(passphrase, salt)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt, err := SaltFromBytes(bytes.Repeat([]byte{1}, spec.SALT_SIZE))
	require.NoError(t, err)

	k1 := DeriveKey("correct horse", salt)
	k2 := DeriveKey("correct horse", salt)
	assert.Equal(t, k1, k2)
}

func TestDeriveKey_SaltChangesKey(t *testing.T) {
	s1, err := SaltFromBytes(bytes.Repeat([]byte{1}, spec.SALT_SIZE))
	require.NoError(t, err)
	s2, err := SaltFromBytes(bytes.Repeat([]byte{2}, spec.SALT_SIZE))
	require.NoError(t, err)

	assert.NotEqual(t, DeriveKey("same", s1), DeriveKey("same", s2))
}

func TestDeriveKey_EmptyPassphrase(t *testing.T) {
	var salt Salt
	key := DeriveKey("", salt)
	assert.NotEqual(t, Key{}, key)
	assert.Len(t, key.Fingerprint(), 8)
}

func TestSaltFromBytes_Length(t *testing.T) {
	tests := []struct {
		name string
		size int
		ok   bool
	}{
		{"empty", 0, false},
		{"nonce sized", spec.NONCE_SIZE, false},
		{"exact", spec.SALT_SIZE, true},
		{"too long", spec.SALT_SIZE + 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SaltFromBytes(make([]byte, tt.size))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidLength)
			}
		})
	}
}

func TestNonceFromBytes_RejectsSaltSizedInput(t *testing.T) {
	_, err := NonceFromBytes(make([]byte, spec.SALT_SIZE))
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"binary", []byte{0x00, 0xff, 0x7f, 0x80}},
		{"large", make([]byte, 10000)},
	}

	key := testKey(t, "pass")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Seal(tt.plaintext, key)
			require.NoError(t, err)
			assert.Len(t, sealed, spec.NONCE_SIZE+len(tt.plaintext)+spec.TAG_SIZE)

			opened, err := Open(sealed, key)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.plaintext, opened))
		})
	}
}

func TestSeal_FreshNonce(t *testing.T) {
	key := testKey(t, "pass")

	a, err := Seal([]byte("same"), key)
	require.NoError(t, err)
	b, err := Seal([]byte("same"), key)
	require.NoError(t, err)

	assert.NotEqual(t, a[:spec.NONCE_SIZE], b[:spec.NONCE_SIZE])
}

func TestSealWithReader_EntropyFailure(t *testing.T) {
	_, err := SealWithReader(failingReader{}, []byte("x"), testKey(t, "pass"))
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestOpen_TooShort(t *testing.T) {
	key := testKey(t, "pass")

	for _, n := range []int{0, spec.NONCE_SIZE, spec.MIN_SEALED_SIZE - 1} {
		_, err := Open(make([]byte, n), key)
		assert.ErrorIs(t, err, ErrMalformedContainer, "length %d", n)
	}
}

func TestOpen_WrongKeyAndTamperingLookTheSame(t *testing.T) {
	key := testKey(t, "right")
	sealed, err := Seal([]byte("sensitive data"), key)
	require.NoError(t, err)

	_, wrongKeyErr := Open(sealed, testKey(t, "wrong"))
	assert.ErrorIs(t, wrongKeyErr, ErrAuthenticationFailed)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)/2] ^= 0xff
	_, tamperErr := Open(tampered, key)
	assert.ErrorIs(t, tamperErr, ErrAuthenticationFailed)

	assert.Equal(t, wrongKeyErr.Error(), tamperErr.Error())
}
