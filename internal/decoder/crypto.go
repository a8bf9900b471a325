package decoder

import (
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/scrypto"
	"github.com/faanross/simulacra_lsb/internal/spec"
	"unicode/utf8"
)

// ExtractedMessage contains decrypted message and metadata
type ExtractedMessage struct {
	Message        string
	PayloadSize    int    // salt + nonce + ciphertext + tag
	EncryptedSize  int    // ciphertext + tag
	DecryptedSize  int    // plaintext bytes
	KeyFingerprint string // first 4 bytes of the derived key
}

// DecryptPayload splits off the salt, derives the key and opens the sealed bundle
func (ssd *SecureStegoDecoder) DecryptPayload(payload []byte, passphrase string) (*ExtractedMessage, error) {
	if len(payload) < spec.SALT_SIZE {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d for the salt",
			ErrTruncatedPayload, len(payload), spec.SALT_SIZE)
	}

	salt, err := scrypto.SaltFromBytes(payload[:spec.SALT_SIZE])
	if err != nil {
		return nil, err
	}
	sealed := payload[spec.SALT_SIZE:]

	key := scrypto.DeriveKey(passphrase, salt)

	plaintext, err := scrypto.Open(sealed, key)
	if err != nil {
		ssd.logger.Debug().Err(err).Str("key_fingerprint", key.Fingerprint()).Msg("open failed")
		return nil, err
	}

	if !utf8.Valid(plaintext) {
		return nil, ErrInvalidText
	}

	return &ExtractedMessage{
		Message:        string(plaintext),
		PayloadSize:    len(payload),
		EncryptedSize:  len(sealed) - spec.NONCE_SIZE,
		DecryptedSize:  len(plaintext),
		KeyFingerprint: key.Fingerprint(),
	}, nil
}
