package encoder

import (
	"github.com/faanross/simulacra_lsb/internal/scrypto"
	"github.com/faanross/simulacra_lsb/internal/spec"
)

// PrepareSecurePayload creates the container for embedding:
// [Salt(16)][Nonce(12)][EncryptedData][AuthTag(16)]
func (sse *SecureStegoEncoder) PrepareSecurePayload(message []byte, passphrase string) ([]byte, error) {
	salt, err := scrypto.NewSalt(sse.random)
	if err != nil {
		return nil, err
	}

	key := scrypto.DeriveKey(passphrase, salt)

	sealed, err := scrypto.SealWithReader(sse.random, message, key)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, spec.SALT_SIZE+len(sealed))
	payload = append(payload, salt[:]...)
	payload = append(payload, sealed...)

	sse.logger.Debug().
		Int("message_bytes", len(message)).
		Int("container_bytes", len(payload)).
		Str("key_fingerprint", key.Fingerprint()).
		Msg("message sealed")

	return payload, nil
}
