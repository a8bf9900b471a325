package scrypto

import (
	"crypto/sha256"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/spec"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/term"
	"os"
)

// DeriveKey generates the encryption key from a passphrase using PBKDF2-SHA256.
// The same (passphrase, salt) pair always yields the same key.
func DeriveKey(passphrase string, salt Salt) Key {
	var key Key
	copy(key[:], pbkdf2.Key([]byte(passphrase), salt[:], spec.PBKDF2_ITERS, spec.KEY_SIZE, sha256.New))
	return key
}

// GetSecurePassword prompts for a password with hidden input.
// minLen of 0 disables the length check.
func GetSecurePassword(prompt string, minLen int) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // New line after password

	if err != nil {
		return "", fmt.Errorf("password read failed: %w", err)
	}

	if len(password) < minLen {
		return "", fmt.Errorf("password must be at least %d characters", minLen)
	}

	return string(password), nil
}
