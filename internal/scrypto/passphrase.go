package scrypto

import (
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	"io/fs"
	"os"
)

const (
	PASSPHRASE_ENV = "SIMULACRA_PASSPHRASE"
	MIN_PASSPHRASE = 8
)

var ErrPassphraseMismatch = errors.New("passphrases do not match")

// prompt is swapped out in tests
var prompt = GetSecurePassword

// LoadEnv loads a .env file into the process environment.
// A missing file is not an error and variables already set are kept.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ResolvePassphrase returns flagValue if set, then $SIMULACRA_PASSPHRASE,
// then asks on the terminal. confirm asks twice when prompting.
func ResolvePassphrase(flagValue string, minLen int, confirm bool) (string, error) {
	passphrase := flagValue
	if passphrase == "" {
		passphrase = os.Getenv(PASSPHRASE_ENV)
	}

	if passphrase != "" {
		if len(passphrase) < minLen {
			return "", fmt.Errorf("password must be at least %d characters", minLen)
		}
		return passphrase, nil
	}

	passphrase, err := prompt("\n🔑 Enter password: ", minLen)
	if err != nil {
		return "", err
	}
	if !confirm {
		return passphrase, nil
	}

	again, err := prompt("🔑 Confirm password: ", minLen)
	if err != nil {
		return "", err
	}
	if again != passphrase {
		return "", ErrPassphraseMismatch
	}
	return passphrase, nil
}
