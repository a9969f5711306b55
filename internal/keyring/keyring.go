// Package keyring keeps the signed-in user's token in the OS keychain.
package keyring

import (
	"errors"
	"fmt"
	"os"

	zkr "github.com/zalando/go-keyring"
)

const (
	serviceName = "muatool"
	accountName = "user-token"
)

// ErrNotFound is returned by Token when no token is stored.
var ErrNotFound = errors.New("keyring: no token stored")

// Token returns the stored user token.
func Token() (string, error) {
	tok, err := zkr.Get(serviceName, accountName)
	if errors.Is(err, zkr.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return tok, nil
}

// SetToken stores the user token.
func SetToken(token string) error {
	if token == "" {
		return errors.New("keyring: empty token")
	}
	if err := zkr.Set(serviceName, accountName, token); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// DeleteToken removes the stored token. A missing token is not an error.
func DeleteToken() error {
	if err := zkr.Delete(serviceName, accountName); err != nil && !errors.Is(err, zkr.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

// Available returns true if the OS keychain is functional.
// Returns false if MUATOOL_KEYRING_DISABLED=1 is set (opt-in for headless/CI).
// Otherwise probes the keychain with a test write/read/delete cycle.
func Available() bool {
	if os.Getenv("MUATOOL_KEYRING_DISABLED") == "1" {
		return false
	}
	const probeService, probeAccount = "muatool-keyring-probe", "probe"
	if err := zkr.Set(probeService, probeAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(probeService, probeAccount)
	return true
}
