// Package keyring stores small secrets in the OS keychain.
package keyring

import (
	"errors"
	"fmt"
	"os"

	zkr "github.com/zalando/go-keyring"
)

const serviceName = "bingus"

// ErrNotFound is returned by Get when the account holds no secret.
var ErrNotFound = zkr.ErrNotFound

// Get retrieves the secret stored under account.
func Get(account string) (string, error) {
	v, err := zkr.Get(serviceName, account)
	if err != nil {
		if errors.Is(err, zkr.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return v, nil
}

// Set stores value under account, replacing any previous secret.
func Set(account, value string) error {
	if err := zkr.Set(serviceName, account, value); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// Delete removes the secret stored under account. A missing secret is not an error.
func Delete(account string) error {
	if err := zkr.Delete(serviceName, account); err != nil && !errors.Is(err, zkr.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

// Available returns true if the OS keychain is functional.
// Returns false if BINGUS_KEYRING_DISABLED=1 is set (opt-in for headless/CI/Docker).
// Otherwise probes the keychain with a test write/read/delete cycle.
func Available() bool {
	if os.Getenv("BINGUS_KEYRING_DISABLED") == "1" {
		return false
	}
	testService := "bingus-keyring-probe"
	testAccount := "probe"
	if err := zkr.Set(testService, testAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(testService, testAccount)
	return true
}
