package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	tokenAccount = "api_token"
	tokenEnv     = "ORACLE_API_TOKEN"
)

// Keychain reads and writes secrets in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: the macOS Keychain on
// darwin, a 0600 secrets file elsewhere.
func NewKeychain() Keychain { return platformKeychain{} }

// ErrNoToken is returned when no API token is configured anywhere.
var ErrNoToken = errors.New("no API token configured")

// GetAPIToken returns the API token from ORACLE_API_TOKEN or the keychain.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := strings.TrimSpace(os.Getenv(tokenEnv)); tok != "" {
		return tok, nil
	}
	tok, err := kc.Get(appName, tokenAccount)
	if err != nil || tok == "" {
		return "", fmt.Errorf("%w: set %s or run `oracle serve` once to generate one", ErrNoToken, tokenEnv)
	}
	return tok, nil
}

// EnsureAPIToken returns the configured token, generating and storing a new
// one when none exists. The second return reports whether it was generated.
func EnsureAPIToken(kc Keychain) (string, bool, error) {
	if tok, err := GetAPIToken(kc); err == nil {
		return tok, false, nil
	}
	tok := uuid.NewString()
	if err := kc.Set(appName, tokenAccount, tok); err != nil {
		return "", false, fmt.Errorf("storing generated API token: %w", err)
	}
	return tok, true, nil
}
