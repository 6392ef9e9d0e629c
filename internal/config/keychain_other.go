//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// secrets are kept as {"service": {"account": "value"}} in a 0600 file
// under the data directory.
type secretsFile map[string]map[string]string

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), appName, "secrets.json")
}

func readSecrets() (secretsFile, error) {
	data, err := os.ReadFile(secretsFilePath())
	if errors.Is(err, os.ErrNotExist) {
		return secretsFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var s secretsFile
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if s == nil {
		s = secretsFile{}
	}
	return s, nil
}

// platformKeychain keeps secrets in the secrets file.
type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	s, err := readSecrets()
	if err != nil {
		return "", err
	}
	val, ok := s[service][account]
	if !ok {
		return "", fmt.Errorf("secret %s/%s not found", service, account)
	}
	return strings.TrimSpace(val), nil
}

func (platformKeychain) Set(service, account, value string) error {
	s, err := readSecrets()
	if err != nil {
		return err
	}
	if s[service] == nil {
		s[service] = make(map[string]string)
	}
	s[service][account] = value

	p := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}
