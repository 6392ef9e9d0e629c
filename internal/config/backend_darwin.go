//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.oracle.app"

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", appName)
	}
	return appName + "-data"
}

// defaultsBackend keeps settings in UserDefaults through the `defaults`
// tool. Keys are stored flat under their dotted names.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() Backend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b *defaultsBackend) Lookup(key string, typ keyType) (any, bool, error) {
	out, err := b.run("read", b.domain, key)
	if err != nil {
		// exit status 1: the key or the whole domain does not exist
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("defaults read %s: %w (%s)", key, err, out)
	}
	// defaults prints booleans as 1/0.
	if typ == kBool && (out == "1" || out == "0") {
		return out == "1", true, nil
	}
	v, err := parseValue(typ, out)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", key, err)
	}
	return v, true, nil
}

func (b *defaultsBackend) Store(key string, val any) error {
	var args []string
	switch v := val.(type) {
	case int:
		args = []string{"-int", strconv.Itoa(v)}
	case bool:
		args = []string{"-bool", strconv.FormatBool(v)}
	case string:
		args = []string{"-string", v}
	default:
		return fmt.Errorf("unsupported value type %T for %s", val, key)
	}
	if out, err := b.run(append([]string{"write", b.domain, key}, args...)...); err != nil {
		return fmt.Errorf("defaults write %s: %w (%s)", key, err, out)
	}
	return nil
}

func (b *defaultsBackend) Delete(key string) error {
	if out, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w (%s)", key, err, out)
	}
	return nil
}
