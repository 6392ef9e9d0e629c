//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), appName)
}

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(append([]string{home}, fallback...)...)
	}
	return "."
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), appName, "config.yaml")
}

// viperBackend stores config as nested YAML in an XDG-compatible path.
// Dotted keys map to nested sections (server.port → server: {port: ...}).
type viperBackend struct {
	path string
	v    *viper.Viper
}

func newPlatformBackend() Backend {
	return newViperBackend(configFilePath())
}

func newViperBackend(path string) *viperBackend {
	b := &viperBackend{path: path, v: viper.New()}
	b.v.SetConfigFile(path)
	b.v.SetConfigType("yaml")
	if err := b.v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
		}
	}
	return b
}

func (b *viperBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return b.v.WriteConfigAs(b.path)
}

func (b *viperBackend) Lookup(key string, typ keyType) (any, bool, error) {
	if !b.v.IsSet(key) {
		return nil, false, nil
	}
	raw := b.v.Get(key)
	switch typ {
	case kString:
		return b.v.GetString(key), true, nil
	case kInt:
		i, err := yamlInt(raw)
		if err != nil {
			return nil, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	case kBool:
		if v, ok := raw.(bool); ok {
			return v, true, nil
		}
		if s, ok := raw.(string); ok {
			v, err := parseValue(kBool, s)
			if err != nil {
				return nil, true, fmt.Errorf("%s: %w", key, err)
			}
			return v, true, nil
		}
	}
	return nil, true, fmt.Errorf("%s: %T is not a %s", key, raw, typ)
}

// yamlInt accepts the numeric shapes a YAML decoder can produce for an
// integer, plus quoted digits.
func yamlInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		if v > math.MaxInt {
			return 0, fmt.Errorf("%d is out of range", v)
		}
		return int(v), nil
	case float64:
		if v < math.MinInt || v > math.MaxInt || v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		i, err := parseValue(kInt, v)
		if err != nil {
			return 0, err
		}
		return i.(int), nil
	default:
		return 0, fmt.Errorf("%T is not an int", raw)
	}
}

func (b *viperBackend) Store(key string, val any) error {
	b.v.Set(key, val)
	return b.save()
}

// Delete rebuilds the settings without key; viper has no unset.
func (b *viperBackend) Delete(key string) error {
	settings := b.v.AllSettings()
	deleteNested(settings, strings.Split(key, "."))

	fresh := viper.New()
	fresh.SetConfigFile(b.path)
	fresh.SetConfigType("yaml")
	if err := fresh.MergeConfigMap(settings); err != nil {
		return fmt.Errorf("rebuilding config: %w", err)
	}
	b.v = fresh
	return b.save()
}

func deleteNested(m map[string]any, path []string) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	if child, ok := m[path[0]].(map[string]any); ok {
		deleteNested(child, path[1:])
		if len(child) == 0 {
			delete(m, path[0])
		}
	}
}
