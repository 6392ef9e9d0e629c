package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every key with its effective value. Secrets are masked.
func ShowAll(cfg Config) []KeyInfo {
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		v := fmt.Sprint(s.extract(cfg))
		if s.secret && v != "" {
			v = "********"
		}
		out = append(out, KeyInfo{Key: s.key, EnvVar: s.env, Value: v})
	}
	return out
}

// SetKey parses value for key and writes it to the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b Backend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key %q (valid: %v)", key, ValidKeys())
	}
	if s.secret {
		return fmt.Errorf("%s is a secret; set %s instead", key, s.env)
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return b.Store(key, v)
}

// ValidKeys returns the keys `oracle config set` accepts.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
