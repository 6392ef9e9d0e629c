package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Backend is the platform store for non-secret settings: UserDefaults on
// macOS, a YAML file elsewhere. Values cross the interface already typed as
// string, int or bool according to the key's spec.
type Backend interface {
	Lookup(key string, typ keyType) (val any, ok bool, err error)
	Store(key string, val any) error
	Delete(key string) error
}

// parseValue converts raw text into the Go type for typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return i, nil
	case kBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q", raw)
		}
		return b, nil
	default:
		return raw, nil
	}
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "int"
	case kBool:
		return "bool"
	default:
		return "string"
	}
}
