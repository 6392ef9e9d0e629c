package config

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	value string
	err   error
	set   map[string]string
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m.set[service+"/"+account]; ok {
		return v, nil
	}
	return m.value, m.err
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.set == nil {
		m.set = make(map[string]string)
	}
	m.set[service+"/"+account] = value
	return nil
}

// mapBackend is an in-memory Backend holding already-typed values.
type mapBackend struct {
	vals map[string]any
	err  error
}

func newMapBackend() *mapBackend {
	return &mapBackend{vals: map[string]any{}}
}

func (m *mapBackend) Lookup(key string, _ keyType) (any, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *mapBackend) Store(key string, val any) error { m.vals[key] = val; return nil }
func (m *mapBackend) Delete(key string) error       { delete(m.vals, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newMapBackend(), &mockKeychain{err: errors.New("none")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.MaxConns != 64 {
		t.Errorf("Server.MaxConns = %d, want 64", cfg.Server.MaxConns)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.State.CacheSize != 1024 {
		t.Errorf("State.CacheSize = %d, want 1024", cfg.State.CacheSize)
	}
	if cfg.Pipeline.Timeout() != 2*time.Second {
		t.Errorf("Pipeline.Timeout() = %v, want 2s", cfg.Pipeline.Timeout())
	}
	if cfg.Pipeline.StoreRetries != 2 {
		t.Errorf("Pipeline.StoreRetries = %d, want 2", cfg.Pipeline.StoreRetries)
	}
	if !cfg.Content.Watch {
		t.Error("Content.Watch = false, want true")
	}
	if cfg.Community.SubjectPrefix != "oracle.community" {
		t.Errorf("Community.SubjectPrefix = %q", cfg.Community.SubjectPrefix)
	}
	if cfg.Retention.RunDays != 90 || cfg.Retention.Schedule != "@daily" {
		t.Errorf("Retention = %+v", cfg.Retention)
	}
	if cfg.API.Token != "" {
		t.Errorf("API.Token = %q, want empty", cfg.API.Token)
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "oracle") {
		t.Errorf("Storage.DataDir = %q, want an oracle directory", cfg.Storage.DataDir)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.vals["server.port"] = 5000
	b.vals["log.level"] = "DEBUG"
	b.vals["pipeline.stage_timeout"] = "750ms"
	b.vals["content.watch"] = false
	b.vals["community.nats_url"] = "nats://localhost:4222"

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Pipeline.Timeout() != 750*time.Millisecond {
		t.Errorf("Pipeline.Timeout() = %v, want 750ms", cfg.Pipeline.Timeout())
	}
	if cfg.Content.Watch {
		t.Error("Content.Watch = true, want false")
	}
	if cfg.Community.NATSURL != "nats://localhost:4222" {
		t.Errorf("Community.NATSURL = %q", cfg.Community.NATSURL)
	}
}

func TestBackendErrorIsReturned(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.err = errors.New("corrupt")
	if _, err := loadWith(b, &mockKeychain{}); err == nil {
		t.Fatal("expected error from backend")
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.vals["server.port"] = 5000
	t.Setenv("ORACLE_SERVER_PORT", "6000")
	t.Setenv("ORACLE_CONTENT_PATH", "/etc/oracle/content.yaml")
	t.Setenv("ORACLE_API_TOKEN", "env-token")

	cfg, err := loadWith(b, &mockKeychain{value: "keychain-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Content.Path != "/etc/oracle/content.yaml" {
		t.Errorf("Content.Path = %q", cfg.Content.Path)
	}
	if cfg.API.Token != "env-token" {
		t.Errorf("API.Token = %q, want env-token", cfg.API.Token)
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORACLE_SERVER_PORT", "not-a-port")
	t.Setenv("ORACLE_CONTENT_WATCH", "maybe")

	cfg, err := loadWith(newMapBackend(), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if !cfg.Content.Watch {
		t.Error("Content.Watch = false, want default true")
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newMapBackend(), &mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.Token != "keychain-secret" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "keychain-secret")
	}
}

func TestEnsureAPIToken(t *testing.T) {
	clearEnv(t)
	kc := &mockKeychain{err: errors.New("not found")}

	if _, err := GetAPIToken(kc); !errors.Is(err, ErrNoToken) {
		t.Fatalf("GetAPIToken err = %v, want ErrNoToken", err)
	}

	tok, generated, err := EnsureAPIToken(kc)
	if err != nil {
		t.Fatalf("EnsureAPIToken: %v", err)
	}
	if !generated || tok == "" {
		t.Fatalf("EnsureAPIToken = %q, %v; want generated token", tok, generated)
	}

	again, generated, err := EnsureAPIToken(kc)
	if err != nil {
		t.Fatalf("EnsureAPIToken: %v", err)
	}
	if generated || again != tok {
		t.Errorf("second call = %q, %v; want stored %q", again, generated, tok)
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()
	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if b.vals["server.port"] != 4200 {
		t.Errorf("server.port = %v, want 4200", b.vals["server.port"])
	}
	if err := setKeyWith(b, "content.watch", "FALSE"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if b.vals["content.watch"] != false {
		t.Errorf("content.watch = %v, want false", b.vals["content.watch"])
	}

	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, "api.token", "x"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.API.Token = "super-secret"
	for _, k := range ShowAll(cfg) {
		if k.Key == "api.token" && k.Value != "********" {
			t.Errorf("api.token shown as %q", k.Value)
		}
	}
	if slices.Contains(ValidKeys(), "api.token") {
		t.Error("ValidKeys lists the secret api.token")
	}
}
