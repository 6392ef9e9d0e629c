package config

import (
	"strings"
	"time"
)

const appName = "oracle"

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	State     StateConfig
	Pipeline  PipelineConfig
	Content   ContentConfig
	Community CommunityConfig
	Retention RetentionConfig
	API       APIConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type StateConfig struct {
	CacheSize int
}

type PipelineConfig struct {
	StageTimeout string
	StoreRetries int
}

// Timeout parses StageTimeout, falling back to 2s when it is unset or
// malformed.
func (p PipelineConfig) Timeout() time.Duration {
	if d, err := time.ParseDuration(p.StageTimeout); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

type ContentConfig struct {
	Path  string
	Watch bool
}

type CommunityConfig struct {
	NATSURL       string
	SubjectPrefix string
}

type RetentionConfig struct {
	RunDays  int
	Schedule string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		State: StateConfig{
			CacheSize: 1024,
		},
		Pipeline: PipelineConfig{
			StageTimeout: "2s",
			StoreRetries: 2,
		},
		Content: ContentConfig{
			Watch: true,
		},
		Community: CommunityConfig{
			SubjectPrefix: "oracle.community",
		},
		Retention: RetentionConfig{
			RunDays:  90,
			Schedule: "@daily",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.oracle.app) and the API
// token falls back to the macOS Keychain.
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/oracle/config.yaml
// and the token falls back to a secrets file in the data directory.
//
// Environment variables (ORACLE_*) override backend values on all platforms.
// A missing API token is not an error here; the server generates one on
// first start (see EnsureAPIToken).
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b Backend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.Token == "" && kc != nil {
		if tok, err := kc.Get(appName, tokenAccount); err == nil && tok != "" {
			cfg.API.Token = tok
		}
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	return cfg, nil
}
