package config

import (
	"fmt"
	"os"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ORACLE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "ORACLE_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ORACLE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "ORACLE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "state.cache_size", typ: kInt, env: "ORACLE_STATE_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.State.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.State.CacheSize },
	},
	{
		key: "pipeline.stage_timeout", typ: kString, env: "ORACLE_PIPELINE_STAGE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.StageTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.StageTimeout },
	},
	{
		key: "pipeline.store_retries", typ: kInt, env: "ORACLE_PIPELINE_STORE_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.StoreRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.StoreRetries },
	},
	{
		key: "content.path", typ: kString, env: "ORACLE_CONTENT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Content.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Content.Path },
	},
	{
		key: "content.watch", typ: kBool, env: "ORACLE_CONTENT_WATCH",
		apply:   func(cfg *Config, v any) { cfg.Content.Watch = v.(bool) },
		extract: func(cfg Config) any { return cfg.Content.Watch },
	},
	{
		key: "community.nats_url", typ: kString, env: "ORACLE_COMMUNITY_NATS_URL",
		apply:   func(cfg *Config, v any) { cfg.Community.NATSURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Community.NATSURL },
	},
	{
		key: "community.subject_prefix", typ: kString, env: "ORACLE_COMMUNITY_SUBJECT_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Community.SubjectPrefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Community.SubjectPrefix },
	},
	{
		key: "retention.run_days", typ: kInt, env: "ORACLE_RETENTION_RUN_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Retention.RunDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Retention.RunDays },
	},
	{
		key: "retention.schedule", typ: kString, env: "ORACLE_RETENTION_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Retention.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Retention.Schedule },
	},
	{
		key: "api.token", typ: kString, env: tokenEnv,
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		v, ok, err := b.Lookup(s.key, s.typ)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

// applyEnvOverrides applies ORACLE_* variables. A value that does not parse
// is reported and skipped so a typo never blocks startup.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: %v\n", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}
