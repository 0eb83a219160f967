package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const secretService = "smartfile"

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
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
		key: "server.host", typ: kString, env: "SMARTFILE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SMARTFILE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origins", typ: kString, env: "SMARTFILE_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "server.api_token", typ: kString, env: "SMARTFILE_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SMARTFILE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SMARTFILE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "SMARTFILE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "answer.provider", typ: kString, env: "SMARTFILE_ANSWER_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Answer.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Answer.Provider },
	},
	{
		key: "answer.base_url", typ: kString, env: "SMARTFILE_ANSWER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Answer.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Answer.BaseURL },
	},
	{
		key: "answer.model", typ: kString, env: "SMARTFILE_ANSWER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Answer.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Answer.Model },
	},
	{
		key: "answer.local_model", typ: kString, env: "SMARTFILE_ANSWER_LOCAL_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Answer.LocalModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Answer.LocalModel },
	},
	{
		key: "answer.api_key", typ: kString, env: "SMARTFILE_ANSWER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Answer.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Answer.APIKey },
	},
	{
		key: "answer.timeout", typ: kString, env: "SMARTFILE_ANSWER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Answer.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Answer.Timeout },
	},
	{
		key: "answer.requests_per_second", typ: kFloat, env: "SMARTFILE_ANSWER_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Answer.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Answer.RequestsPerSecond },
	},
	{
		key: "indexing.chunk_size", typ: kInt, env: "SMARTFILE_INDEXING_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Indexing.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Indexing.ChunkSize },
	},
	{
		key: "indexing.chunk_overlap", typ: kInt, env: "SMARTFILE_INDEXING_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Indexing.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Indexing.ChunkOverlap },
	},
	{
		key: "indexing.file_timeout", typ: kString, env: "SMARTFILE_INDEXING_FILE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Indexing.FileTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Indexing.FileTimeout },
	},
	{
		key: "indexing.skip_unchanged", typ: kBool, env: "SMARTFILE_INDEXING_SKIP_UNCHANGED",
		apply:   func(cfg *Config, v any) { cfg.Indexing.SkipUnchanged = v.(bool) },
		extract: func(cfg Config) any { return cfg.Indexing.SkipUnchanged },
	},
	{
		key: "indexing.watch", typ: kBool, env: "SMARTFILE_INDEXING_WATCH",
		apply:   func(cfg *Config, v any) { cfg.Indexing.Watch = v.(bool) },
		extract: func(cfg Config) any { return cfg.Indexing.Watch },
	},
	{
		key: "search.limit", typ: kInt, env: "SMARTFILE_SEARCH_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Search.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.Limit },
	},
	{
		key: "search.threshold", typ: kFloat, env: "SMARTFILE_SEARCH_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Search.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.Threshold },
	},
	{
		key: "log.level", typ: kString, env: "SMARTFILE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// secretAccount names the secret store entry for a key: "answer.api_key" is
// stored as "answer_api_key".
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// applySecrets fills secret keys that are still empty from the secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := kc.Get(secretService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
