package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Answer   AnswerConfig
	Indexing IndexingConfig
	Search   SearchConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins string
	APIToken    string // optional bearer token for the HTTP API
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type AnswerConfig struct {
	Provider          string // "gemini" or "ollama"
	BaseURL           string
	Model             string
	LocalModel        string
	APIKey            string
	Timeout           string
	RequestsPerSecond float64
}

type IndexingConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	FileTimeout   string
	SkipUnchanged bool
	Watch         bool
}

type SearchConfig struct {
	Limit     int
	Threshold float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			CORSOrigins: "http://localhost:3000,file://",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "all-minilm",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Answer: AnswerConfig{
			Provider:          "gemini",
			BaseURL:           "https://generativelanguage.googleapis.com/v1beta",
			Model:             "gemini-1.5-flash",
			LocalModel:        "llama3.2",
			Timeout:           "30s",
			RequestsPerSecond: 1,
		},
		Indexing: IndexingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			FileTimeout:  "2m",
		},
		Search: SearchConfig{
			Limit:     10,
			Threshold: 0.3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Addr returns the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CORSOriginList splits the comma-separated allowed origins.
func (c Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.Server.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// AnswerTimeout parses Answer.Timeout, falling back to 30s.
func (c Config) AnswerTimeout() time.Duration {
	return parseDuration(c.Answer.Timeout, 30*time.Second)
}

// FileTimeout parses Indexing.FileTimeout, falling back to 2m. "0" disables
// the timeout.
func (c Config) FileTimeout() time.Duration {
	return parseDuration(c.Indexing.FileTimeout, 2*time.Minute)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// Load reads configuration from the TOML file, a .env file in the working
// directory, environment variables, and the platform secret store.
//
// The file lives at $XDG_CONFIG_HOME/smartfile/config.toml (or
// ~/.config/smartfile/config.toml). Environment variables (SMARTFILE_*)
// override file values. Secret keys left empty fall back to the platform
// secret store, and the answer API key also to GEMINI_API_KEY; a missing
// secret is not an error.
func Load() (Config, error) {
	// Variables already set in the environment win over .env entries.
	_ = godotenv.Load()
	return loadFromPath(configFilePath(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadFromPath(path string, kc keychain) (Config, error) {
	b, err := openFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b, kc)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Answer.APIKey == "" {
		cfg.Answer.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	applySecrets(&cfg, kc)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Indexing.ChunkSize <= 0 {
		return fmt.Errorf("invalid config: indexing.chunk_size must be positive")
	}
	if c.Indexing.ChunkOverlap < 0 {
		return fmt.Errorf("invalid config: indexing.chunk_overlap must not be negative")
	}
	switch c.Answer.Provider {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("invalid config: answer.provider %q (want gemini or ollama)", c.Answer.Provider)
	}
	return nil
}

// keychainReader reads from the platform secret store: the login keychain on
// macOS, secrets.toml elsewhere.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := lookupSecret(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
