//go:build !darwin

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// secretsFilePath is a TOML file with one table per service, kept next to
// config.toml:
//
//	[smartfile]
//	answer_api_key = "..."
func secretsFilePath() string {
	return filepath.Join(filepath.Dir(configFilePath()), "secrets.toml")
}

func lookupSecret(service, account string) ([]byte, error) {
	path := secretsFilePath()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	var secrets map[string]map[string]string
	if err := toml.Unmarshal(raw, &secrets); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %s/%s in %s", service, account, path)
	}
	return []byte(val), nil
}
