package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var secretsExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// LoadWithSecrets is Load plus an optional secrets file, merged above the
// config file and below the environment. The second result holds only the
// values read from the secrets file, for Redacted; it is nil without one.
//
// The secrets file is, in order: <PREFIX>_SECRETS_FILE, secrets.<ext> next
// to the config file, secrets.{yaml,yml,json,toml} in the working directory.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	v, err := l.newViper()
	if err != nil {
		return nil, nil, err
	}

	path, err := l.discoverSecretsFile()
	if err != nil {
		return nil, nil, err
	}

	var secrets *Config
	if path != "" {
		settings, parsed, err := readSecrets(path)
		if err != nil {
			return nil, nil, err
		}
		if err := v.MergeConfigMap(settings); err != nil {
			return nil, nil, fmt.Errorf("failed to merge secrets: %w", err)
		}
		secrets = parsed
	}

	cfg, err := l.finish(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, secrets, nil
}

func readSecrets(path string) (map[string]any, *Config, error) {
	sv := viper.New()
	sv.SetConfigFile(path)
	if err := sv.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}
	var parsed Config
	if err := sv.Unmarshal(&parsed); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", path, err)
	}
	return sv.AllSettings(), &parsed, nil
}

// discoverSecretsFile returns "" when no secrets file exists. An explicit
// <PREFIX>_SECRETS_FILE that is empty or not a regular file is an error.
func (l *ViperLoader) discoverSecretsFile() (string, error) {
	envName := l.prefixedEnv("SECRETS_FILE")
	if raw, ok := os.LookupEnv(envName); ok {
		path := strings.TrimSpace(raw)
		if path == "" {
			return "", fmt.Errorf("%s is set but empty", envName)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", envName, path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", envName, path)
		}
		return path, nil
	}

	candidates := make([]string, 0, len(secretsExtensions)+1)
	if l.configFile != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(l.configFile), "secrets"+filepath.Ext(l.configFile)))
	}
	for _, ext := range secretsExtensions {
		candidates = append(candidates, "secrets"+ext)
	}
	for _, path := range candidates {
		if isFile(path) {
			return path, nil
		}
	}
	return "", nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
