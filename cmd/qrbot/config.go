package main

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type profile struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("QRBOT_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".qrbot", "config.yaml")
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("QRBOT_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
