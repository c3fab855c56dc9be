package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents vitrina.toml plus environment overrides.
type Config struct {
	DataDir    string `toml:"data_dir"`
	ListenAddr string `toml:"listen_addr"`

	Telegram TelegramConfig `toml:"telegram"`
}

// TelegramConfig configures the optional Telegram notification channel for
// business owners. An empty token disables it.
type TelegramConfig struct {
	Token string `toml:"token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8787",
	}
}

// Load reads config from the given path, overlaying environment variables.
// A missing file is not an error; env and defaults still apply. A .env file
// in the working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("VITRINA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VITRINA_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VITRINA_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
