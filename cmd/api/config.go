package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// apiConfig is the process-level configuration. Values load from an optional
// YAML file, with environment variables taking precedence so container
// deployments never need the file.
type apiConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
	JWTSecret   string `yaml:"jwt_secret"`
	// Oracle rate as settlement units per reference unit, expressed as a
	// rational so the conversion stays exact.
	OracleRateNum int64 `yaml:"oracle_rate_num"`
	OracleRateDen int64 `yaml:"oracle_rate_den"`
}

func loadConfig(path string) (apiConfig, error) {
	cfg := apiConfig{
		ListenAddr:    ":8080",
		OracleRateNum: 1,
		OracleRateDen: 1,
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return apiConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return apiConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if cfg.DatabaseURL == "" {
		return apiConfig{}, fmt.Errorf("database_url is required (config file or DATABASE_URL)")
	}
	if cfg.JWTSecret == "" {
		return apiConfig{}, fmt.Errorf("jwt_secret is required (config file or JWT_SECRET)")
	}
	return cfg, nil
}
