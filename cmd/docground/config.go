package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the full docground configuration.
type Config struct {
	Listen        string `yaml:"listen"`
	DBPath        string `yaml:"db_path"`
	DataDir       string `yaml:"data_dir"`
	MaxFileMB     int    `yaml:"max_file_mb"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	LogLevel      string `yaml:"log_level"`
	MCPTransport  string `yaml:"mcp_transport"` // "" or "stdio"

	Pipeline PipelineConfig `yaml:"pipeline"`
}

// PipelineConfig exposes the structural heuristics.
type PipelineConfig struct {
	CaptionProximity    float64 `yaml:"caption_proximity"`
	ColumnGap           float64 `yaml:"column_gap"`
	ValidationThreshold float64 `yaml:"validation_threshold"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:        ":8090",
		DBPath:        "db/docground.db",
		DataDir:       "data",
		MaxFileMB:     50,
		MaxConcurrent: 4,
		LogLevel:      "info",
	}
}

// LoadConfig reads a YAML config file merged over DefaultConfig, then
// applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Listen = ":" + v
	}
	cfg.DBPath = env("DB_PATH", cfg.DBPath)
	cfg.DataDir = env("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = env("LOG_LEVEL", cfg.LogLevel)
	cfg.MCPTransport = env("MCP_TRANSPORT", cfg.MCPTransport)

	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("max_file_mb must be > 0")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be > 0")
	}
	switch c.MCPTransport {
	case "", "stdio":
	default:
		return fmt.Errorf("mcp_transport must be empty or \"stdio\"")
	}
	return nil
}
