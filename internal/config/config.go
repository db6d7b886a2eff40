package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for the replay tool
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Storage StorageConfig `yaml:"storage"`
	Replay  ReplayConfig  `yaml:"replay"`
	Tables  []TableConfig `yaml:"tables"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// NodeConfig identifies the node
type NodeConfig struct {
	NodeID string `yaml:"node_id"`
}

// StorageConfig holds storage paths
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	CommitLogDir string `yaml:"commit_log_dir"`
}

// ReplayConfig holds replay execution configuration
type ReplayConfig struct {
	ShardCount  int           `yaml:"shard_count"`
	QueueSize   int           `yaml:"queue_size"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// TableConfig declares one live column family for the tool to replay into
type TableConfig struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name"`
	SchemaVersion string         `yaml:"schema_version"`
	Columns       []ColumnConfig `yaml:"columns"`
}

// ColumnConfig declares one column of a table
type ColumnConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Node.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Node.NodeID = host
		} else {
			cfg.Node.NodeID = "tessera"
		}
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/tessera"
	}
	if cfg.Storage.CommitLogDir == "" {
		cfg.Storage.CommitLogDir = cfg.Storage.DataDir + "/commitlog"
	}

	if cfg.Replay.ShardCount == 0 {
		cfg.Replay.ShardCount = runtime.NumCPU()
	}
	if cfg.Replay.QueueSize == 0 {
		cfg.Replay.QueueSize = 128
	}
	if cfg.Replay.StopTimeout == 0 {
		cfg.Replay.StopTimeout = 30 * time.Second
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9104
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Replay.ShardCount < 1 {
		return fmt.Errorf("replay.shard_count must be at least 1")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	for i, t := range c.Tables {
		if t.ID == "" {
			return fmt.Errorf("tables[%d].id is required", i)
		}
		if t.SchemaVersion == "" {
			return fmt.Errorf("tables[%d].schema_version is required", i)
		}
		if len(t.Columns) == 0 {
			return fmt.Errorf("tables[%d].columns must not be empty", i)
		}
	}
	return nil
}
