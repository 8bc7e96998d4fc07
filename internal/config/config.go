// Package config loads the node's configuration into a single immutable
// value at startup. Nothing in this repository keeps a package-level
// mutable config; every component receives the value it needs through its
// constructor.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface recognised by a node process.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Node        NodeConfig        `mapstructure:"node"`
	Log         LogConfig         `mapstructure:"log"`
}

// CoordinatorConfig describes the coordinator the core talks to. Only Host
// and Port are consumed directly by the core (to build the coordinator
// URL); the rest describe the coordinator's own deployment and are carried
// only so a single YAML file can describe a whole deployment.
type CoordinatorConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	DatabaseURL      string        `mapstructure:"database_url"`
	MaxPeers         int           `mapstructure:"max_peers"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
}

// NodeConfig is the peer node's own configuration.
type NodeConfig struct {
	DataDir               string        `mapstructure:"data_dir"`
	Port                  int           `mapstructure:"port"`
	MaxStorageGB          int           `mapstructure:"max_storage_gb"`
	RedundancyFactor      int           `mapstructure:"redundancy_factor"`
	ShardsTotal           int           `mapstructure:"shards_total"`
	ShardsRequired        int           `mapstructure:"shards_required"`
	PeerDiscoveryInterval time.Duration `mapstructure:"peer_discovery_interval"`
	AuditInterval         time.Duration `mapstructure:"audit_interval"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	TransferTimeout       time.Duration `mapstructure:"transfer_timeout"`
	HealthCheckTimeout    time.Duration `mapstructure:"health_check_timeout"`
	MaxRetries            int           `mapstructure:"max_retries"`
	ChunkThresholdBytes   int64         `mapstructure:"chunk_threshold_bytes"`
}

// LogConfig configures the ambient slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults mirrors the defaults documented in the configuration surface.
func Defaults() Config {
	return Config{
		Coordinator: CoordinatorConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			MaxPeers:         1000,
			HeartbeatTimeout: 60 * time.Second,
		},
		Node: NodeConfig{
			DataDir:               "./data",
			Port:                  9000,
			MaxStorageGB:          10,
			RedundancyFactor:      4,
			ShardsTotal:           20,
			ShardsRequired:        8,
			PeerDiscoveryInterval: 30 * time.Second,
			AuditInterval:         300 * time.Second,
			HeartbeatInterval:     30 * time.Second,
			TransferTimeout:       30 * time.Second,
			HealthCheckTimeout:    5 * time.Second,
			MaxRetries:            3,
			ChunkThresholdBytes:   8 * 1024 * 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file at path and merges it over Defaults.
// The returned value is never mutated in place; callers that need a
// modified configuration must copy and change the copy.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	return cfg, nil
}

// CoordinatorURL builds the base URL the core uses to reach the
// coordinator.
func (c Config) CoordinatorURL() string {
	host := c.Coordinator.Host
	if host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Coordinator.Port)
}
