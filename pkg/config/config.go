package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full node configuration. Values map one-to-one onto the
// YAML file; fields absent from the file keep their defaults, while an
// explicit zero in the file replaces the default.
type Config struct {
	NodeID         string `yaml:"node_id"`
	DataDir        string `yaml:"data_dir"`
	ListenAddr     string `yaml:"listen_addr"`
	PeerListenAddr string `yaml:"peer_listen_addr"`
	MetricsAddr    string `yaml:"metrics_addr"`

	Peers []Peer `yaml:"peers,omitempty"`

	HotWindow           int `yaml:"hot_window"`
	SnapshotInterval    int `yaml:"snapshot_interval"`
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`
	SessionTimeoutMS    int `yaml:"session_timeout_ms"`
	MaxOutboundQueue    int `yaml:"max_outbound_queue"`
	MaxConnections      int `yaml:"max_connections"`
}

// Peer names a replication peer
type Peer struct {
	NodeID  string `yaml:"node_id"`
	Address string `yaml:"address"`
}

// Default returns the stock configuration
func Default() Config {
	return Config{
		DataDir:             "./data",
		ListenAddr:          ":7420",
		PeerListenAddr:      ":7421",
		MetricsAddr:         ":9420",
		HotWindow:           1000,
		SnapshotInterval:    100,
		HeartbeatIntervalMS: 10000,
		SessionTimeoutMS:    30000,
		MaxOutboundQueue:    1024,
		MaxConnections:      1024,
	}
}

// Load reads a YAML config file and overlays it on the defaults
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system assumes
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.HotWindow <= 0 {
		return fmt.Errorf("hot_window must be positive")
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot_interval must be positive")
	}
	if c.MaxOutboundQueue <= 0 {
		return fmt.Errorf("max_outbound_queue must be positive")
	}
	for _, p := range c.Peers {
		if p.NodeID == "" || p.Address == "" {
			return fmt.Errorf("peer entries need both node_id and address")
		}
		if p.NodeID == c.NodeID {
			return fmt.Errorf("peer list must not include this node (%s)", c.NodeID)
		}
	}
	return nil
}

// HeartbeatInterval returns the session heartbeat interval as a duration
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// SessionTimeout returns the idle session timeout as a duration
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMS) * time.Millisecond
}
