// Package config loads broker and peer configuration from YAML files,
// filling in defaults for anything the file omits.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BrokerConfig configures the broker binary (cmd/broker).
type BrokerConfig struct {
	Port     string `yaml:"port"`
	Protocol string `yaml:"protocol"`
	Codec    string `yaml:"codec"`
	Debug    bool   `yaml:"debug"`
}

// PeerConfig configures a peer binary (cmd/teleop, cmd/robosim,
// cmd/wsbridge): where to find the broker, and, for peers that also
// serve inbound service calls, the address they accept them on.
type PeerConfig struct {
	BrokerHost string        `yaml:"broker_host"`
	BrokerPort string        `yaml:"broker_port"`
	Service    ServiceConfig `yaml:"service"`
	Debug      bool          `yaml:"debug"`
}

// ServiceConfig is the dial-back address a peer registers for the
// methods it serves.
type ServiceConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoadBroker reads and parses filename into a BrokerConfig, filling in
// defaults for anything left unset.
func LoadBroker(filename string) (*BrokerConfig, error) {
	var cfg BrokerConfig
	if err := loadYAML(filename, &cfg); err != nil {
		return nil, err
	}
	applyBrokerDefaults(&cfg)
	return &cfg, nil
}

// DefaultBroker returns broker defaults with no file involved, for
// binaries invoked without a config path.
func DefaultBroker() *BrokerConfig {
	cfg := &BrokerConfig{}
	applyBrokerDefaults(cfg)
	return cfg
}

func applyBrokerDefaults(cfg *BrokerConfig) {
	if cfg.Port == "" {
		cfg.Port = ":9001"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "tcp"
	}
	if cfg.Codec == "" {
		cfg.Codec = "json"
	}
}

// LoadPeer reads and parses filename into a PeerConfig, filling in
// defaults for anything left unset.
func LoadPeer(filename string) (*PeerConfig, error) {
	var cfg PeerConfig
	if err := loadYAML(filename, &cfg); err != nil {
		return nil, err
	}
	applyPeerDefaults(&cfg)
	return &cfg, nil
}

// DefaultPeer returns peer defaults with no file involved.
func DefaultPeer() *PeerConfig {
	cfg := &PeerConfig{}
	applyPeerDefaults(cfg)
	return cfg
}

func applyPeerDefaults(cfg *PeerConfig) {
	if cfg.BrokerHost == "" {
		cfg.BrokerHost = "localhost"
	}
	if cfg.BrokerPort == "" {
		cfg.BrokerPort = "9001"
	}
	if cfg.Service.Host == "" {
		cfg.Service.Host = "localhost"
	}
}

func loadYAML(filename string, out interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}
