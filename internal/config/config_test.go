package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBrokerFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadBroker(path)
	if err != nil {
		t.Fatalf("LoadBroker: %v", err)
	}
	if cfg.Port != ":9001" || cfg.Protocol != "tcp" || cfg.Codec != "json" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !cfg.Debug {
		t.Error("Debug should be true from file")
	}
}

func TestLoadBrokerHonorsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	if err := os.WriteFile(path, []byte("port: \":7777\"\nprotocol: tcp\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadBroker(path)
	if err != nil {
		t.Fatalf("LoadBroker: %v", err)
	}
	if cfg.Port != ":7777" {
		t.Errorf("Port = %q, want :7777", cfg.Port)
	}
}

func TestLoadPeerFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.yaml")
	if err := os.WriteFile(path, []byte("service:\n  port: 9100\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadPeer(path)
	if err != nil {
		t.Fatalf("LoadPeer: %v", err)
	}
	if cfg.BrokerHost != "localhost" || cfg.BrokerPort != "9001" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Service.Port != 9100 {
		t.Errorf("Service.Port = %d, want 9100", cfg.Service.Port)
	}
	if cfg.Service.Host != "localhost" {
		t.Errorf("Service.Host default not applied: %+v", cfg.Service)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := LoadBroker("/nonexistent/path.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultBrokerAndPeer(t *testing.T) {
	b := DefaultBroker()
	if b.Port == "" || b.Protocol == "" || b.Codec == "" {
		t.Errorf("DefaultBroker left zero values: %+v", b)
	}
	p := DefaultPeer()
	if p.BrokerHost == "" || p.BrokerPort == "" {
		t.Errorf("DefaultPeer left zero values: %+v", p)
	}
}
