// Package supervisor implements the §4.1/§9 process-level composition
// point: it builds the hub this process hosts, drives the transport
// connecting it to a parent and accepting children, and loads its tunables
// from an optional YAML file plus overrides — replacing the original
// prototype's thread-local "current hub" singleton (§9) with an explicit,
// non-global handle any number of which may coexist in one process.
package supervisor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubmesh/hub/hub"
	"github.com/hubmesh/hub/transport"
)

// Config is the §6 configurable option set, loadable from YAML with flag
// overrides layered on top by the caller (cmd/hubd does this; Config
// itself has no flag dependency).
type Config struct {
	HubID string `yaml:"hub_id"`
	// Scope is one of "thread", "process", "machine", "network".
	Scope string `yaml:"scope"`

	ReconnectIntervalSec   int     `yaml:"reconnect_interval_sec"`
	RequestTimeoutSec      int     `yaml:"request_timeout_sec"`
	FallbackMaxDepth       int     `yaml:"fallback_max_depth"`
	ApproximationThreshold float64 `yaml:"approximation_threshold"`

	TLSCertPath     string `yaml:"tls_cert_path"`
	TLSKeyPath      string `yaml:"tls_key_path"`
	TLSClientCAPath string `yaml:"tls_client_ca_path"`
	VerifyPeer      *bool  `yaml:"verify_peer"`
	Insecure        bool   `yaml:"insecure"`

	BindAddress string `yaml:"bind_address"`
	BindPort    int    `yaml:"bind_port"`

	// ParentAddress, if set, is dialed as this hub's parent. For
	// transport_kind "websocket" this is a full "ws://host:port/path" URL
	// rather than a bare host:port pair.
	ParentAddress string `yaml:"parent_address"`

	// TransportKind selects the wire transport §6 names: "tcp" (default)
	// or "websocket", the latter for browser/JS participants that can't
	// open a raw TCP socket.
	TransportKind string `yaml:"transport_kind"`
}

// LoadConfig reads and parses a YAML config file at path, applying
// defaults to anything left unset.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("supervisor: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("supervisor: parse config %s: %w", path, err)
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.HubID == "" {
		c.HubID = "hub"
	}
	if c.Scope == "" {
		c.Scope = "thread"
	}
	if c.ReconnectIntervalSec <= 0 {
		c.ReconnectIntervalSec = 5
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = 30
	}
	if c.FallbackMaxDepth <= 0 {
		c.FallbackMaxDepth = 8
	}
	if c.ApproximationThreshold <= 0 {
		c.ApproximationThreshold = 0.8
	}
	if c.VerifyPeer == nil {
		t := true
		c.VerifyPeer = &t
	}
	if c.TransportKind == "" {
		c.TransportKind = "tcp"
	}
}

func (c *Config) hubConfig() hub.Config {
	return hub.Config{
		RequestTimeout:         time.Duration(c.RequestTimeoutSec) * time.Second,
		FallbackMaxDepth:       c.FallbackMaxDepth,
		ApproximationThreshold: c.ApproximationThreshold,
		ResyncInterval:         time.Duration(c.ReconnectIntervalSec) * time.Second,
	}
}

func (c *Config) tlsOptions() *transport.TLSOptions {
	if c.TLSCertPath == "" && !c.Insecure {
		return nil
	}
	return &transport.TLSOptions{
		CertPath:     c.TLSCertPath,
		KeyPath:      c.TLSKeyPath,
		ClientCAPath: c.TLSClientCAPath,
		VerifyPeer:   c.VerifyPeer == nil || *c.VerifyPeer,
		Insecure:     c.Insecure,
	}
}

func parseScope(s string) (hub.Scope, error) {
	switch s {
	case "thread":
		return hub.ScopeThread, nil
	case "process":
		return hub.ScopeProcess, nil
	case "machine":
		return hub.ScopeMachine, nil
	case "network":
		return hub.ScopeNetwork, nil
	default:
		return 0, fmt.Errorf("supervisor: unknown scope %q", s)
	}
}
