// Package config provides configuration management for the dmaild components.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Protocol identifies the wire protocol a listener speaks.
type Protocol string

const (
	// ProtocolDMTP is the line-oriented message submission protocol.
	ProtocolDMTP Protocol = "dmtp"
	// ProtocolDMAP is the mailbox access protocol with the secure upgrade.
	ProtocolDMAP Protocol = "dmap"
	// ProtocolNaming is the RPC endpoint of a nameserver.
	ProtocolNaming Protocol = "naming"
)

// Mailbox storage backends.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendMaildir = "maildir"
)

// DefaultRootID is the registration name of the root nameserver.
const DefaultRootID = "root-nameserver"

// FileConfig is the top-level wrapper for the shared configuration file.
// All dmaild components of one deployment may share a single file.
type FileConfig struct {
	Dmaild Config `toml:"dmaild"`
}

// Config holds the complete configuration of a dmaild component.
type Config struct {
	ComponentID string           `toml:"component_id"`
	Hostname    string           `toml:"hostname"`
	Domain      string           `toml:"domain"`
	LogLevel    string           `toml:"log_level"`
	Listeners   []ListenerConfig `toml:"listeners"`
	Nameserver  NameserverConfig `toml:"nameserver"`
	Delivery    DeliveryConfig   `toml:"delivery"`
	Monitoring  MonitoringConfig `toml:"monitoring"`
	Mailbox     MailboxConfig    `toml:"mailbox"`
	Users       UsersConfig      `toml:"users"`
	Keys        KeysConfig       `toml:"keys"`
	Timeouts    TimeoutsConfig   `toml:"timeouts"`
	Metrics     MetricsConfig    `toml:"metrics"`
}

// ListenerConfig defines settings for a single listener.
// Advertise is the address peers should use to reach the listener; it
// defaults to Address.
type ListenerConfig struct {
	Address   string   `toml:"address"`
	Protocol  Protocol `toml:"protocol"`
	Advertise string   `toml:"advertise"`
}

// NameserverConfig locates the naming hierarchy.
// Registry is the address of the root nameserver. Zone is the domain a
// zone nameserver is authoritative for; empty means this is the root.
type NameserverConfig struct {
	Registry string `toml:"registry"`
	RootID   string `toml:"root_id"`
	Zone     string `toml:"zone"`
}

// DeliveryConfig controls the relay engine of a transfer server.
// Domains is a static domain -> host:port table used when no registry is
// configured or a lookup in the registry fails.
type DeliveryConfig struct {
	Workers     int               `toml:"workers"`
	DialTimeout string            `toml:"dial_timeout"`
	SocksProxy  string            `toml:"socks_proxy"`
	Domains     map[string]string `toml:"domains"`
}

// MonitoringConfig holds the UDP address of the statistics collector.
type MonitoringConfig struct {
	Address string `toml:"address"`
}

// MailboxConfig selects and configures the mailbox storage backend.
type MailboxConfig struct {
	Backend       string `toml:"backend"`
	RedisAddress  string `toml:"redis_address"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
	MaildirPath   string `toml:"maildir_path"`
}

// UsersConfig points at the YAML user database.
type UsersConfig struct {
	File string `toml:"file"`
}

// KeysConfig locates key material.
type KeysConfig struct {
	PrivateDir string `toml:"private_dir"`
	PublicDir  string `toml:"public_dir"`
	HMACKey    string `toml:"hmac_key"`
}

// TimeoutsConfig defines timeout durations.
type TimeoutsConfig struct {
	Connection string `toml:"connection"`
	Command    string `toml:"command"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		ComponentID: "dmaild",
		Hostname:    "localhost",
		LogLevel:    "info",
		Nameserver: NameserverConfig{
			RootID: DefaultRootID,
		},
		Delivery: DeliveryConfig{
			Workers:     4,
			DialTimeout: "10s",
		},
		Mailbox: MailboxConfig{
			Backend:   BackendMemory,
			KeyPrefix: "dmaild",
		},
		Keys: KeysConfig{
			PrivateDir: "keys/server",
			PublicDir:  "keys/client",
		},
		Timeouts: TimeoutsConfig{
			Connection: "5m",
			Command:    "1m",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9100",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.ComponentID == "" {
		return errors.New("component_id is required")
	}

	if c.Hostname == "" {
		return errors.New("hostname is required")
	}

	if len(c.Listeners) == 0 {
		return errors.New("at least one listener is required")
	}

	for i, l := range c.Listeners {
		if l.Address == "" {
			return fmt.Errorf("listener %d: address is required", i)
		}
		if !isValidProtocol(l.Protocol) {
			return fmt.Errorf("listener %d: invalid protocol %q", i, l.Protocol)
		}
	}

	if c.Delivery.Workers <= 0 {
		return errors.New("delivery workers must be positive")
	}

	if c.Delivery.DialTimeout != "" {
		if _, err := time.ParseDuration(c.Delivery.DialTimeout); err != nil {
			return fmt.Errorf("invalid dial timeout: %w", err)
		}
	}

	for name, addr := range c.Delivery.Domains {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("delivery domain %q: invalid address %q", name, addr)
		}
	}

	switch c.Mailbox.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Mailbox.RedisAddress == "" {
			return errors.New("redis_address is required for the redis mailbox backend")
		}
	case BackendMaildir:
		if c.Mailbox.MaildirPath == "" {
			return errors.New("maildir_path is required for the maildir mailbox backend")
		}
	default:
		return fmt.Errorf("invalid mailbox backend %q", c.Mailbox.Backend)
	}

	if c.Timeouts.Connection != "" {
		if _, err := time.ParseDuration(c.Timeouts.Connection); err != nil {
			return fmt.Errorf("invalid connection timeout: %w", err)
		}
	}

	if c.Timeouts.Command != "" {
		if _, err := time.ParseDuration(c.Timeouts.Command); err != nil {
			return fmt.Errorf("invalid command timeout: %w", err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// Listener returns the first listener speaking p.
func (c *Config) Listener(p Protocol) (ListenerConfig, bool) {
	for _, l := range c.Listeners {
		if l.Protocol == p {
			return l, true
		}
	}
	return ListenerConfig{}, false
}

// AdvertisedAddress returns the address peers use to reach the listener.
func (l ListenerConfig) AdvertisedAddress() string {
	if l.Advertise != "" {
		return l.Advertise
	}
	return l.Address
}

// RootName returns the registration name of the root nameserver.
func (n *NameserverConfig) RootName() string {
	if n.RootID == "" {
		return DefaultRootID
	}
	return n.RootID
}

// IsRoot reports whether a nameserver with this configuration is the root.
func (n *NameserverConfig) IsRoot() bool {
	return strings.TrimSpace(n.Zone) == ""
}

// DialTimeoutDuration returns the relay dial timeout.
// Returns 10 seconds if not configured or invalid.
func (d *DeliveryConfig) DialTimeoutDuration() time.Duration {
	if d.DialTimeout == "" {
		return 10 * time.Second
	}
	v, err := time.ParseDuration(d.DialTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return v
}

// ConnectionTimeout returns the connection timeout as a time.Duration.
// Returns 5 minutes if not configured or invalid.
func (c *TimeoutsConfig) ConnectionTimeout() time.Duration {
	if c.Connection == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(c.Connection)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// CommandTimeout returns the command timeout as a time.Duration.
// Returns 1 minute if not configured or invalid.
func (c *TimeoutsConfig) CommandTimeout() time.Duration {
	if c.Command == "" {
		return 1 * time.Minute
	}
	d, err := time.ParseDuration(c.Command)
	if err != nil {
		return 1 * time.Minute
	}
	return d
}

func isValidProtocol(p Protocol) bool {
	switch p {
	case ProtocolDMTP, ProtocolDMAP, ProtocolNaming:
		return true
	default:
		return false
	}
}
