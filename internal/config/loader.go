package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath  string
	ComponentID string
	Hostname    string
	Domain      string
	LogLevel    string
	Listen      string
	Registry    string
	Zone        string
	Workers     int
	SocksProxy  string
	Monitoring  string
	UsersFile   string
	KeysDir     string
}

// ParseFlags parses command-line flags from args and returns a Flags struct.
func ParseFlags(name string, args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&f.ConfigPath, "config", "./dmaild.toml", "Path to configuration file")
	fs.StringVar(&f.ComponentID, "id", "", "Component id (key file name, registration name)")
	fs.StringVar(&f.Hostname, "hostname", "", "Server hostname")
	fs.StringVar(&f.Domain, "domain", "", "Mail domain served by a mailbox server")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.Listen, "listen", "", "Listeners as protocol=address[,protocol=address] (replaces all config listeners)")
	fs.StringVar(&f.Registry, "registry", "", "Root nameserver address")
	fs.StringVar(&f.Zone, "zone", "", "Zone served by a nameserver (empty for the root)")
	fs.IntVar(&f.Workers, "workers", 0, "Relay worker count")
	fs.StringVar(&f.SocksProxy, "socks-proxy", "", "SOCKS5 proxy address for relaying")
	fs.StringVar(&f.Monitoring, "monitoring", "", "UDP address of the statistics collector")
	fs.StringVar(&f.UsersFile, "users", "", "Path to the YAML user database")
	fs.StringVar(&f.KeysDir, "keys", "", "Key directory containing server/ and client/")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	cfg = mergeConfig(cfg, fileConfig.Dmaild)

	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.ComponentID != "" {
		cfg.ComponentID = f.ComponentID
	}

	if f.Hostname != "" {
		cfg.Hostname = f.Hostname
	}

	if f.Domain != "" {
		cfg.Domain = f.Domain
	}

	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	if f.Listen != "" {
		cfg.Listeners = parseListen(f.Listen)
	}

	if f.Registry != "" {
		cfg.Nameserver.Registry = f.Registry
	}

	if f.Zone != "" {
		cfg.Nameserver.Zone = f.Zone
	}

	if f.Workers > 0 {
		cfg.Delivery.Workers = f.Workers
	}

	if f.SocksProxy != "" {
		cfg.Delivery.SocksProxy = f.SocksProxy
	}

	if f.Monitoring != "" {
		cfg.Monitoring.Address = f.Monitoring
	}

	if f.UsersFile != "" {
		cfg.Users.File = f.UsersFile
	}

	if f.KeysDir != "" {
		cfg.Keys.PrivateDir = strings.TrimSuffix(f.KeysDir, "/") + "/server"
		cfg.Keys.PublicDir = strings.TrimSuffix(f.KeysDir, "/") + "/client"
	}

	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// applies environment overrides, then applies flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(ApplyEnv(cfg), f), nil
}

// parseListen turns "dmtp=:8025,dmap=:8143" into listener configs.
// An entry without a protocol keeps an empty protocol so Validate rejects it.
func parseListen(v string) []ListenerConfig {
	var out []ListenerConfig
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		proto, addr, ok := strings.Cut(part, "=")
		if !ok {
			out = append(out, ListenerConfig{Address: part})
			continue
		}
		out = append(out, ListenerConfig{
			Address:  strings.TrimSpace(addr),
			Protocol: Protocol(strings.ToLower(strings.TrimSpace(proto))),
		})
	}
	return out
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.ComponentID != "" {
		dst.ComponentID = src.ComponentID
	}

	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}

	if src.Domain != "" {
		dst.Domain = src.Domain
	}

	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}

	if len(src.Listeners) > 0 {
		dst.Listeners = src.Listeners
	}

	if src.Nameserver.Registry != "" {
		dst.Nameserver.Registry = src.Nameserver.Registry
	}

	if src.Nameserver.RootID != "" {
		dst.Nameserver.RootID = src.Nameserver.RootID
	}

	if src.Nameserver.Zone != "" {
		dst.Nameserver.Zone = src.Nameserver.Zone
	}

	if src.Delivery.Workers > 0 {
		dst.Delivery.Workers = src.Delivery.Workers
	}

	if src.Delivery.DialTimeout != "" {
		dst.Delivery.DialTimeout = src.Delivery.DialTimeout
	}

	if src.Delivery.SocksProxy != "" {
		dst.Delivery.SocksProxy = src.Delivery.SocksProxy
	}

	if len(src.Delivery.Domains) > 0 {
		dst.Delivery.Domains = src.Delivery.Domains
	}

	if src.Monitoring.Address != "" {
		dst.Monitoring.Address = src.Monitoring.Address
	}

	if src.Mailbox.Backend != "" {
		dst.Mailbox.Backend = src.Mailbox.Backend
	}

	if src.Mailbox.RedisAddress != "" {
		dst.Mailbox.RedisAddress = src.Mailbox.RedisAddress
	}

	if src.Mailbox.RedisPassword != "" {
		dst.Mailbox.RedisPassword = src.Mailbox.RedisPassword
	}

	if src.Mailbox.RedisDB > 0 {
		dst.Mailbox.RedisDB = src.Mailbox.RedisDB
	}

	if src.Mailbox.KeyPrefix != "" {
		dst.Mailbox.KeyPrefix = src.Mailbox.KeyPrefix
	}

	if src.Mailbox.MaildirPath != "" {
		dst.Mailbox.MaildirPath = src.Mailbox.MaildirPath
	}

	if src.Users.File != "" {
		dst.Users.File = src.Users.File
	}

	if src.Keys.PrivateDir != "" {
		dst.Keys.PrivateDir = src.Keys.PrivateDir
	}

	if src.Keys.PublicDir != "" {
		dst.Keys.PublicDir = src.Keys.PublicDir
	}

	if src.Keys.HMACKey != "" {
		dst.Keys.HMACKey = src.Keys.HMACKey
	}

	if src.Timeouts.Connection != "" {
		dst.Timeouts.Connection = src.Timeouts.Connection
	}

	if src.Timeouts.Command != "" {
		dst.Timeouts.Command = src.Timeouts.Command
	}

	// Metrics: enabled is a boolean, so only a true value can be merged
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}

	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}

	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	return dst
}
