package config

import (
	"os"
	"path/filepath"
	"testing"
)

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dmaild.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}

	expected := Default()
	if cfg.Hostname != expected.Hostname {
		t.Errorf("expected hostname %q, got %q", expected.Hostname, cfg.Hostname)
	}
}

func TestLoadValidTOML(t *testing.T) {
	content := `
[dmaild]
component_id = "mailbox-earth"
hostname = "mail.earth.planet"
domain = "earth.planet"
log_level = "debug"

[dmaild.nameserver]
registry = "127.0.0.1:9000"
root_id = "root"

[dmaild.delivery]
workers = 8
dial_timeout = "3s"
socks_proxy = "127.0.0.1:9050"

[dmaild.delivery.domains]
"earth.planet" = "127.0.0.1:8026"

[dmaild.monitoring]
address = "127.0.0.1:9999"

[dmaild.mailbox]
backend = "redis"
redis_address = "127.0.0.1:6379"
redis_db = 2
key_prefix = "test"

[dmaild.users]
file = "/etc/dmaild/users.yaml"

[dmaild.keys]
private_dir = "/keys/server"
public_dir = "/keys/client"
hmac_key = "/keys/hmac.key"

[[dmaild.listeners]]
address = ":8026"
protocol = "dmtp"

[[dmaild.listeners]]
address = ":8143"
protocol = "dmap"
advertise = "mail.earth.planet:8143"
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ComponentID != "mailbox-earth" {
		t.Errorf("component_id = %q, want 'mailbox-earth'", cfg.ComponentID)
	}
	if cfg.Hostname != "mail.earth.planet" {
		t.Errorf("hostname = %q, want 'mail.earth.planet'", cfg.Hostname)
	}
	if cfg.Domain != "earth.planet" {
		t.Errorf("domain = %q, want 'earth.planet'", cfg.Domain)
	}
	if cfg.Nameserver.Registry != "127.0.0.1:9000" {
		t.Errorf("nameserver.registry = %q, want '127.0.0.1:9000'", cfg.Nameserver.Registry)
	}
	if cfg.Nameserver.RootID != "root" {
		t.Errorf("nameserver.root_id = %q, want 'root'", cfg.Nameserver.RootID)
	}
	if cfg.Delivery.Workers != 8 {
		t.Errorf("delivery.workers = %d, want 8", cfg.Delivery.Workers)
	}
	if cfg.Delivery.SocksProxy != "127.0.0.1:9050" {
		t.Errorf("delivery.socks_proxy = %q, want '127.0.0.1:9050'", cfg.Delivery.SocksProxy)
	}
	if cfg.Delivery.Domains["earth.planet"] != "127.0.0.1:8026" {
		t.Errorf("delivery.domains = %v", cfg.Delivery.Domains)
	}
	if cfg.Monitoring.Address != "127.0.0.1:9999" {
		t.Errorf("monitoring.address = %q, want '127.0.0.1:9999'", cfg.Monitoring.Address)
	}
	if cfg.Mailbox.Backend != BackendRedis || cfg.Mailbox.RedisDB != 2 || cfg.Mailbox.KeyPrefix != "test" {
		t.Errorf("mailbox = %+v", cfg.Mailbox)
	}
	if cfg.Users.File != "/etc/dmaild/users.yaml" {
		t.Errorf("users.file = %q", cfg.Users.File)
	}
	if cfg.Keys.HMACKey != "/keys/hmac.key" {
		t.Errorf("keys.hmac_key = %q", cfg.Keys.HMACKey)
	}

	if len(cfg.Listeners) != 2 {
		t.Fatalf("expected 2 listeners, got %d", len(cfg.Listeners))
	}
	if cfg.Listeners[1].Protocol != ProtocolDMAP || cfg.Listeners[1].Advertise != "mail.earth.planet:8143" {
		t.Errorf("listener[1] = %+v", cfg.Listeners[1])
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	content := `
[dmaild
hostname = "broken
`

	path := createTempConfig(t, content)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML, got nil")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	content := `
[dmaild]
hostname = "relay.example.org"
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hostname != "relay.example.org" {
		t.Errorf("hostname = %q, want 'relay.example.org'", cfg.Hostname)
	}
	if cfg.Delivery.Workers != 4 {
		t.Errorf("delivery.workers = %d, want default 4", cfg.Delivery.Workers)
	}
	if cfg.Timeouts.Connection != "5m" {
		t.Errorf("timeouts.connection = %q, want default '5m'", cfg.Timeouts.Connection)
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags("transfer", []string{
		"-config", "/etc/dmaild.toml",
		"-id", "transfer-1",
		"-listen", "dmtp=:8025",
		"-workers", "2",
	})
	if err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if f.ConfigPath != "/etc/dmaild.toml" {
		t.Errorf("ConfigPath = %q", f.ConfigPath)
	}
	if f.ComponentID != "transfer-1" {
		t.Errorf("ComponentID = %q", f.ComponentID)
	}
	if f.Workers != 2 {
		t.Errorf("Workers = %d, want 2", f.Workers)
	}

	if _, err := ParseFlags("transfer", []string{"-nope"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := Default()
	cfg = ApplyFlags(cfg, &Flags{
		Hostname: "flag.example.org",
		Listen:   "dmtp=:8025, dmap=:8143",
		Registry: "127.0.0.1:9000",
		KeysDir:  "/srv/keys/",
	})

	if cfg.Hostname != "flag.example.org" {
		t.Errorf("hostname = %q", cfg.Hostname)
	}
	if len(cfg.Listeners) != 2 {
		t.Fatalf("expected 2 listeners, got %d", len(cfg.Listeners))
	}
	if cfg.Listeners[1].Protocol != ProtocolDMAP || cfg.Listeners[1].Address != ":8143" {
		t.Errorf("listener[1] = %+v", cfg.Listeners[1])
	}
	if cfg.Nameserver.Registry != "127.0.0.1:9000" {
		t.Errorf("registry = %q", cfg.Nameserver.Registry)
	}
	if cfg.Keys.PrivateDir != "/srv/keys/server" || cfg.Keys.PublicDir != "/srv/keys/client" {
		t.Errorf("keys = %+v", cfg.Keys)
	}
}

func TestApplyFlagsListenWithoutProtocol(t *testing.T) {
	cfg := ApplyFlags(Default(), &Flags{Listen: ":8025"})
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for listener without protocol")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DMAILD_HOSTNAME", "env.example.org")
	t.Setenv("DMAILD_MAILBOX_BACKEND", "redis")
	t.Setenv("DMAILD_REDIS_ADDRESS", "10.0.0.1:6379")
	t.Setenv("DMAILD_REDIS_DB", "3")
	t.Setenv("DMAILD_REGISTRY", "10.0.0.2:9000")

	cfg := ApplyEnv(Default())

	if cfg.Hostname != "env.example.org" {
		t.Errorf("hostname = %q", cfg.Hostname)
	}
	if cfg.Mailbox.Backend != BackendRedis || cfg.Mailbox.RedisAddress != "10.0.0.1:6379" || cfg.Mailbox.RedisDB != 3 {
		t.Errorf("mailbox = %+v", cfg.Mailbox)
	}
	if cfg.Nameserver.Registry != "10.0.0.2:9000" {
		t.Errorf("registry = %q", cfg.Nameserver.Registry)
	}
}

func TestLoadWithFlagsPrecedence(t *testing.T) {
	path := createTempConfig(t, `
[dmaild]
hostname = "file.example.org"
log_level = "warn"
`)
	t.Setenv("DMAILD_HOSTNAME", "env.example.org")
	t.Setenv("DMAILD_LOG_LEVEL", "debug")

	cfg, err := LoadWithFlags(&Flags{ConfigPath: path, LogLevel: "error"})
	if err != nil {
		t.Fatalf("LoadWithFlags() error = %v", err)
	}
	if cfg.Hostname != "env.example.org" {
		t.Errorf("hostname = %q, want env override", cfg.Hostname)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("log_level = %q, want flag override", cfg.LogLevel)
	}
}
