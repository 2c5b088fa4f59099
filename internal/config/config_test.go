package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Hostname != "localhost" {
		t.Errorf("expected hostname 'localhost', got %q", cfg.Hostname)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log_level 'info', got %q", cfg.LogLevel)
	}

	if cfg.Nameserver.RootID != DefaultRootID {
		t.Errorf("expected root_id %q, got %q", DefaultRootID, cfg.Nameserver.RootID)
	}

	if cfg.Delivery.Workers != 4 {
		t.Errorf("expected 4 delivery workers, got %d", cfg.Delivery.Workers)
	}

	if cfg.Mailbox.Backend != BackendMemory {
		t.Errorf("expected mailbox backend 'memory', got %q", cfg.Mailbox.Backend)
	}

	if cfg.Keys.PrivateDir != "keys/server" || cfg.Keys.PublicDir != "keys/client" {
		t.Errorf("unexpected key dirs %q, %q", cfg.Keys.PrivateDir, cfg.Keys.PublicDir)
	}

	if cfg.Timeouts.Connection != "5m" {
		t.Errorf("expected connection timeout '5m', got %q", cfg.Timeouts.Connection)
	}

	if len(cfg.Listeners) != 0 {
		t.Errorf("expected no default listeners, got %d", len(cfg.Listeners))
	}
}

func validConfig() Config {
	cfg := Default()
	cfg.Listeners = []ListenerConfig{{Address: ":8025", Protocol: ProtocolDMTP}}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty component id",
			modify:  func(c *Config) { c.ComponentID = "" },
			wantErr: true,
		},
		{
			name:    "empty hostname",
			modify:  func(c *Config) { c.Hostname = "" },
			wantErr: true,
		},
		{
			name:    "no listeners",
			modify:  func(c *Config) { c.Listeners = nil },
			wantErr: true,
		},
		{
			name:    "listener without address",
			modify:  func(c *Config) { c.Listeners[0].Address = "" },
			wantErr: true,
		},
		{
			name:    "unknown protocol",
			modify:  func(c *Config) { c.Listeners[0].Protocol = "smtp" },
			wantErr: true,
		},
		{
			name:    "zero workers",
			modify:  func(c *Config) { c.Delivery.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "bad dial timeout",
			modify:  func(c *Config) { c.Delivery.DialTimeout = "soon" },
			wantErr: true,
		},
		{
			name: "static domain without port",
			modify: func(c *Config) {
				c.Delivery.Domains = map[string]string{"example.org": "mail.example.org"}
			},
			wantErr: true,
		},
		{
			name: "static domain with port",
			modify: func(c *Config) {
				c.Delivery.Domains = map[string]string{"example.org": "127.0.0.1:8026"}
			},
			wantErr: false,
		},
		{
			name:    "redis without address",
			modify:  func(c *Config) { c.Mailbox.Backend = BackendRedis },
			wantErr: true,
		},
		{
			name: "redis with address",
			modify: func(c *Config) {
				c.Mailbox.Backend = BackendRedis
				c.Mailbox.RedisAddress = "127.0.0.1:6379"
			},
			wantErr: false,
		},
		{
			name:    "maildir without path",
			modify:  func(c *Config) { c.Mailbox.Backend = BackendMaildir },
			wantErr: true,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Mailbox.Backend = "mysql" },
			wantErr: true,
		},
		{
			name:    "bad connection timeout",
			modify:  func(c *Config) { c.Timeouts.Connection = "invalid" },
			wantErr: true,
		},
		{
			name: "metrics enabled without path",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Path = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestListenerLookup(t *testing.T) {
	cfg := Default()
	cfg.Listeners = []ListenerConfig{
		{Address: ":8025", Protocol: ProtocolDMTP},
		{Address: ":8143", Protocol: ProtocolDMAP, Advertise: "mail.example.org:8143"},
	}

	l, ok := cfg.Listener(ProtocolDMAP)
	if !ok {
		t.Fatal("expected a dmap listener")
	}
	if l.AdvertisedAddress() != "mail.example.org:8143" {
		t.Errorf("AdvertisedAddress() = %q, want 'mail.example.org:8143'", l.AdvertisedAddress())
	}

	l, _ = cfg.Listener(ProtocolDMTP)
	if l.AdvertisedAddress() != ":8025" {
		t.Errorf("AdvertisedAddress() = %q, want ':8025'", l.AdvertisedAddress())
	}

	if _, ok := cfg.Listener(ProtocolNaming); ok {
		t.Error("expected no naming listener")
	}
}

func TestNameserverRoot(t *testing.T) {
	var n NameserverConfig
	if !n.IsRoot() {
		t.Error("empty zone should be the root")
	}
	if n.RootName() != DefaultRootID {
		t.Errorf("RootName() = %q, want %q", n.RootName(), DefaultRootID)
	}

	n.Zone = "org"
	if n.IsRoot() {
		t.Error("zone 'org' should not be the root")
	}
}

func TestTimeouts(t *testing.T) {
	tests := []struct {
		name       string
		connection string
		command    string
		wantConn   time.Duration
		wantCmd    time.Duration
	}{
		{"defaults", "", "", 5 * time.Minute, time.Minute},
		{"explicit", "30s", "5s", 30 * time.Second, 5 * time.Second},
		{"invalid falls back", "x", "y", 5 * time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := TimeoutsConfig{Connection: tt.connection, Command: tt.command}
			if got := tc.ConnectionTimeout(); got != tt.wantConn {
				t.Errorf("ConnectionTimeout() = %v, want %v", got, tt.wantConn)
			}
			if got := tc.CommandTimeout(); got != tt.wantCmd {
				t.Errorf("CommandTimeout() = %v, want %v", got, tt.wantCmd)
			}
		})
	}
}

func TestDialTimeoutDuration(t *testing.T) {
	d := DeliveryConfig{}
	if got := d.DialTimeoutDuration(); got != 10*time.Second {
		t.Errorf("DialTimeoutDuration() = %v, want 10s", got)
	}
	d.DialTimeout = "250ms"
	if got := d.DialTimeoutDuration(); got != 250*time.Millisecond {
		t.Errorf("DialTimeoutDuration() = %v, want 250ms", got)
	}
}
