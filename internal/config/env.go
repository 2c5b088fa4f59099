package config

import (
	"os"
	"strconv"
)

// ApplyEnv applies environment variable overrides to the configuration.
// Environment variables take precedence over TOML config but are overridden by command-line flags.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("DMAILD_COMPONENT_ID"); v != "" {
		cfg.ComponentID = v
	}
	if v := os.Getenv("DMAILD_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("DMAILD_DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("DMAILD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DMAILD_REGISTRY"); v != "" {
		cfg.Nameserver.Registry = v
	}
	if v := os.Getenv("DMAILD_SOCKS_PROXY"); v != "" {
		cfg.Delivery.SocksProxy = v
	}
	if v := os.Getenv("DMAILD_MONITORING_ADDRESS"); v != "" {
		cfg.Monitoring.Address = v
	}
	if v := os.Getenv("DMAILD_MAILBOX_BACKEND"); v != "" {
		cfg.Mailbox.Backend = v
	}
	if v := os.Getenv("DMAILD_REDIS_ADDRESS"); v != "" {
		cfg.Mailbox.RedisAddress = v
	}
	if v := os.Getenv("DMAILD_REDIS_PASSWORD"); v != "" {
		cfg.Mailbox.RedisPassword = v
	}
	if v := os.Getenv("DMAILD_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Mailbox.RedisDB = n
		}
	}
	if v := os.Getenv("DMAILD_MAILDIR_PATH"); v != "" {
		cfg.Mailbox.MaildirPath = v
	}
	if v := os.Getenv("DMAILD_USERS_FILE"); v != "" {
		cfg.Users.File = v
	}
	if v := os.Getenv("DMAILD_HMAC_KEY"); v != "" {
		cfg.Keys.HMACKey = v
	}

	return cfg
}
