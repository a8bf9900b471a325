package dnsserver

import (
	"errors"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/logging"
	"github.com/spf13/viper"
	"strings"
	"time"
)

const (
	StorageMemory = "memory"
	StorageBadger = "badger"

	ENV_PREFIX = "SIMULACRA"
)

// Config is the dns-server configuration
type Config struct {
	Domain string `mapstructure:"domain"`
	Zone   string `mapstructure:"zone"` // optional zone file loaded at startup

	DNS struct {
		Addr string `mapstructure:"addr"`
		Net  string `mapstructure:"net"` // udp or tcp
	} `mapstructure:"dns"`

	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`

	Storage struct {
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
	} `mapstructure:"storage"`

	Expiry struct {
		TTL      time.Duration `mapstructure:"ttl"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"expiry"`

	Log logging.Config `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	log := logging.DefaultConfig()

	v.SetDefault("domain", "covert.example.com")
	v.SetDefault("zone", "")
	v.SetDefault("dns.addr", ":5353")
	v.SetDefault("dns.net", "udp")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("storage.path", "simulacra-data")
	v.SetDefault("expiry.ttl", 24*time.Hour)
	v.SetDefault("expiry.interval", time.Hour)
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.file", log.File)
	v.SetDefault("log.max_size", log.MaxSize)
	v.SetDefault("log.max_backups", log.MaxBackups)
	v.SetDefault("log.max_age", log.MaxAge)
	v.SetDefault("log.compress", log.Compress)
}

// LoadConfig reads defaults, then the optional YAML file at path, then
// SIMULACRA_* environment variables (dns.addr -> SIMULACRA_DNS_ADDR)
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file not readable: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config parse error: %w", err)
	}

	cfg.Domain = strings.ToLower(strings.TrimSuffix(cfg.Domain, "."))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if c.DNS.Net != "udp" && c.DNS.Net != "tcp" {
		errs = append(errs, fmt.Errorf("dns.net must be udp or tcp, got %q", c.DNS.Net))
	}
	if c.Storage.Driver != StorageMemory && c.Storage.Driver != StorageBadger {
		errs = append(errs, fmt.Errorf("storage.driver must be %s or %s, got %q", StorageMemory, StorageBadger, c.Storage.Driver))
	}
	if c.Expiry.TTL <= 0 || c.Expiry.Interval <= 0 {
		errs = append(errs, errors.New("expiry.ttl and expiry.interval must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
