package dnsserver

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "covert.example.com", cfg.Domain)
	assert.Equal(t, ":5353", cfg.DNS.Addr)
	assert.Equal(t, "udp", cfg.DNS.Net)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Expiry.TTL)
	assert.Equal(t, time.Hour, cfg.Expiry.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Log.MaxSize)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
domain: Covert.Test.
dns:
  addr: 127.0.0.1:53
  net: tcp
storage:
  driver: badger
  path: /var/lib/simulacra
expiry:
  ttl: 2h
  interval: 15m
log:
  level: debug
  file: /var/log/simulacra.log
  max_backups: 2
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "covert.test", cfg.Domain)
	assert.Equal(t, "127.0.0.1:53", cfg.DNS.Addr)
	assert.Equal(t, "tcp", cfg.DNS.Net)
	assert.Equal(t, StorageBadger, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/simulacra", cfg.Storage.Path)
	assert.Equal(t, 2*time.Hour, cfg.Expiry.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Expiry.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/simulacra.log", cfg.Log.File)
	assert.Equal(t, 2, cfg.Log.MaxBackups)
	assert.Equal(t, ":8080", cfg.HTTP.Addr, "unset keys keep defaults")
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "dns:\n  addr: 127.0.0.1:53\n")
	t.Setenv("SIMULACRA_DNS_ADDR", ":9953")
	t.Setenv("SIMULACRA_DOMAIN", "env.example.net")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9953", cfg.DNS.Addr)
	assert.Equal(t, "env.example.net", cfg.Domain)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, `
dns:
  net: sctp
storage:
  driver: postgres
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dns.net")
	assert.Contains(t, err.Error(), "storage.driver")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Domain = ""
	cfg.Expiry.TTL = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain is required")
	assert.Contains(t, err.Error(), "expiry.ttl")
}
