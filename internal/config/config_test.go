package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replicant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "replicant", cfg.Node.ID)
	assert.Equal(t, "memory", cfg.Transport.Kind)
	assert.Equal(t, "snapshots", cfg.ObjStore.Container)
	assert.Equal(t, 5, cfg.Pump.KeepNewest)
	assert.Equal(t, 2*time.Second, cfg.Search.DefaultTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Transport.Kafka.Brokers)
	assert.NoError(t, cfg.ValidateSchema())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
node:
  id: edge-1
transport:
  kind: sqlite
  sqlite_path: /var/lib/replicant/log.db
objstore:
  kind: dir
  path: /var/lib/replicant/objects
pump:
  snapshot_interval: 30s
  keep_newest: 8
  compress: true
search:
  default_timeout: 750ms
  offload_responses: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-1", cfg.Node.ID)
	assert.Equal(t, "sqlite", cfg.Transport.Kind)
	assert.Equal(t, "/var/lib/replicant/log.db", cfg.Transport.SQLitePath)
	assert.Equal(t, "dir", cfg.ObjStore.Kind)
	assert.Equal(t, 30*time.Second, cfg.Pump.SnapshotInterval)
	assert.Equal(t, 8, cfg.Pump.KeepNewest)
	assert.True(t, cfg.Pump.Compress)
	assert.Equal(t, 750*time.Millisecond, cfg.Search.DefaultTimeout)
	assert.True(t, cfg.Search.OffloadResponses)
	// Untouched keys keep their defaults.
	assert.Equal(t, "search-requests", cfg.Transport.Topics.Requests)
	assert.NoError(t, cfg.ValidateSchema())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REPLICANT_NODE_ID", "from-env")
	t.Setenv("REPLICANT_TRANSPORT_KIND", "kafka")
	t.Setenv("REPLICANT_TRANSPORT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REPLICANT_PUMP_KEEP_NEWEST", "3")

	cfg, err := Load(writeConfig(t, "node:\n  id: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Node.ID)
	assert.Equal(t, "kafka", cfg.Transport.Kind)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Transport.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Pump.KeepNewest)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty node id", func(c *Config) { c.Node.ID = "" }, "node.id is required"},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }, "transport.kind"},
		{"amqp as log", func(c *Config) { c.Transport.Kind = "amqp" }, "cannot replay"},
		{"unknown request bus", func(c *Config) { c.Transport.RequestBus = "smtp" }, "transport.request_bus"},
		{"kafka without brokers", func(c *Config) {
			c.Transport.Kind = "kafka"
			c.Transport.Kafka.Brokers = nil
		}, "brokers is required"},
		{"amqp without url", func(c *Config) {
			c.Transport.RequestBus = "amqp"
			c.Transport.AMQP.URL = ""
		}, "amqp.url is required"},
		{"unknown objstore", func(c *Config) { c.ObjStore.Kind = "tape" }, "objstore.kind"},
		{"dir without path", func(c *Config) {
			c.ObjStore.Kind = "dir"
			c.ObjStore.Path = ""
		}, "objstore.path is required"},
		{"memory log with durable snapshots", func(c *Config) { c.ObjStore.Kind = "sqlite" }, "needs a durable transport.kind"},
		{"memory log with dir snapshots", func(c *Config) { c.ObjStore.Kind = "dir" }, "needs a durable transport.kind"},
		{"shared containers", func(c *Config) { c.ObjStore.OffloadContainer = c.ObjStore.Container }, "must differ"},
		{"default above max", func(c *Config) { c.Search.DefaultTimeout = time.Minute }, "exceeds"},
		{"allowance eats timeout", func(c *Config) { c.Search.ProcessingAllowance = 5 * time.Second }, "no collection time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateSchema_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"keep newest too large", func(c *Config) { c.Pump.KeepNewest = 5000 }},
		{"negative keep newest", func(c *Config) { c.Pump.KeepNewest = -1 }},
		{"negative interval", func(c *Config) { c.Pump.SnapshotInterval = -time.Second }},
		{"zero max concurrent", func(c *Config) { c.Search.MaxConcurrent = 0 }},
		{"empty topic", func(c *Config) { c.Transport.Topics.Responses = "" }},
		{"empty broker", func(c *Config) { c.Transport.Kafka.Brokers = []string{""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.ValidateSchema())
		})
	}
}
