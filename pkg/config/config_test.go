// Copyright 2026 Fluxlog, Inc.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name       string
		configFile string
		wantErr    bool
		validate   func(*testing.T, *Config)
	}{
		{
			name:       "load with defaults",
			configFile: "",
			wantErr:    false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, int32(1), cfg.SPU.ID)
				assert.Equal(t, "0.0.0.0", cfg.SPU.RPCHost)
				assert.Equal(t, 9005, cfg.SPU.RPCPort)
				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "at-least-once", cfg.Producer.Delivery)
				assert.Equal(t, "auto", cfg.Consumer.OffsetStrategy)
				assert.Equal(t, int64(4*1024*1024), cfg.Replication.MaxLagOffsets)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.configFile)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spu.yaml")
	content := []byte(`
spu:
  id: 3
  rpc:
    port: 9105
  peers:
    - id: 1
      addr: "10.0.0.1:9005"
    - id: 3
      addr: "10.0.0.3:9005"
producer:
  linger:
    ms: 250
  compression: "lz4"
consumer:
  offset:
    strategy: "manual"
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int32(3), cfg.SPU.ID)
	assert.Equal(t, 9105, cfg.SPU.RPCPort)
	assert.Len(t, cfg.SPU.Peers, 2)
	assert.Equal(t, "10.0.0.3:9005", cfg.SPU.Peers[1].Addr)
	assert.Equal(t, int64(250), cfg.Producer.LingerMs)
	assert.Equal(t, "lz4", cfg.Producer.Compression)
	assert.Equal(t, "manual", cfg.Consumer.OffsetStrategy)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		setDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid rpc port",
			mutate:  func(c *Config) { c.SPU.RPCPort = -1 },
			wantErr: "invalid rpc port",
		},
		{
			name: "spu missing from peers",
			mutate: func(c *Config) {
				c.SPU.ID = 9
				c.SPU.Peers = []PeerConfig{{ID: 1, Addr: "a:1"}, {ID: 2, Addr: "b:1"}}
			},
			wantErr: "not found in peers",
		},
		{
			name: "duplicate peer",
			mutate: func(c *Config) {
				c.SPU.Peers = []PeerConfig{{ID: 1, Addr: "a:1"}, {ID: 1, Addr: "b:1"}}
			},
			wantErr: "duplicate peer",
		},
		{
			name:    "bad delivery semantic",
			mutate:  func(c *Config) { c.Producer.Delivery = "exactly-once" },
			wantErr: "invalid producer delivery",
		},
		{
			name:    "bad compression",
			mutate:  func(c *Config) { c.Producer.Compression = "brotli" },
			wantErr: "invalid producer compression",
		},
		{
			name:    "bad offset strategy",
			mutate:  func(c *Config) { c.Consumer.OffsetStrategy = "periodic" },
			wantErr: "invalid consumer offset strategy",
		},
		{
			name: "backoff min exceeds max",
			mutate: func(c *Config) {
				c.Replication.ReconnectBackoffMinMs = 5000
				c.Replication.ReconnectBackoffMaxMs = 100
			},
			wantErr: "exceeds reconnect.backoff.max.ms",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLUXLOG_SPU_ID", "7")
	t.Setenv("FLUXLOG_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int32(7), cfg.SPU.ID)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
