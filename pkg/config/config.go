// Copyright 2026 Fluxlog, Inc.

package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the SPU process configuration.
type Config struct {
	SPU         SPUConfig         `koanf:"spu"`
	Replication ReplicationConfig `koanf:"replication"`
	Producer    ProducerConfig    `koanf:"producer"`
	Consumer    ConsumerConfig    `koanf:"consumer"`
	Logging     LoggingConfig     `koanf:"logging"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Throttle    ThrottleConfig    `koanf:"throttle"`
}

// SPUConfig identifies this SPU and its peers.
type SPUConfig struct {
	ID        int32        `koanf:"id"`
	RPCHost   string       `koanf:"rpc.host"`
	RPCPort   int          `koanf:"rpc.port"`
	AdminHost string       `koanf:"admin.host"`
	AdminPort int          `koanf:"admin.port"`
	DataDir   string       `koanf:"data.dir"`
	Peers     []PeerConfig `koanf:"peers"`

	// ReplicaSetFile is a YAML file describing the desired replica
	// assignments. It stands in for the control-plane metadata service: the
	// SPU re-reads it on SIGHUP and feeds the result to the replica
	// controller as an UpdateReplica message.
	ReplicaSetFile string `koanf:"replica.set.file"`
}

// PeerConfig names one SPU in the cluster and its RPC address.
type PeerConfig struct {
	ID   int32  `koanf:"id"`
	Addr string `koanf:"addr"`
}

// ReplicationConfig tunes the replication engine's lag thresholds and the
// follower pull loop's backoff.
type ReplicationConfig struct {
	MinInSyncReplicas      int     `koanf:"min.in.sync.replicas"`
	MaxLagOffsets          int64   `koanf:"max.lag.offsets"`
	MaxLagTimeMs           int64   `koanf:"max.lag.time.ms"`
	ReconnectBackoffMinMs  int64   `koanf:"reconnect.backoff.min.ms"`
	ReconnectBackoffMaxMs  int64   `koanf:"reconnect.backoff.max.ms"`
	ReconnectBackoffFactor float64 `koanf:"reconnect.backoff.factor"`
	MaxIdlePullIntervalMs  int64   `koanf:"max.idle.pull.interval.ms"`
}

// MaxLagTime returns the lag-time threshold as a duration.
func (c ReplicationConfig) MaxLagTime() time.Duration {
	return time.Duration(c.MaxLagTimeMs) * time.Millisecond
}

// ProducerConfig tunes client-side batching and delivery.
type ProducerConfig struct {
	BatchSizeMax   int    `koanf:"batch.size.max"`
	LingerMs       int64  `koanf:"linger.ms"`
	TimeoutMs      int64  `koanf:"timeout.ms"`
	Delivery       string `koanf:"delivery"` // at-most-once, at-least-once
	RetryMaxDelays int    `koanf:"retry.max.delays"`
	Compression    string `koanf:"compression"` // none, gzip, snappy, lz4, zstd
}

// ConsumerConfig tunes the consumer stream's offset management.
type ConsumerConfig struct {
	OffsetStrategy       string `koanf:"offset.strategy"` // none, manual, auto
	FlushPeriodMs        int64  `koanf:"flush.period.ms"`
	FlusherCheckPeriodMs int64  `koanf:"flusher.check.period.ms"`
	MaxFetchBytes        int    `koanf:"max.fetch.bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// ThrottleConfig holds byte-rate limiting configuration.
type ThrottleConfig struct {
	Producer RateConfig            `koanf:"producer"`
	Consumer RateConfig            `koanf:"consumer"`
	Dynamic  DynamicThrottleConfig `koanf:"dynamic"`
}

// RateConfig is one direction's byte-rate limit.
type RateConfig struct {
	BytesPerSecond int64 `koanf:"bytes.per.second"`
	Burst          int   `koanf:"burst"`
}

// DynamicThrottleConfig holds dynamic throttle adjustment configuration.
type DynamicThrottleConfig struct {
	Enabled         bool    `koanf:"enabled"`
	CheckIntervalMs int     `koanf:"check.interval.ms"`
	MinRate         int64   `koanf:"min.rate"`
	MaxRate         int64   `koanf:"max.rate"`
	TargetUtilPct   float64 `koanf:"target.util.pct"`
	AdjustmentStep  float64 `koanf:"adjustment.step"`
}

// Load loads configuration from file and environment variables. Environment
// variables use the FLUXLOG_ prefix with underscores mapping to dots:
// FLUXLOG_SPU_ID=2 sets spu.id.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		slog.Info("loaded config from file", "path", configPath)
	}

	if err := k.Load(env.Provider("FLUXLOG_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "FLUXLOG_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	// Field tags inside each section are dotted paths ("rpc.port"), so each
	// section is decoded from its flattened sub-tree.
	var cfg Config
	for path, dst := range map[string]interface{}{
		"spu": &cfg.SPU, "replication": &cfg.Replication, "producer": &cfg.Producer,
		"consumer": &cfg.Consumer, "logging": &cfg.Logging, "metrics": &cfg.Metrics,
		"throttle.producer": &cfg.Throttle.Producer, "throttle.consumer": &cfg.Throttle.Consumer,
		"throttle.dynamic": &cfg.Throttle.Dynamic,
	} {
		if err := k.UnmarshalWithConf(path, dst, koanf.UnmarshalConf{FlatPaths: true}); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.SPU.ID == 0 {
		cfg.SPU.ID = 1
	}
	if cfg.SPU.RPCHost == "" {
		cfg.SPU.RPCHost = "0.0.0.0"
	}
	if cfg.SPU.RPCPort == 0 {
		cfg.SPU.RPCPort = 9005
	}
	if cfg.SPU.AdminHost == "" {
		cfg.SPU.AdminHost = "0.0.0.0"
	}
	if cfg.SPU.AdminPort == 0 {
		cfg.SPU.AdminPort = 9006
	}
	if cfg.SPU.DataDir == "" {
		cfg.SPU.DataDir = "/var/lib/fluxlog"
	}

	if cfg.Replication.MinInSyncReplicas == 0 {
		cfg.Replication.MinInSyncReplicas = 1
	}
	if cfg.Replication.MaxLagOffsets == 0 {
		cfg.Replication.MaxLagOffsets = 4 * 1024 * 1024
	}
	if cfg.Replication.MaxLagTimeMs == 0 {
		cfg.Replication.MaxLagTimeMs = 10000
	}
	if cfg.Replication.ReconnectBackoffMinMs == 0 {
		cfg.Replication.ReconnectBackoffMinMs = 100
	}
	if cfg.Replication.ReconnectBackoffMaxMs == 0 {
		cfg.Replication.ReconnectBackoffMaxMs = 10000
	}
	if cfg.Replication.ReconnectBackoffFactor == 0 {
		cfg.Replication.ReconnectBackoffFactor = 2.0
	}
	if cfg.Replication.MaxIdlePullIntervalMs == 0 {
		cfg.Replication.MaxIdlePullIntervalMs = 30000
	}

	if cfg.Producer.BatchSizeMax == 0 {
		cfg.Producer.BatchSizeMax = 16 * 1024
	}
	if cfg.Producer.LingerMs == 0 {
		cfg.Producer.LingerMs = 100
	}
	if cfg.Producer.TimeoutMs == 0 {
		cfg.Producer.TimeoutMs = 30000
	}
	if cfg.Producer.Delivery == "" {
		cfg.Producer.Delivery = "at-least-once"
	}
	if cfg.Producer.RetryMaxDelays == 0 {
		cfg.Producer.RetryMaxDelays = 4
	}
	if cfg.Producer.Compression == "" {
		cfg.Producer.Compression = "none"
	}

	if cfg.Consumer.OffsetStrategy == "" {
		cfg.Consumer.OffsetStrategy = "auto"
	}
	if cfg.Consumer.FlushPeriodMs == 0 {
		cfg.Consumer.FlushPeriodMs = 10000
	}
	if cfg.Consumer.FlusherCheckPeriodMs == 0 {
		cfg.Consumer.FlusherCheckPeriodMs = 100
	}
	if cfg.Consumer.MaxFetchBytes == 0 {
		cfg.Consumer.MaxFetchBytes = 1024 * 1024
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Throttle.Producer.BytesPerSecond == 0 {
		cfg.Throttle.Producer.BytesPerSecond = 10 * 1024 * 1024
	}
	if cfg.Throttle.Producer.Burst == 0 {
		cfg.Throttle.Producer.Burst = int(cfg.Throttle.Producer.BytesPerSecond * 2)
	}
	if cfg.Throttle.Consumer.BytesPerSecond == 0 {
		cfg.Throttle.Consumer.BytesPerSecond = 10 * 1024 * 1024
	}
	if cfg.Throttle.Consumer.Burst == 0 {
		cfg.Throttle.Consumer.Burst = int(cfg.Throttle.Consumer.BytesPerSecond * 2)
	}
	if cfg.Throttle.Dynamic.CheckIntervalMs == 0 {
		cfg.Throttle.Dynamic.CheckIntervalMs = 5000
	}
	if cfg.Throttle.Dynamic.MinRate == 0 {
		cfg.Throttle.Dynamic.MinRate = 1024 * 1024
	}
	if cfg.Throttle.Dynamic.MaxRate == 0 {
		cfg.Throttle.Dynamic.MaxRate = 100 * 1024 * 1024
	}
	if cfg.Throttle.Dynamic.TargetUtilPct == 0 {
		cfg.Throttle.Dynamic.TargetUtilPct = 0.80
	}
	if cfg.Throttle.Dynamic.AdjustmentStep == 0 {
		cfg.Throttle.Dynamic.AdjustmentStep = 0.10
	}
}

func validate(cfg *Config) error {
	if cfg.SPU.ID < 0 {
		return fmt.Errorf("invalid spu id: %d", cfg.SPU.ID)
	}
	if cfg.SPU.RPCPort < 1 || cfg.SPU.RPCPort > 65535 {
		return fmt.Errorf("invalid rpc port: %d", cfg.SPU.RPCPort)
	}
	if cfg.SPU.AdminPort < 1 || cfg.SPU.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", cfg.SPU.AdminPort)
	}

	if len(cfg.SPU.Peers) > 0 {
		found := false
		seen := make(map[int32]bool, len(cfg.SPU.Peers))
		for _, peer := range cfg.SPU.Peers {
			if seen[peer.ID] {
				return fmt.Errorf("duplicate peer id %d", peer.ID)
			}
			seen[peer.ID] = true
			if peer.Addr == "" {
				return fmt.Errorf("peer %d is missing an address", peer.ID)
			}
			if peer.ID == cfg.SPU.ID {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("spu id %d not found in peers list", cfg.SPU.ID)
		}
	}

	if cfg.Replication.MinInSyncReplicas < 1 {
		return fmt.Errorf("min.in.sync.replicas must be >= 1, got %d", cfg.Replication.MinInSyncReplicas)
	}
	if cfg.Replication.ReconnectBackoffFactor < 1 {
		return fmt.Errorf("reconnect.backoff.factor must be >= 1, got %f", cfg.Replication.ReconnectBackoffFactor)
	}
	if cfg.Replication.ReconnectBackoffMinMs > cfg.Replication.ReconnectBackoffMaxMs {
		return fmt.Errorf("reconnect.backoff.min.ms (%d) exceeds reconnect.backoff.max.ms (%d)",
			cfg.Replication.ReconnectBackoffMinMs, cfg.Replication.ReconnectBackoffMaxMs)
	}

	switch cfg.Producer.Delivery {
	case "at-most-once", "at-least-once":
	default:
		return fmt.Errorf("invalid producer delivery: %s (must be at-most-once or at-least-once)", cfg.Producer.Delivery)
	}

	validCompression := map[string]bool{"none": true, "gzip": true, "snappy": true, "lz4": true, "zstd": true}
	if !validCompression[cfg.Producer.Compression] {
		return fmt.Errorf("invalid producer compression: %s", cfg.Producer.Compression)
	}

	switch cfg.Consumer.OffsetStrategy {
	case "none", "manual", "auto":
	default:
		return fmt.Errorf("invalid consumer offset strategy: %s (must be none, manual, or auto)", cfg.Consumer.OffsetStrategy)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}
