// Copyright 2026 Fluxlog, Inc.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/fluxlog/fluxlog/pkg/adminapi"
	"github.com/fluxlog/fluxlog/pkg/config"
	"github.com/fluxlog/fluxlog/pkg/health"
	"github.com/fluxlog/fluxlog/pkg/logger"
	"github.com/fluxlog/fluxlog/pkg/metrics"
	"github.com/fluxlog/fluxlog/pkg/replication"
	"github.com/fluxlog/fluxlog/pkg/rpcapi"
	storagelog "github.com/fluxlog/fluxlog/pkg/storage/log"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/fluxlog-spu.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Fluxlog SPU version %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.SetDefault(log)

	log.Info("starting Fluxlog SPU",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"spu_id", cfg.SPU.ID,
	)

	registry := replication.NewRegistry(cfg.SPU.ID, nil)

	// Peer address map for follower pulls toward remote leaders.
	peers := make(map[int32]string, len(cfg.SPU.Peers))
	for _, peer := range cfg.SPU.Peers {
		peers[peer.ID] = peer.Addr
	}

	// The leader lookup tracks the most recently applied replica set.
	var currentAssignment atomic.Pointer[map[replication.ID]replication.Config]
	empty := map[replication.ID]replication.Config{}
	currentAssignment.Store(&empty)

	pool := rpcapi.NewPool(peers, func(topic string, partition int32) (int32, error) {
		assignment := *currentAssignment.Load()
		if rc, ok := assignment[replication.ID{Topic: topic, Partition: partition}]; ok {
			return rc.LeaderID, nil
		}
		return 0, fmt.Errorf("no leader known for %s/%d", topic, partition)
	})
	defer pool.Close()

	controller := replication.NewController(cfg.SPU.ID, registry,
		replication.StoreProviderFunc(func(replication.ID) (*storagelog.Store, error) {
			return storagelog.NewStore(storagelog.Config{}), nil
		}),
		pool, nil)
	defer controller.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Apply the initial replica set and re-apply on SIGHUP; the file stands
	// in for the control plane's UpdateReplica stream.
	var epoch uint64
	applyReplicaSet := func() {
		if cfg.SPU.ReplicaSetFile == "" {
			return
		}
		replicas, err := loadReplicaSet(cfg.SPU.ReplicaSetFile, cfg.Replication)
		if err != nil {
			log.Error("failed to load replica set", "path", cfg.SPU.ReplicaSetFile, "error", err)
			return
		}

		assignment := make(map[replication.ID]replication.Config, len(replicas))
		for _, rc := range replicas {
			assignment[rc.ID] = rc
		}
		currentAssignment.Store(&assignment)

		epoch++
		if err := controller.Apply(ctx, replication.UpdateReplicaRequest{Epoch: epoch, Replicas: replicas}); err != nil {
			log.Error("failed to apply replica set", "error", err)
			return
		}
		log.Info("applied replica set", "epoch", epoch, "replicas", len(replicas))
	}
	applyReplicaSet()

	// RPC surface.
	grpcServer, err := rpcapi.NewGRPCServer(fmt.Sprintf("%s:%d", cfg.SPU.RPCHost, cfg.SPU.RPCPort), registry)
	if err != nil {
		log.Fatal("failed to start gRPC server", "error", err)
	}
	go func() {
		if err := grpcServer.Start(); err != nil {
			log.Fatal("gRPC server failed", "error", err)
		}
	}()

	// Diagnostics surface.
	checker := health.NewChecker(version, registry)
	adminServer := adminapi.NewServer(
		fmt.Sprintf("%s:%d", cfg.SPU.AdminHost, cfg.SPU.AdminPort),
		registry, checker, cfg.Metrics.Path)
	adminServer.Start()

	collector := metrics.NewCollector(registry, 15*time.Second)
	collector.Start()

	sampler := metrics.NewServer(15 * time.Second)
	sampler.Start()

	// Status pump: drain leader status updates, persist {leo, hw}
	// checkpoints, and refresh metrics eagerly on HW movement.
	go statusPump(ctx, registry, collector, cfg.SPU.DataDir, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Info("reloading replica set on SIGHUP")
			applyReplicaSet()
			continue
		}
		log.Info("shutting down", "signal", sig.String())
		break
	}

	cancel()
	sampler.Stop()
	collector.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	adminServer.Stop(shutdownCtx)
	shutdownCancel()
	grpcServer.Stop()
	controller.Close()
	log.Info("shutdown complete")
}

// statusPump watches every locally-led replica for status updates and
// writes a checkpoint per advance. New leaders (from later control-plane
// epochs) are picked up on the rescan interval.
func statusPump(ctx context.Context, registry *replication.Registry, collector *metrics.Collector, dataDir string, log *logger.Logger) {
	watched := make(map[replication.ID]bool)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, id := range registry.IDs() {
			if watched[id] {
				continue
			}
			leader, ok := registry.Leader(id)
			if !ok {
				continue
			}
			watched[id] = true

			go func(id replication.ID, leader *replication.LeaderReplica) {
				path := filepath.Join(dataDir, fmt.Sprintf("%s.checkpoint", id))
				os.MkdirAll(filepath.Dir(path), 0o755)

				for {
					status, err := leader.NextStatusUpdate(ctx)
					if err != nil {
						return
					}
					if err := storagelog.SaveCheckpoint(path, storagelog.Checkpoint{LEO: status.LEO, HW: status.HW}); err != nil {
						log.Warn("checkpoint save failed", "replica", id.String(), "error", err)
					}
					collector.Collect()
				}
			}(id, leader)
		}
	}
}

// replicaSetFile is the YAML shape of the control-plane stub file.
type replicaSetFile struct {
	Replicas []struct {
		Topic             string  `koanf:"topic"`
		Partition         int32   `koanf:"partition"`
		LeaderID          int32   `koanf:"leader"`
		Replicas          []int32 `koanf:"replicas"`
		MinInSyncReplicas int     `koanf:"min.in.sync.replicas"`
	} `koanf:"replicas"`
}

func loadReplicaSet(path string, repl config.ReplicationConfig) ([]replication.Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load replica set: %w", err)
	}

	var parsed replicaSetFile
	if err := k.Unmarshal("", &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal replica set: %w", err)
	}

	out := make([]replication.Config, 0, len(parsed.Replicas))
	for _, r := range parsed.Replicas {
		minISR := r.MinInSyncReplicas
		if minISR < 1 {
			minISR = repl.MinInSyncReplicas
		}
		cfg := replication.Config{
			ID:                replication.ID{Topic: r.Topic, Partition: r.Partition},
			LeaderID:          r.LeaderID,
			Replicas:          r.Replicas,
			MinInSyncReplicas: minISR,

			MaxLagOffsets:          repl.MaxLagOffsets,
			MaxLagTime:             repl.MaxLagTime(),
			ReconnectBackoffMin:    time.Duration(repl.ReconnectBackoffMinMs) * time.Millisecond,
			ReconnectBackoffMax:    time.Duration(repl.ReconnectBackoffMaxMs) * time.Millisecond,
			ReconnectBackoffFactor: repl.ReconnectBackoffFactor,
			MaxIdlePullInterval:    time.Duration(repl.MaxIdlePullIntervalMs) * time.Millisecond,
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}
