// Copyright 2026 Fluxlog, Inc.

package metrics

import (
	"time"

	"github.com/fluxlog/fluxlog/pkg/logger"
	"github.com/fluxlog/fluxlog/pkg/replication"
)

// Collector periodically samples every leader replica hosted by this SPU
// and publishes LEO/HW/follower-lag gauges.
type Collector struct {
	registry *replication.Registry
	logger   *logger.Logger
	stopChan chan struct{}
	interval time.Duration
}

// NewCollector creates a collector over registry. interval <= 0 defaults to
// 30s.
func NewCollector(registry *replication.Registry, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &Collector{
		registry: registry,
		logger:   logger.Default().WithComponent("metrics-collector"),
		stopChan: make(chan struct{}),
		interval: interval,
	}
}

// Start begins periodic collection.
func (c *Collector) Start() {
	go c.collectLoop()
	c.logger.Info("metrics collector started", "interval", c.interval)
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopChan)
	c.logger.Info("metrics collector stopped")
}

func (c *Collector) collectLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopChan:
			return
		}
	}
}

// Collect samples every locally-led replica once. Exposed so tests and the
// SPU's status pump can force a sample without waiting out the interval.
func (c *Collector) Collect() {
	for _, id := range c.registry.IDs() {
		leader, ok := c.registry.Leader(id)
		if !ok {
			continue
		}

		leo, hw := leader.LEO(), leader.HW()
		UpdateReplicaOffsets(id.Topic, id.Partition, leo, hw)

		for followerID, snap := range leader.FollowersInfo() {
			lag := leo - snap.LEO
			if snap.LEO == replication.UnknownLEO {
				lag = leo
			}
			UpdateFollowerLag(id.Topic, id.Partition, followerID, lag, snap.InSync)
		}
	}
}
