// Copyright 2026 Fluxlog, Inc.

package replication

import "fmt"

// AssignReplicas spreads a topic's partitions across spus round-robin,
// rotating the start index per partition so leadership is distributed.
// The first replica of each partition is its leader. The control-plane
// stub in cmd uses this to turn a static topology into per-partition
// Configs; a real metadata service would do its own placement.
func AssignReplicas(topic string, numPartitions int32, spus []int32, replicationFactor int, minInSync int) ([]Config, error) {
	if len(spus) == 0 {
		return nil, fmt.Errorf("replication: no spus available for assignment")
	}
	if replicationFactor <= 0 {
		return nil, fmt.Errorf("replication: replication factor must be positive, got %d", replicationFactor)
	}
	if replicationFactor > len(spus) {
		return nil, fmt.Errorf("replication: replication factor %d exceeds spu count %d", replicationFactor, len(spus))
	}
	if minInSync < 1 {
		minInSync = 1
	}

	configs := make([]Config, 0, numPartitions)
	for partition := int32(0); partition < numPartitions; partition++ {
		start := int(partition) % len(spus)

		replicas := make([]int32, 0, replicationFactor)
		for i := 0; i < replicationFactor; i++ {
			replicas = append(replicas, spus[(start+i)%len(spus)])
		}

		configs = append(configs, Config{
			ID:                ID{Topic: topic, Partition: partition},
			LeaderID:          replicas[0],
			Replicas:          replicas,
			MinInSyncReplicas: minInSync,
		})
	}
	return configs, nil
}

// ValidateAssignment checks that a set of configs covers each partition of
// a topic exactly once with no duplicate replicas.
func ValidateAssignment(configs []Config, topic string, numPartitions int32) error {
	seen := make(map[int32]bool, len(configs))
	for _, cfg := range configs {
		if cfg.ID.Topic != topic {
			return fmt.Errorf("replication: config for unexpected topic %q", cfg.ID.Topic)
		}
		if seen[cfg.ID.Partition] {
			return fmt.Errorf("replication: duplicate assignment for partition %d", cfg.ID.Partition)
		}
		seen[cfg.ID.Partition] = true

		members := make(map[int32]bool, len(cfg.Replicas))
		for _, id := range cfg.Replicas {
			if members[id] {
				return fmt.Errorf("replication: partition %d lists replica %d twice", cfg.ID.Partition, id)
			}
			members[id] = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if int32(len(seen)) != numPartitions {
		return fmt.Errorf("replication: assignment covers %d partitions, expected %d", len(seen), numPartitions)
	}
	return nil
}
