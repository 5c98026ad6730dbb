// Copyright 2026 Fluxlog, Inc.

package metrics

import (
	"strconv"
	"time"
)

// UpdateReplicaOffsets records a leader replica's current LEO and HW.
func UpdateReplicaOffsets(topic string, partition int32, leo, hw int64) {
	partitionStr := strconv.Itoa(int(partition))
	ReplicaLogEndOffset.WithLabelValues(topic, partitionStr).Set(float64(leo))
	ReplicaHighWatermark.WithLabelValues(topic, partitionStr).Set(float64(hw))
}

// UpdateFollowerLag records one follower's lag behind the leader LEO and
// its ISR membership.
func UpdateFollowerLag(topic string, partition int32, followerID int32, lag int64, inSync bool) {
	partitionStr := strconv.Itoa(int(partition))
	followerStr := strconv.Itoa(int(followerID))

	ReplicaFollowerLag.WithLabelValues(topic, partitionStr, followerStr).Set(float64(lag))

	inSyncVal := 0.0
	if inSync {
		inSyncVal = 1.0
	}
	ReplicaFollowerInSync.WithLabelValues(topic, partitionStr, followerStr).Set(inSyncVal)
}

// RecordFollowerFetch counts one follower fetch served by a local leader.
func RecordFollowerFetch(topic string, partition int32) {
	FollowerFetchesTotal.WithLabelValues(topic, strconv.Itoa(int(partition))).Inc()
}

// RecordProducerBatch records one completed producer batch.
func RecordProducerBatch(topic string, partition int32, records int, bytes int64, elapsed time.Duration) {
	partitionStr := strconv.Itoa(int(partition))

	ProducerBatchesTotal.WithLabelValues(topic).Inc()
	ProducerRecordsTotal.WithLabelValues(topic, partitionStr).Add(float64(records))
	ProducerBytesTotal.WithLabelValues(topic).Add(float64(bytes))
	ProducerBatchDuration.WithLabelValues(topic).Observe(elapsed.Seconds())
}

// RecordProducerRetry counts one retried produce attempt.
func RecordProducerRetry(topic string) {
	ProducerRetriesTotal.WithLabelValues(topic).Inc()
}

// RecordConsumerRecord counts one record yielded to a consumer.
func RecordConsumerRecord(topic string, partition int32) {
	ConsumerRecordsTotal.WithLabelValues(topic, strconv.Itoa(int(partition))).Inc()
}

// UpdateCommittedOffset records the last committed offset for a consumed
// partition.
func UpdateCommittedOffset(topic string, partition int32, offset int64) {
	ConsumerCommittedOffset.WithLabelValues(topic, strconv.Itoa(int(partition))).Set(float64(offset))
}

// RecordConsumerFlush records one managed-offset flush attempt.
func RecordConsumerFlush(elapsed time.Duration, err error) {
	ConsumerFlushDuration.Observe(elapsed.Seconds())
	if err != nil {
		ConsumerFlushErrorsTotal.Inc()
	}
}
