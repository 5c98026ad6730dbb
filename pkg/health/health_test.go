// Copyright 2026 Fluxlog, Inc.

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxlog/fluxlog/pkg/replication"
	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

func newTestRegistry(t *testing.T, writes int, minISR int) *replication.Registry {
	t.Helper()

	registry := replication.NewRegistry(1, nil)
	ctrl := replication.NewController(1, registry,
		replication.StoreProviderFunc(func(replication.ID) (*log.Store, error) {
			return log.NewStore(log.Config{}), nil
		}),
		replication.LeaderDialerFunc(func(int32, replication.ID) (replication.FollowerFetchClient, error) {
			return nil, nil
		}),
		nil)
	t.Cleanup(func() { ctrl.Close() })

	cfg := replication.Config{
		ID:                replication.ID{Topic: "orders", Partition: 0},
		LeaderID:          1,
		Replicas:          []int32{1, 2},
		MinInSyncReplicas: minISR,
	}
	require.NoError(t, ctrl.Apply(context.Background(),
		replication.UpdateReplicaRequest{Epoch: 1, Replicas: []replication.Config{cfg}}))

	leader, ok := registry.Leader(cfg.ID)
	require.True(t, ok)
	for i := 0; i < writes; i++ {
		_, err := leader.WriteRecordSet([]log.Record{{Value: []byte("x")}})
		require.NoError(t, err)
	}
	return registry
}

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0-test", newTestRegistry(t, 0, 1))

	health := checker.Check()
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, "1.0.0-test", health.Version)
	assert.NotEmpty(t, health.Uptime)
	assert.NotZero(t, health.Timestamp)

	assert.Contains(t, health.Components, "replication")
	replHealth := health.Components["replication"]
	assert.Equal(t, StatusHealthy, replHealth.Status)
	assert.Equal(t, 1, replHealth.Details["leaders"])
	assert.Equal(t, 0, replHealth.Details["followers"])

	assert.NotEmpty(t, health.SystemInfo.GoVersion)
	assert.Greater(t, health.SystemInfo.NumGoroutines, 0)
	assert.Greater(t, health.SystemInfo.NumCPU, 0)
	assert.Greater(t, health.SystemInfo.MemoryMB, 0.0)
}

func TestChecker_DegradedWhenAwaitingQuorum(t *testing.T) {
	// Writes exist but the follower never reported, so HW trails LEO.
	checker := NewChecker("1.0.0", newTestRegistry(t, 2, 2))

	health := checker.Check()
	assert.Equal(t, StatusDegraded, health.Status)
	assert.Equal(t, 1, health.Components["replication"].Details["awaiting_quorum"])
}

func TestChecker_NilRegistry(t *testing.T) {
	checker := NewChecker("1.0.0", nil)
	health := checker.Check()

	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Contains(t, health.Components["replication"].Message, "not initialized")
}

func TestChecker_RegisteredProbes(t *testing.T) {
	checker := NewChecker("1.0.0", newTestRegistry(t, 0, 1))
	checker.RegisterProbe("producer", func() Component {
		return Component{Status: StatusDegraded, Message: "run loop stalled"}
	})

	health := checker.Check()
	assert.Equal(t, StatusDegraded, health.Status)
	assert.Equal(t, "run loop stalled", health.Components["producer"].Message)
}

func TestServer_Endpoints(t *testing.T) {
	checker := NewChecker("1.0.0", newTestRegistry(t, 0, 1))
	server := NewServer("127.0.0.1:0", checker)

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		var body Check
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, StatusHealthy, body.Status)
	})

	t.Run("ready", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("live", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleLiveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServer_UnhealthyStatusCode(t *testing.T) {
	server := NewServer("127.0.0.1:0", NewChecker("1.0.0", nil))

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
