// Copyright 2026 Fluxlog, Inc.

// Package adminapi is the SPU's read-only diagnostics surface: replica and
// follower state, health, Prometheus metrics, and a websocket feed of
// offset movement.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fluxlog/fluxlog/pkg/health"
	"github.com/fluxlog/fluxlog/pkg/logger"
	"github.com/fluxlog/fluxlog/pkg/metrics"
	"github.com/fluxlog/fluxlog/pkg/replication"
)

// ReplicaInfo is one hosted replica's summary.
type ReplicaInfo struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Role      string `json:"role"`
	LEO       int64  `json:"leo"`
	HW        int64  `json:"hw"`
}

// FollowerInfo is the leader's view of one follower.
type FollowerInfo struct {
	FollowerID       int32 `json:"follower_id"`
	LEO              int64 `json:"leo"`
	HW               int64 `json:"hw"`
	InSync           bool  `json:"in_sync"`
	LastContactAgeMs int64 `json:"last_contact_age_ms"`
}

// Server serves the admin HTTP API.
type Server struct {
	registry *replication.Registry
	checker  *health.Checker
	logger   *logger.Logger
	server   *http.Server
}

// NewServer builds the admin server on addr over the SPU's registry and
// health checker.
func NewServer(addr string, registry *replication.Registry, checker *health.Checker, metricsPath string) *Server {
	s := &Server{
		registry: registry,
		checker:  checker,
		logger:   logger.Default().WithComponent("admin-api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/api/v1/replicas", s.handleReplicas)
	r.Get("/api/v1/replicas/{topic}/{partition}", s.handleReplica)
	r.Get("/api/v1/replicas/{topic}/{partition}/followers", s.handleFollowers)
	r.Get("/api/v1/replicas/{topic}/{partition}/watch", s.handleWatch)
	r.Get("/healthz", s.handleHealth)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, metrics.Handler())

	s.server = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start serves in the background.
func (s *Server) Start() {
	s.logger.Info("starting admin API", "addr", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin server error", "error", err)
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping admin API")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleReplicas(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	out := make([]ReplicaInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := s.replicaInfo(id); ok {
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReplica(w http.ResponseWriter, r *http.Request) {
	id, ok := s.replicaID(w, r)
	if !ok {
		return
	}
	info, ok := s.replicaInfo(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "replica not hosted"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	id, ok := s.replicaID(w, r)
	if !ok {
		return
	}
	leader, isLeader := s.registry.Leader(id)
	if !isLeader {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not led by this spu"})
		return
	}

	snapshot := leader.FollowersInfo()
	out := make([]FollowerInfo, 0, len(snapshot))
	for followerID, snap := range snapshot {
		out = append(out, FollowerInfo{
			FollowerID:       followerID,
			LEO:              snap.LEO,
			HW:               snap.HW,
			InSync:           snap.InSync,
			LastContactAgeMs: snap.LastContactAge.Milliseconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FollowerID < out[j].FollowerID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	check := s.checker.Check()
	status := http.StatusOK
	if check.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, check)
}

func (s *Server) replicaID(w http.ResponseWriter, r *http.Request) (replication.ID, bool) {
	partition, err := strconv.ParseInt(chi.URLParam(r, "partition"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid partition"})
		return replication.ID{}, false
	}
	return replication.ID{Topic: chi.URLParam(r, "topic"), Partition: int32(partition)}, true
}

func (s *Server) replicaInfo(id replication.ID) (ReplicaInfo, bool) {
	if leader, ok := s.registry.Leader(id); ok {
		return ReplicaInfo{
			Topic:     id.Topic,
			Partition: id.Partition,
			Role:      "leader",
			LEO:       leader.LEO(),
			HW:        leader.HW(),
		}, true
	}
	if follower, ok := s.registry.Follower(id); ok {
		return ReplicaInfo{
			Topic:     id.Topic,
			Partition: id.Partition,
			Role:      "follower",
			LEO:       follower.LEO(),
			HW:        follower.HW(),
		}, true
	}
	return ReplicaInfo{}, false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// offsetUpdate is one websocket frame on the watch feed.
type offsetUpdate struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	LEO       int64     `json:"leo"`
	HW        int64     `json:"hw"`
	At        time.Time `json:"at"`
}
