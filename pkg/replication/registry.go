// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

// role describes which state machine, if any, currently owns a replica's
// log store.
type role int

const (
	roleNone role = iota
	roleLeader
	roleFollower
)

// replicaEntry is the registry's bookkeeping for one partition. mu
// serializes role transitions (promotion/demotion) for this replica only,
// so reconciling one partition never blocks on another (C6's per-replica
// guard, grounded on the teacher's per-group coordinator locking).
type replicaEntry struct {
	mu sync.Mutex

	store *log.Store
	role  role

	leader   *LeaderReplica
	follower *FollowerReplica
	cancel   context.CancelFunc
	done     chan struct{} // closed when the follower's Run goroutine exits
}

// Registry tracks every replica hosted by this SPU, leader or follower,
// keyed by ID. It is the generalization of the teacher's ReplicaManager: one
// broker-wide map guarded by a single RWMutex for membership, with
// per-entry locks guarding the leader/follower role switch.
type Registry struct {
	selfID int32
	logger *zap.Logger

	mu       sync.RWMutex
	replicas map[ID]*replicaEntry
}

// NewRegistry creates an empty registry for the SPU identified by selfID.
func NewRegistry(selfID int32, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		selfID:   selfID,
		logger:   logger.With(zap.Int32("self_id", selfID)),
		replicas: make(map[ID]*replicaEntry),
	}
}

func (r *Registry) entry(id ID) (*replicaEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.replicas[id]
	return e, ok
}

func (r *Registry) entryOrCreate(id ID, store *log.Store) *replicaEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.replicas[id]
	if !ok {
		e = &replicaEntry{store: store}
		r.replicas[id] = e
	}
	return e
}

// Leader returns the LeaderReplica for id, if this SPU currently leads it.
func (r *Registry) Leader(id ID) (*LeaderReplica, bool) {
	e, ok := r.entry(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != roleLeader {
		return nil, false
	}
	return e.leader, true
}

// Follower returns the FollowerReplica for id, if this SPU currently
// follows it.
func (r *Registry) Follower(id ID) (*FollowerReplica, bool) {
	e, ok := r.entry(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != roleFollower {
		return nil, false
	}
	return e.follower, true
}

// IDs returns every replica ID currently tracked, in no particular order.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ID, 0, len(r.replicas))
	for id := range r.replicas {
		out = append(out, id)
	}
	return out
}

// remove stops whatever role id currently holds and drops it from the
// registry. Used when the control plane no longer assigns this SPU to id.
func (r *Registry) remove(id ID) {
	r.mu.Lock()
	e, ok := r.replicas[id]
	if ok {
		delete(r.replicas, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	r.stopLocked(e)
}

func (r *Registry) stopLocked(e *replicaEntry) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.follower != nil {
		e.follower.Stop()
		if e.done != nil {
			<-e.done
			e.done = nil
		}
		e.follower = nil
	}
	e.leader = nil
	e.role = roleNone
}

// Close stops every hosted replica.
func (r *Registry) Close() error {
	r.mu.Lock()
	ids := make([]ID, 0, len(r.replicas))
	for id := range r.replicas {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.remove(id)
	}
	return nil
}
