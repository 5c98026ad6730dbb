// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

// UpdateReplicaRequest is the control plane's desired-state message: the
// full set of replica assignments that should exist, for every replica this
// SPU participates in. Reconciliation is diff-based against the registry.
type UpdateReplicaRequest struct {
	Epoch    uint64
	Replicas []Config
}

// ControlPlaneSource delivers desired-state updates to the controller. The
// metadata service itself is out of scope; cmd wires a config-file stub and
// tests drive the controller directly through Apply.
type ControlPlaneSource interface {
	Updates() <-chan UpdateReplicaRequest
}

// StoreProvider opens the log store for a replica that is being created on
// this SPU. During promotion the existing store is handed over instead, so
// the provider is only consulted for replicas the SPU has never hosted.
type StoreProvider interface {
	OpenStore(id ID) (*log.Store, error)
}

// StoreProviderFunc adapts a function to the StoreProvider interface.
type StoreProviderFunc func(id ID) (*log.Store, error)

func (f StoreProviderFunc) OpenStore(id ID) (*log.Store, error) { return f(id) }

// LeaderDialer produces a FollowerFetchClient connected to the SPU that
// leads a replica. pkg/rpcapi provides the gRPC-backed implementation.
type LeaderDialer interface {
	DialLeader(leaderID int32, replica ID) (FollowerFetchClient, error)
}

// LeaderDialerFunc adapts a function to the LeaderDialer interface.
type LeaderDialerFunc func(leaderID int32, replica ID) (FollowerFetchClient, error)

func (f LeaderDialerFunc) DialLeader(leaderID int32, replica ID) (FollowerFetchClient, error) {
	return f(leaderID, replica)
}

// Controller reconciles the set of leader/follower states hosted on this
// SPU against control-plane desired state (C6). Each UpdateReplicaRequest
// carries the full desired set; the controller diffs it against the
// registry, creating, reconfiguring, promoting, demoting, and destroying
// replica states as needed.
//
// Updates for distinct replicas execute in parallel; updates for the same
// replica are strictly serialized by the registry's per-entry lock, which
// the controller holds across both halves of a promotion so no observer
// sees a replica with both roles, or neither.
type Controller struct {
	selfID   int32
	registry *Registry
	stores   StoreProvider
	dialer   LeaderDialer
	logger   *zap.Logger

	epochMu   sync.Mutex
	lastEpoch uint64

	stop *StickyEvent
	wg   sync.WaitGroup
}

// NewController creates a controller for the SPU identified by selfID,
// mutating registry as updates arrive.
func NewController(selfID int32, registry *Registry, stores StoreProvider, dialer LeaderDialer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		selfID:   selfID,
		registry: registry,
		stores:   stores,
		dialer:   dialer,
		logger:   logger.With(zap.Int32("self_id", selfID)),
		stop:     NewStickyEvent(),
	}
}

// Run consumes updates from source until ctx is cancelled or Close is
// called.
func (c *Controller) Run(ctx context.Context, source ControlPlaneSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop.Done():
			return nil
		case req, ok := <-source.Updates():
			if !ok {
				return nil
			}
			if err := c.Apply(ctx, req); err != nil {
				c.logger.Error("failed to apply replica update", zap.Uint64("epoch", req.Epoch), zap.Error(err))
			}
		}
	}
}

// Apply reconciles one desired-state message. Stale epochs (older than the
// last applied) are dropped; re-delivery of the current epoch is absorbed
// because reconciliation is idempotent.
func (c *Controller) Apply(ctx context.Context, req UpdateReplicaRequest) error {
	c.epochMu.Lock()
	if req.Epoch < c.lastEpoch {
		c.epochMu.Unlock()
		c.logger.Debug("ignoring stale replica update", zap.Uint64("epoch", req.Epoch), zap.Uint64("last_epoch", c.lastEpoch))
		return nil
	}
	c.lastEpoch = req.Epoch
	c.epochMu.Unlock()

	desired := make(map[ID]Config, len(req.Replicas))
	for _, cfg := range req.Replicas {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("replica %s: %w", cfg.ID, err)
		}
		desired[cfg.ID] = cfg
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		first error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if first == nil {
			first = err
		}
		errMu.Unlock()
	}

	for _, cfg := range desired {
		wg.Add(1)
		go func(cfg Config) {
			defer wg.Done()
			record(c.reconcileOne(ctx, cfg))
		}(cfg)
	}

	// Replicas hosted locally but absent from the update are destroyed.
	for _, id := range c.registry.IDs() {
		if _, ok := desired[id]; !ok {
			wg.Add(1)
			go func(id ID) {
				defer wg.Done()
				c.logger.Info("removing replica no longer assigned", zap.String("replica", id.String()))
				c.registry.remove(id)
			}(id)
		}
	}

	wg.Wait()
	return first
}

// reconcileOne drives a single replica toward cfg. The registry entry's
// lock is held for the whole transition, serializing concurrent updates for
// the same replica id.
func (c *Controller) reconcileOne(ctx context.Context, cfg Config) error {
	shouldLead := cfg.LeaderID == c.selfID

	if !shouldLead && !c.isMember(cfg) {
		// Named in the update but this SPU is neither leader nor follower;
		// treat as removal.
		c.registry.remove(cfg.ID)
		return nil
	}

	store, err := c.ensureStore(cfg.ID)
	if err != nil {
		return err
	}

	e := c.registry.entryOrCreate(cfg.ID, store)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case shouldLead && e.role == roleLeader:
		// Already leading: reconfigure the follower set in place by
		// installing a fresh leader state over the same log when membership
		// changed, keeping LEO continuity through the store and carrying the
		// HW over.
		if !sameConfig(e.leader.Config(), cfg) {
			c.logger.Info("reconfiguring leader", zap.String("replica", cfg.ID.String()))
			hw := e.leader.HW()
			if err := c.installLeaderLocked(e, cfg); err != nil {
				return err
			}
			e.leader.HWPublisher().Update(hw)
			return nil
		}
		return nil

	case shouldLead && e.role == roleFollower:
		c.logger.Info("promoting follower to leader", zap.String("replica", cfg.ID.String()))
		return c.promoteLocked(e, cfg)

	case shouldLead:
		c.logger.Info("creating leader", zap.String("replica", cfg.ID.String()))
		return c.installLeaderLocked(e, cfg)

	case e.role == roleLeader:
		c.logger.Info("demoting leader to follower", zap.String("replica", cfg.ID.String()))
		c.stopRoleLocked(e)
		return c.installFollowerLocked(ctx, e, cfg)

	case e.role == roleFollower:
		if e.follower.Leader() != cfg.LeaderID {
			c.logger.Info("follower changing leader",
				zap.String("replica", cfg.ID.String()),
				zap.Int32("old_leader", e.follower.Leader()),
				zap.Int32("new_leader", cfg.LeaderID))
			c.stopRoleLocked(e)
			return c.installFollowerLocked(ctx, e, cfg)
		}
		return nil

	default:
		c.logger.Info("creating follower", zap.String("replica", cfg.ID.String()), zap.Int32("leader", cfg.LeaderID))
		return c.installFollowerLocked(ctx, e, cfg)
	}
}

// promoteLocked executes the atomic follower-to-leader transition: quiesce
// the pull loop, then install a leader state over the same log store
// without reopening it. Must be called with e.mu held; the lock is what
// makes the remove-then-insert invisible to observers.
func (c *Controller) promoteLocked(e *replicaEntry, cfg Config) error {
	c.stopRoleLocked(e)
	return c.installLeaderLocked(e, cfg)
}

// stopRoleLocked tears down the entry's current role, waiting for the
// follower pull loop to quiesce before returning. Must be called with e.mu
// held.
func (c *Controller) stopRoleLocked(e *replicaEntry) {
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

func (c *Controller) installLeaderLocked(e *replicaEntry, cfg Config) error {
	leader, err := NewLeaderReplica(cfg, e.store, c.logger)
	if err != nil {
		return err
	}
	e.leader = leader
	e.follower = nil
	e.role = roleLeader
	return nil
}

func (c *Controller) installFollowerLocked(ctx context.Context, e *replicaEntry, cfg Config) error {
	client, err := c.dialer.DialLeader(cfg.LeaderID, cfg.ID)
	if err != nil {
		return fmt.Errorf("dial leader %d for %s: %w", cfg.LeaderID, cfg.ID, err)
	}

	follower := NewFollowerReplica(cfg, c.selfID, e.store, client, c.logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	e.follower = follower
	e.leader = nil
	e.cancel = cancel
	e.done = done
	e.role = roleFollower

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		follower.Run(runCtx)
	}()
	return nil
}

// ensureStore returns the store already registered for id, or opens a new
// one through the provider.
func (c *Controller) ensureStore(id ID) (*log.Store, error) {
	if e, ok := c.registry.entry(id); ok {
		return e.store, nil
	}
	store, err := c.stores.OpenStore(id)
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", id, err)
	}
	return store, nil
}

func (c *Controller) isMember(cfg Config) bool {
	for _, id := range cfg.Replicas {
		if id == c.selfID {
			return true
		}
	}
	return false
}

// Close stops the controller and every replica it manages, waiting for
// follower pull loops to exit.
func (c *Controller) Close() error {
	c.stop.Trigger()
	err := c.registry.Close()
	c.wg.Wait()
	return err
}

func sameConfig(a, b Config) bool {
	if a.ID != b.ID || a.LeaderID != b.LeaderID || a.MinInSyncReplicas != b.MinInSyncReplicas {
		return false
	}
	if len(a.Replicas) != len(b.Replicas) {
		return false
	}
	for i := range a.Replicas {
		if a.Replicas[i] != b.Replicas[i] {
			return false
		}
	}
	return true
}
