// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"sync"
	"time"
)

// FollowerStatus is the leader's view of one follower's replication state
// (spec.md §4.3). Only InSync contributes to the high-watermark quorum.
type FollowerStatus int

const (
	// StatusUnknown is the initial state: LEO == UnknownLEO, the follower
	// has never contacted the leader.
	StatusUnknown FollowerStatus = iota
	// StatusCatchingUp means the follower has contacted the leader but its
	// LEO trails by more than MaxLagOffsets.
	StatusCatchingUp
	// StatusInSync means the follower is within lag thresholds and counts
	// toward the ISR.
	StatusInSync
	// StatusOffline means the follower has not contacted the leader within
	// MaxLagTime; it is dropped from the ISR until it reconnects.
	StatusOffline
)

func (s FollowerStatus) String() string {
	switch s {
	case StatusCatchingUp:
		return "catching_up"
	case StatusInSync:
		return "in_sync"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// FollowerState is the leader's per-follower bookkeeping entry. It is
// created with LEO=UnknownLEO when the leader is installed and lives for
// the duration of the replica; it is never garbage collected while the
// replica exists (spec.md §4.2).
type FollowerState struct {
	// MaxLagOffsets and MaxLagTime are copied out of the owning
	// LeaderReplica's config at construction time so each follower entry
	// can evaluate its own in-sync status independently of the lock the
	// leader holds while recomputing HW.
	MaxLagOffsets int64
	MaxLagTime    time.Duration

	mu              sync.Mutex
	leo             int64
	hw              int64
	lastContactTime time.Time
}

// NewFollowerState creates an entry in the Unknown state.
func NewFollowerState(maxLagOffsets int64, maxLagTime time.Duration) *FollowerState {
	return &FollowerState{
		MaxLagOffsets: maxLagOffsets,
		MaxLagTime:    maxLagTime,
		leo:           UnknownLEO,
		hw:            UnknownLEO,
	}
}

// Update records a fetch request's reported (leo, hw) and refreshes the
// contact clock. Called under the owning leader's single-writer
// discipline.
func (f *FollowerState) Update(leo, hw int64, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leo = leo
	f.hw = hw
	f.lastContactTime = now
}

// LEO, HW return the follower's last-reported offsets.
func (f *FollowerState) LEO() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leo
}

func (f *FollowerState) HW() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hw
}

// Status evaluates the follower's state machine against the leader's
// current LEO and the clock, per spec.md §4.2/§4.3:
//
//	Unknown (LEO=-1) -> CatchingUp (leaderLEO-LEO > MaxLagOffsets) ->
//	InSync -> back to CatchingUp on lag -> Offline (no contact for
//	MaxLagTime).
func (f *FollowerState) Status(leaderLEO int64, now time.Time) FollowerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.leo == UnknownLEO {
		return StatusUnknown
	}

	if now.Sub(f.lastContactTime) > f.MaxLagTime {
		return StatusOffline
	}

	if leaderLEO-f.leo > f.MaxLagOffsets {
		return StatusCatchingUp
	}

	return StatusInSync
}

// InSync reports whether this follower currently counts toward the ISR.
func (f *FollowerState) InSync(leaderLEO int64, now time.Time) bool {
	return f.Status(leaderLEO, now) == StatusInSync
}

// Snapshot captures the current state for diagnostics/status updates.
func (f *FollowerState) Snapshot(leaderLEO int64, now time.Time) FollowerSnapshot {
	f.mu.Lock()
	leo, hw, last := f.leo, f.hw, f.lastContactTime
	f.mu.Unlock()

	age := time.Duration(0)
	if !last.IsZero() {
		age = now.Sub(last)
	}

	return FollowerSnapshot{
		LEO:            leo,
		HW:             hw,
		InSync:         f.InSync(leaderLEO, now),
		LastContactAge: age,
	}
}
