// Copyright 2026 Fluxlog, Inc.

package replication

import "errors"

var (
	// ErrLogIO is returned by write_record_set when the underlying log
	// store append fails. The batch never becomes partially visible: LEO
	// does not advance.
	ErrLogIO = errors.New("replication: log append failed")

	// ErrReplicaNotFound is returned by operations addressed to a replica
	// id this SPU does not currently host.
	ErrReplicaNotFound = errors.New("replication: replica not found")

	// ErrReplicaExists names a replica id that is already hosted (as leader
	// or follower) on this SPU. The controller reconciles an already-hosted
	// replica in place and does not return it.
	ErrReplicaExists = errors.New("replication: replica already exists")

	// ErrNotLeader / ErrNotFollower name the wrong state-machine role for a
	// replica id. Registry.Leader and Registry.Follower report a role
	// mismatch through their ok result and do not return them.
	ErrNotLeader   = errors.New("replication: replica is not hosted as leader")
	ErrNotFollower = errors.New("replication: replica is not hosted as follower")

	// ErrFollowerStopped names a follower state whose Stop has been called.
	// FollowerReplica.Run returns nil after Stop and does not return it.
	ErrFollowerStopped = errors.New("replication: follower replica stopped")
)
