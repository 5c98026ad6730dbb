// Copyright 2026 Fluxlog, Inc.

// Package log provides the minimal log-store contract the replication
// engine depends on. The on-disk segment format and index structures are
// out of scope for this module (they belong to the storage layer proper);
// Store is an in-memory stand-in that satisfies the same append/read/LEO
// contract a segment-backed implementation would.
package log

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOffsetNotFound is returned when a read targets an offset this store
// never held (already trimmed, or beyond the log end offset).
var ErrOffsetNotFound = errors.New("log: offset not found")

// Record is a single message within a RecordBatch.
type Record struct {
	Key       []byte
	Value     []byte
	Timestamp int64
}

// Batch is an appended record batch. BaseOffset is assigned by the Store on
// Append; Records is the opaque payload the replication engine copies
// byte-for-byte between leader and follower.
type Batch struct {
	BaseOffset int64
	Records    []Record
}

// LastOffsetDelta is last_offset_delta from the data model: the offset of
// the final record in the batch, relative to BaseOffset.
func (b Batch) LastOffsetDelta() int64 {
	if len(b.Records) == 0 {
		return 0
	}
	return int64(len(b.Records)) - 1
}

// NextOffset is the offset one past the last record in the batch.
func (b Batch) NextOffset() int64 {
	return b.BaseOffset + int64(len(b.Records))
}

// Config configures a Store.
type Config struct {
	// InitialCapacity hints at the expected number of batches, to size the
	// backing slice; purely an allocation optimization.
	InitialCapacity int
}

// Store is an exclusive-owner, append-only sequence of record batches for a
// single replica. It is safe for concurrent use: Append/Truncate take a
// write lock, Read/ReadRange/LEO take a read lock.
//
// Store holds everything in memory. A production deployment would back
// this with segment files and time/offset indexes (explicitly out of
// scope here); the interface is what the replication engine is written
// against, so swapping in a disk-backed implementation later does not
// touch pkg/replication.
type Store struct {
	mu      sync.RWMutex
	batches []Batch
	leo     int64
}

// NewStore creates an empty log store.
func NewStore(cfg Config) *Store {
	cap := cfg.InitialCapacity
	if cap < 0 {
		cap = 0
	}
	return &Store{batches: make([]Batch, 0, cap)}
}

// Append assigns BaseOffset = current LEO and appends the batch. The
// caller's BaseOffset field, if set, is overwritten: offset assignment is
// the store's responsibility, matching the leader-serializes-appends
// invariant (I: base_offset == previous_LEO).
func (s *Store) Append(records []Record) (Batch, error) {
	if len(records) == 0 {
		return Batch{}, fmt.Errorf("log: cannot append empty batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := Batch{BaseOffset: s.leo, Records: records}
	s.batches = append(s.batches, b)
	s.leo = b.NextOffset()
	return b, nil
}

// AppendAt appends a batch whose base offset is dictated by the caller
// (the follower path: it must match the leader's assignment exactly).
// Returns an error if baseOffset != current LEO, which the follower
// interprets as a truncation signal (see pkg/replication/follower.go).
func (s *Store) AppendAt(baseOffset int64, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if baseOffset != s.leo {
		return fmt.Errorf("log: append at %d, expected %d: %w", baseOffset, s.leo, errBaseOffsetMismatch)
	}

	b := Batch{BaseOffset: baseOffset, Records: records}
	s.batches = append(s.batches, b)
	s.leo = b.NextOffset()
	return nil
}

var errBaseOffsetMismatch = errors.New("base offset mismatch")

// IsBaseOffsetMismatch reports whether err indicates AppendAt was called
// with a base offset that does not match the store's LEO.
func IsBaseOffsetMismatch(err error) bool {
	return errors.Is(err, errBaseOffsetMismatch)
}

// Truncate discards all batches at or after offset, used by a follower that
// detects divergence from the leader (I4).
func (s *Store) Truncate(offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.batches)
	for i, b := range s.batches {
		if b.BaseOffset >= offset {
			idx = i
			break
		}
	}
	s.batches = s.batches[:idx]
	s.leo = offset
}

// Read returns the batch whose base offset exactly matches offset.
func (s *Store) Read(offset int64) (Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.findIndex(offset)
	if idx < 0 {
		return Batch{}, ErrOffsetNotFound
	}
	return s.batches[idx], nil
}

// ReadRange returns the contiguous run of batches starting at the first
// batch whose base offset is >= fromOffset, up to endOffset (exclusive),
// stopping once maxBatches batches have been collected (0 = unlimited).
// This is the zero-copy view write_record_set/read_records describes;
// the returned slice is newly allocated, but each batch's Records share the
// store's own data and must not be mutated by the caller.
func (s *Store) ReadRange(fromOffset, endOffset int64, maxBatches int) []Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Batch
	for _, b := range s.batches {
		if b.BaseOffset < fromOffset {
			continue
		}
		if b.BaseOffset >= endOffset {
			break
		}
		out = append(out, b)
		if maxBatches > 0 && len(out) >= maxBatches {
			break
		}
	}
	return out
}

// LEO returns the log end offset: the offset the next appended batch will
// receive.
func (s *Store) LEO() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leo
}

// NumBatches returns the number of retained batches, for diagnostics/tests.
func (s *Store) NumBatches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches)
}

func (s *Store) findIndex(offset int64) int {
	for i, b := range s.batches {
		if b.BaseOffset == offset {
			return i
		}
	}
	return -1
}
