// Copyright 2026 Fluxlog, Inc.

package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint is the durable {leo, hw} pair a replica records alongside its
// log so a restart can resume from the last acknowledged position without
// rescanning segments.
type Checkpoint struct {
	LEO int64 `json:"leo"`
	HW  int64 `json:"hw"`
}

// SaveCheckpoint writes cp to path atomically: the JSON is written to a
// temp file in the same directory and renamed over the target, so a crash
// mid-write leaves the previous checkpoint intact.
func SaveCheckpoint(path string, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("log: marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("log: create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("log: write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("log: sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("log: close checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("log: install checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint at path. A missing file is not an
// error: it returns a zero checkpoint and false, the state of a replica
// that has never acknowledged anything.
func LoadCheckpoint(path string) (Checkpoint, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("log: read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("log: decode checkpoint: %w", err)
	}
	if cp.HW > cp.LEO || cp.LEO < 0 {
		return Checkpoint{}, false, fmt.Errorf("log: corrupt checkpoint: leo=%d hw=%d", cp.LEO, cp.HW)
	}
	return cp, true, nil
}
