package modelscan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a model availability scan.
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StateReady    State = "ready"
	StateError    State = "error"
)

// Status is the live progress record a scan persists after every state
// transition. Consumers poll it; they never mutate it.
type Status struct {
	State     State  `json:"state"`
	Total     int    `json:"total"`
	Checked   int    `json:"checked"`
	Usable    int    `json:"usable"`
	HasCache  bool   `json:"has_cache"`
	Locked    bool   `json:"locked"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// writeStatus overwrites the status file. HasCache/Locked are derived
// from file presence at write time. Write failures are telemetry loss,
// not scan failures.
func (s *Scanner) writeStatus(st Status) {
	st.HasCache = fileExists(s.cachePath())
	st.Locked = fileExists(s.lockPath())
	st.Timestamp = time.Now().UTC().Format(time.RFC3339)

	if err := writeJSONAtomic(s.statusPath(), st); err != nil {
		s.log.Warn("could not write scan status", zap.Error(err))
	}
}

// ReadStatus returns the last persisted status record, or a synthesized
// default when none exists: ready if a cache file is present, idle
// otherwise. It never touches the scan lock.
func (s *Scanner) ReadStatus() Status {
	if data, err := os.ReadFile(s.statusPath()); err == nil {
		var st Status
		if json.Unmarshal(data, &st) == nil {
			return st
		}
	}

	state := StateIdle
	if fileExists(s.cachePath()) {
		state = StateReady
	}
	return Status{
		State:    state,
		HasCache: fileExists(s.cachePath()),
		Locked:   fileExists(s.lockPath()),
	}
}

// writeJSONAtomic writes v to path via a temp file and rename, so a
// concurrent reader never observes a torn document.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".modelscan-*")
	if err != nil {
		return err
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		if werr != nil {
			return werr
		}
		return cerr
	}
	return os.Rename(tmp.Name(), path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
