// Package modelscan determines which upstream models currently accept a
// generation request under the active API key, caching the result on
// disk and reporting live scan progress through a status file.
package modelscan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JeremySu0818/GeminiAPIChat/internal/llm"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/metrics"
)

const (
	cacheFileName  = "available_models.json"
	statusFileName = "available_models_status.json"
	lockFileName   = "available_models.lock"

	// A lock file older than this was left behind by a crashed scan and
	// is ignored. The lock is advisory either way: a concurrent writer is
	// assumed not to exist within a single process group.
	lockStaleAfter = 10 * time.Minute
)

// probeResult classifies one model probe.
type probeResult struct {
	usable bool
	reason string
}

// Scanner probes model availability and caches the usable list.
type Scanner struct {
	dir          string
	source       llm.ClientSource
	defaultModel string
	probeTimeout time.Duration
	log          *logger.Logger
}

// New creates a scanner keeping its cache, status, and lock files under
// dir.
func New(dir string, source llm.ClientSource, defaultModel string, probeTimeout time.Duration, log *logger.Logger) *Scanner {
	return &Scanner{
		dir:          dir,
		source:       source,
		defaultModel: defaultModel,
		probeTimeout: probeTimeout,
		log:          log,
	}
}

func (s *Scanner) cachePath() string  { return filepath.Join(s.dir, cacheFileName) }
func (s *Scanner) statusPath() string { return filepath.Join(s.dir, statusFileName) }
func (s *Scanner) lockPath() string   { return filepath.Join(s.dir, lockFileName) }

// AvailableModels returns the usable model list. A valid cache file is
// the fast path and short-circuits the scan entirely; otherwise a full
// enumeration-and-probe pass runs under the scan lock. The returned list
// is never empty: enumeration failure falls back to the default model.
func (s *Scanner) AvailableModels(ctx context.Context) []string {
	if cached, err := s.readCache(); err == nil && len(cached) > 0 {
		s.writeStatus(Status{
			State:   StateReady,
			Total:   len(cached),
			Checked: len(cached),
			Usable:  len(cached),
			Message: "cache hit",
		})
		return cached
	}

	defer s.releaseLock()
	s.acquireLock()

	client, err := s.source.Client()
	if err != nil {
		s.writeStatus(Status{State: StateError, Message: "client unavailable: " + err.Error()})
		metrics.ModelScansTotal.WithLabelValues("error").Inc()
		return []string{s.defaultModel}
	}

	names, err := client.ListModels(ctx)
	if err != nil {
		s.writeStatus(Status{State: StateError, Message: "list models failed: " + err.Error()})
		metrics.ModelScansTotal.WithLabelValues("error").Inc()
		return []string{s.defaultModel}
	}

	total := len(names)
	usable := make([]string, 0, total)
	s.writeStatus(Status{State: StateScanning, Total: total, Message: "priming"})

	for checked, name := range names {
		res := s.probe(ctx, client, name)
		if res.usable {
			usable = append(usable, name)
		}
		metrics.RecordProbe(res.usable)

		// Each rewrite is what a polling status reader observes as
		// progress; there is no push channel.
		s.writeStatus(Status{
			State:   StateScanning,
			Total:   total,
			Checked: checked + 1,
			Usable:  len(usable),
			Message: "checking " + name,
		})
	}

	if err := s.writeCache(usable); err != nil {
		s.log.Warn("could not write model cache", zap.Error(err))
		s.writeStatus(Status{
			State:   StateError,
			Total:   total,
			Checked: total,
			Usable:  len(usable),
			Message: "write cache failed: " + err.Error(),
		})
		metrics.ModelScansTotal.WithLabelValues("error").Inc()
		return s.nonEmpty(usable)
	}

	s.writeStatus(Status{State: StateReady, Total: total, Checked: total, Usable: len(usable), Message: "ok"})
	metrics.ModelScansTotal.WithLabelValues("ok").Inc()
	return s.nonEmpty(usable)
}

// DefaultModel returns the preferred identifier when it is usable, and
// the first usable identifier otherwise.
func (s *Scanner) DefaultModel(ctx context.Context) string {
	available := s.AvailableModels(ctx)
	for _, m := range available {
		if m == s.defaultModel {
			return m
		}
	}
	return available[0]
}

// Reping forces a fresh enumeration-and-probe pass bypassing the cache,
// rewrites the cache file, and returns the new usable list. Used after a
// key failover. An empty list is returned only when enumeration itself
// fails; errors are logged, never raised.
func (s *Scanner) Reping(ctx context.Context) []string {
	s.log.Info("rescanning model availability")

	client, err := s.source.Client()
	if err != nil {
		s.log.Error("model rescan failed", zap.Error(err))
		metrics.ModelScansTotal.WithLabelValues("error").Inc()
		return nil
	}

	names, err := client.ListModels(ctx)
	if err != nil {
		s.log.Error("model rescan failed", zap.Error(err))
		metrics.ModelScansTotal.WithLabelValues("error").Inc()
		return nil
	}

	usable := make([]string, 0, len(names))
	for _, name := range names {
		res := s.probe(ctx, client, name)
		metrics.RecordProbe(res.usable)
		if res.usable {
			usable = append(usable, name)
		} else {
			s.log.Warn("model probe failed", zap.String("model", name), zap.String("reason", res.reason))
		}
	}

	if err := s.writeCache(usable); err != nil {
		s.log.Warn("could not write model cache", zap.Error(err))
	}
	s.writeStatus(Status{State: StateReady, Total: len(names), Checked: len(names), Usable: len(usable), Message: "rescan"})
	metrics.ModelScansTotal.WithLabelValues("ok").Inc()

	s.log.Info("model cache updated", zap.Int("usable", len(usable)))
	return usable
}

// probe issues a minimal generation request against one model. Failures
// are expected here and stay silent at the per-model level; the caller
// aggregates them.
func (s *Scanner) probe(ctx context.Context, client llm.Client, name string) probeResult {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	_, err := client.Complete(pctx, &llm.CompletionRequest{
		Model:    name,
		Messages: []llm.ChatMessage{{Role: "user", Content: "Hello"}},
	})
	if err != nil {
		return probeResult{reason: err.Error()}
	}
	return probeResult{usable: true}
}

func (s *Scanner) readCache() ([]string, error) {
	data, err := os.ReadFile(s.cachePath())
	if err != nil {
		return nil, err
	}
	var models []string
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, err
	}
	return models, nil
}

func (s *Scanner) writeCache(models []string) error {
	return writeJSONAtomic(s.cachePath(), models)
}

// acquireLock creates the advisory lock file. A pre-existing lock does
// not block: within one process the caller already holds the scan path,
// and a stale file from a crashed run must not wedge the scanner.
func (s *Scanner) acquireLock() {
	if fi, err := os.Stat(s.lockPath()); err == nil {
		age := time.Since(fi.ModTime())
		if age >= lockStaleAfter {
			s.log.Warn("ignoring stale scan lock", zap.Duration("age", age))
		} else {
			s.log.Warn("scan lock already present, proceeding", zap.Duration("age", age))
		}
	}
	if err := os.WriteFile(s.lockPath(), []byte("locked"), 0o644); err != nil {
		s.log.Warn("could not create scan lock", zap.Error(err))
	}
}

// releaseLock removes the lock file. Deferred on every scan path.
func (s *Scanner) releaseLock() {
	if err := os.Remove(s.lockPath()); err != nil && !os.IsNotExist(err) {
		s.log.Warn("could not remove scan lock", zap.Error(err))
	}
}

func (s *Scanner) nonEmpty(models []string) []string {
	if len(models) == 0 {
		return []string{s.defaultModel}
	}
	return models
}
