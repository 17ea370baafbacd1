package modelscan

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeremySu0818/GeminiAPIChat/internal/llm"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
)

// fakeClient scripts ListModels and per-model probe outcomes.
type fakeClient struct {
	models   []string
	listErr  error
	failing  map[string]bool
	probes   int
	statuses []Status
	scanner  *Scanner
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) ListModels(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.models, nil
}

func (f *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.probes++
	if f.scanner != nil {
		// Snapshot the status file mid-scan, as a polling reader would.
		f.statuses = append(f.statuses, f.scanner.ReadStatus())
	}
	if f.failing[req.Model] {
		return nil, errors.New("model rejected probe")
	}
	return &llm.CompletionResponse{Content: "Hi"}, nil
}

type fakeSource struct {
	client llm.Client
	err    error
}

func (f *fakeSource) Client() (llm.Client, error) { return f.client, f.err }
func (f *fakeSource) Rotate() (llm.Client, error) { return f.client, f.err }

func newTestScanner(t *testing.T, client llm.Client) (*Scanner, string) {
	t.Helper()
	dir := t.TempDir()
	s := New(dir, &fakeSource{client: client}, "gemini-2.5-flash", time.Second, logger.NewNop())
	return s, dir
}

func TestCacheShortCircuit(t *testing.T) {
	client := &fakeClient{models: []string{"a", "b"}}
	s, dir := newTestScanner(t, client)

	cached := []string{"gemini-2.5-flash", "gemini-2.5-pro"}
	data, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFileName), data, 0o644))

	got := s.AvailableModels(context.Background())

	assert.Equal(t, cached, got)
	assert.Zero(t, client.probes, "cache hit must not probe")

	st := s.ReadStatus()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, len(cached), st.Checked)
	assert.Equal(t, len(cached), st.Usable)
	assert.True(t, st.HasCache)
}

func TestScanClassifiesAndCaches(t *testing.T) {
	client := &fakeClient{
		models:  []string{"good-1", "bad", "good-2"},
		failing: map[string]bool{"bad": true},
	}
	s, dir := newTestScanner(t, client)

	got := s.AvailableModels(context.Background())
	assert.Equal(t, []string{"good-1", "good-2"}, got)
	assert.Equal(t, 3, client.probes)

	// The usable list was persisted for the next call's fast path.
	data, err := os.ReadFile(filepath.Join(dir, cacheFileName))
	require.NoError(t, err)
	var persisted []string
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, got, persisted)

	st := s.ReadStatus()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Checked)
	assert.Equal(t, 2, st.Usable)
}

func TestScanProgressMonotonic(t *testing.T) {
	client := &fakeClient{
		models:  []string{"m1", "m2", "m3", "m4"},
		failing: map[string]bool{"m2": true},
	}
	s, _ := newTestScanner(t, client)
	client.scanner = s

	s.AvailableModels(context.Background())

	prev := -1
	for _, st := range client.statuses {
		assert.GreaterOrEqual(t, st.Checked, prev, "checked must be non-decreasing")
		assert.LessOrEqual(t, st.Usable, st.Checked)
		assert.LessOrEqual(t, st.Checked, st.Total)
		prev = st.Checked
	}
}

func TestEnumerationFailureFallsBack(t *testing.T) {
	client := &fakeClient{listErr: errors.New("listing unavailable")}
	s, _ := newTestScanner(t, client)

	got := s.AvailableModels(context.Background())
	assert.Equal(t, []string{"gemini-2.5-flash"}, got, "never empty on enumeration failure")

	st := s.ReadStatus()
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Message, "list models failed")
}

func TestAllProbesFailStillNonEmpty(t *testing.T) {
	client := &fakeClient{
		models:  []string{"m1", "m2"},
		failing: map[string]bool{"m1": true, "m2": true},
	}
	s, _ := newTestScanner(t, client)

	got := s.AvailableModels(context.Background())
	assert.Equal(t, []string{"gemini-2.5-flash"}, got)
}

func TestLockReleasedOnAllPaths(t *testing.T) {
	cases := []struct {
		name   string
		client *fakeClient
	}{
		{"success", &fakeClient{models: []string{"m1"}}},
		{"enumeration failure", &fakeClient{listErr: errors.New("boom")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, dir := newTestScanner(t, tc.client)
			s.AvailableModels(context.Background())
			_, err := os.Stat(filepath.Join(dir, lockFileName))
			assert.True(t, os.IsNotExist(err), "lock file must be removed")
		})
	}
}

func TestDefaultModelPrefersConfigured(t *testing.T) {
	client := &fakeClient{models: []string{"other", "gemini-2.5-flash"}}
	s, _ := newTestScanner(t, client)
	assert.Equal(t, "gemini-2.5-flash", s.DefaultModel(context.Background()))
}

func TestDefaultModelFallsBackToFirst(t *testing.T) {
	client := &fakeClient{models: []string{"alpha", "beta"}}
	s, _ := newTestScanner(t, client)
	assert.Equal(t, "alpha", s.DefaultModel(context.Background()))
}

func TestRepingBypassesCache(t *testing.T) {
	client := &fakeClient{models: []string{"fresh"}}
	s, dir := newTestScanner(t, client)

	stale, _ := json.Marshal([]string{"stale"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFileName), stale, 0o644))

	got := s.Reping(context.Background())
	assert.Equal(t, []string{"fresh"}, got)
	assert.Equal(t, 1, client.probes)

	// Cache rewritten with the fresh result.
	assert.Equal(t, []string{"fresh"}, s.AvailableModels(context.Background()))
	assert.Equal(t, 1, client.probes, "second call must hit the new cache")
}

func TestRepingTotalFailureReturnsEmpty(t *testing.T) {
	client := &fakeClient{listErr: errors.New("down")}
	s, _ := newTestScanner(t, client)
	assert.Empty(t, s.Reping(context.Background()))
}

func TestReadStatusSynthesizesDefault(t *testing.T) {
	s, dir := newTestScanner(t, &fakeClient{})

	st := s.ReadStatus()
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.HasCache)

	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFileName), []byte(`["m"]`), 0o644))
	st = s.ReadStatus()
	assert.Equal(t, StateReady, st.State)
	assert.True(t, st.HasCache)
}

func TestCorruptCacheTriggersRescan(t *testing.T) {
	client := &fakeClient{models: []string{"m1"}}
	s, dir := newTestScanner(t, client)

	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFileName), []byte("not json"), 0o644))

	got := s.AvailableModels(context.Background())
	assert.Equal(t, []string{"m1"}, got)
	assert.Equal(t, 1, client.probes)
}
