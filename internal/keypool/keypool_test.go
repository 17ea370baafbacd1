package keypool

import (
	"sync"
	"testing"

	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
)

func TestAdvanceCyclesBackToStart(t *testing.T) {
	keys := []string{"k0", "k1", "k2", "k3"}
	p := New(keys, logger.NewNop())

	start := p.Index()
	for i := 0; i < len(keys); i++ {
		p.Advance()
		if idx := p.Index(); idx < 0 || idx >= len(keys) {
			t.Fatalf("index %d out of range [0,%d)", idx, len(keys))
		}
	}
	if p.Index() != start {
		t.Errorf("after %d advances index = %d, want %d", len(keys), p.Index(), start)
	}
}

func TestAdvanceWrapScenario(t *testing.T) {
	p := New([]string{"A", "B", "C"}, logger.NewNop())

	if got := p.Current(); got != "A" {
		t.Fatalf("initial key = %q, want A", got)
	}

	// Two consecutive failures move the cursor twice.
	if got := p.Advance(); got != "B" {
		t.Errorf("first advance = %q, want B", got)
	}
	if got := p.Advance(); got != "C" {
		t.Errorf("second advance = %q, want C", got)
	}
	if p.Index() != 2 {
		t.Errorf("index = %d, want 2", p.Index())
	}

	// The wrap only applies when stepping past the last slot.
	if got := p.Advance(); got != "A" {
		t.Errorf("third advance = %q, want A", got)
	}
	if p.Index() != 0 {
		t.Errorf("index after wrap = %d, want 0", p.Index())
	}
}

func TestCurrentHasNoSideEffects(t *testing.T) {
	p := New([]string{"x", "y"}, logger.NewNop())
	for i := 0; i < 5; i++ {
		p.Current()
	}
	if p.Index() != 0 {
		t.Errorf("Current moved the cursor to %d", p.Index())
	}
}

func TestConcurrentAdvanceStaysInRange(t *testing.T) {
	p := New([]string{"a", "b", "c"}, logger.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.Advance()
			}
		}()
	}
	wg.Wait()

	if idx := p.Index(); idx < 0 || idx >= p.Size() {
		t.Errorf("index %d out of range [0,%d)", idx, p.Size())
	}
}

func TestNewPanicsOnEmptyPool(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for empty key list")
		}
	}()
	New(nil, logger.NewNop())
}
