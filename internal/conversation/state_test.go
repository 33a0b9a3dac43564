package conversation

import (
	"testing"
)

func TestAddMessageIdle(t *testing.T) {
	s := NewState("c1", "p1")
	interruptedProcessing, interruptedDebounce := s.AddMessage("hello", nil)
	if interruptedProcessing || interruptedDebounce {
		t.Fatalf("AddMessage() = (%v, %v), want (false, false) on idle state",
			interruptedProcessing, interruptedDebounce)
	}
	if got := s.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want 1", got)
	}
}

func TestAddMessageWhileProcessingRaisesInterrupt(t *testing.T) {
	s := NewState("c1", "p1")
	s.AddMessage("first", nil)
	if _, _, ok := s.BeginProcessing(); !ok {
		t.Fatalf("BeginProcessing() ok = false, want true")
	}

	interruptedProcessing, interruptedDebounce := s.AddMessage("second", nil)
	if !interruptedProcessing || interruptedDebounce {
		t.Fatalf("AddMessage() = (%v, %v), want (true, false) while processing",
			interruptedProcessing, interruptedDebounce)
	}
	if got := s.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want interrupting message buffered", got)
	}

	if !s.CheckInterrupt() {
		t.Fatalf("CheckInterrupt() = false, want true after interrupt")
	}
	if s.CheckInterrupt() {
		t.Fatalf("CheckInterrupt() = true on second read, want edge-triggered clear")
	}
}

func TestAddMessageWhileDebouncingWakes(t *testing.T) {
	s := NewState("c1", "p1")
	wake := s.BeginDebounce()

	interruptedProcessing, interruptedDebounce := s.AddMessage("quick follow-up", nil)
	if interruptedProcessing || !interruptedDebounce {
		t.Fatalf("AddMessage() = (%v, %v), want (false, true) while debouncing",
			interruptedProcessing, interruptedDebounce)
	}
	select {
	case <-wake:
	default:
		t.Fatalf("debounce wake channel not signalled")
	}

	// A second message during the same wait must not panic on a re-close.
	s.AddMessage("another", nil)
	s.EndDebounce()
}

func TestBeginProcessingCombinesInOrderAndMergesMetadata(t *testing.T) {
	s := NewState("c1", "p1")
	s.AddMessage("first", map[string]any{"a": 1})
	s.AddMessage("second", map[string]any{"b": 2})
	s.AddMessage("third", map[string]any{"a": 3})

	content, metadata, ok := s.BeginProcessing()
	if !ok {
		t.Fatalf("BeginProcessing() ok = false, want true")
	}
	if content != "first\nsecond\nthird" {
		t.Fatalf("content = %q, want messages joined in arrival order", content)
	}
	if metadata["a"] != 3 {
		t.Fatalf("metadata[a] = %v, want later message to override with 3", metadata["a"])
	}
	if metadata["b"] != 2 {
		t.Fatalf("metadata[b] = %v, want 2", metadata["b"])
	}
	if got := s.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() = %d, want buffer drained", got)
	}
}

func TestBeginProcessingEmptyBuffer(t *testing.T) {
	s := NewState("c1", "p1")
	content, metadata, ok := s.BeginProcessing()
	if ok {
		t.Fatalf("BeginProcessing() ok = true on empty buffer, want false")
	}
	if content != "" || len(metadata) != 0 {
		t.Fatalf("BeginProcessing() = (%q, %v), want empty content and metadata", content, metadata)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := NewState("c1", "p1")
	s.AddMessage("first", nil)
	s.BeginProcessing()
	s.AddMessage("second", nil)

	s.Reset()
	if s.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d after Reset, want 0", s.PendingCount())
	}
	if s.Processing() {
		t.Fatalf("Processing() = true after Reset, want false")
	}
	if s.CheckInterrupt() {
		t.Fatalf("CheckInterrupt() = true after Reset, want false")
	}
}
