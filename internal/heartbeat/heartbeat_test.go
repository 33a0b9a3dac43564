package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestIntervalTicks(t *testing.T) {
	var mu sync.Mutex
	var sources []string

	s := New(20*time.Millisecond, func(_ context.Context, source string) error {
		mu.Lock()
		sources = append(sources, source)
		mu.Unlock()
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(sources)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sources) < 2 {
		t.Fatalf("got %d ticks, want at least 2", len(sources))
	}
	if sources[0] != "interval" {
		t.Fatalf("tick source = %q, want %q", sources[0], "interval")
	}
}

func TestManualTrigger(t *testing.T) {
	fired := make(chan string, 1)

	s := New(time.Hour, func(_ context.Context, source string) error {
		select {
		case fired <- source:
		default:
		}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	s.Trigger()

	select {
	case source := <-fired:
		if source != "manual" {
			t.Fatalf("tick source = %q, want %q", source, "manual")
		}
	case <-time.After(time.Second):
		t.Fatalf("manual trigger did not fire a tick")
	}
}

func TestTickErrorDoesNotStopCadence(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	s := New(10*time.Millisecond, func(context.Context, string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("tick failed")
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cadence stopped after a failing tick")
}
