package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ombra-ai/ombra/internal/tasks"
)

// MockToolRunner provides deterministic local results when no real tool
// backend is wired up. Steps controls how many checkpoints it reports.
type MockToolRunner struct {
	Reply string
	Err   error
	Steps int
}

func NewMockToolRunner() *MockToolRunner { return &MockToolRunner{Steps: 2} }

func (r *MockToolRunner) RunTask(ctx context.Context, task tasks.Task, checkpoint Checkpoint) (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	steps := r.Steps
	if steps < 1 {
		steps = 1
	}
	for i := 1; i <= steps; i++ {
		if err := checkpoint(ctx, float64(i)/float64(steps+1), fmt.Sprintf("step %d of %d", i, steps)); err != nil {
			return "", err
		}
	}
	if r.Reply != "" {
		return r.Reply, nil
	}
	return buildMockResult(task), nil
}

// MockSubagentFactory records spawn and close calls so teardown behavior is
// observable from tests.
type MockSubagentFactory struct {
	Reply    string
	RunErr   error
	SpawnErr error

	mu      sync.Mutex
	spawned int
	closed  int
}

func NewMockSubagentFactory() *MockSubagentFactory { return &MockSubagentFactory{} }

func (f *MockSubagentFactory) Spawn(ctx context.Context, task tasks.Task) (Subagent, error) {
	if f.SpawnErr != nil {
		return nil, f.SpawnErr
	}
	f.mu.Lock()
	f.spawned++
	f.mu.Unlock()
	return &mockSubagent{factory: f}, nil
}

func (f *MockSubagentFactory) Spawned() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawned
}

func (f *MockSubagentFactory) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type mockSubagent struct {
	factory *MockSubagentFactory
}

func (a *mockSubagent) Run(ctx context.Context, task tasks.Task, checkpoint Checkpoint) (string, error) {
	if a.factory.RunErr != nil {
		return "", a.factory.RunErr
	}
	if err := checkpoint(ctx, 0.5, "delegated work in flight"); err != nil {
		return "", err
	}
	if a.factory.Reply != "" {
		return a.factory.Reply, nil
	}
	return buildMockResult(task), nil
}

func (a *mockSubagent) Close(ctx context.Context) error {
	a.factory.mu.Lock()
	a.factory.closed++
	a.factory.mu.Unlock()
	return nil
}

// MockBackgroundRunner hands out runs that report the scripted Statuses in
// order, repeating the last one once the script is exhausted.
type MockBackgroundRunner struct {
	Statuses  []RunStatus
	LaunchErr error

	mu      sync.Mutex
	stopped int
}

func NewMockBackgroundRunner() *MockBackgroundRunner {
	return &MockBackgroundRunner{
		Statuses: []RunStatus{{Done: true, Result: "background run finished"}},
	}
}

func (r *MockBackgroundRunner) Launch(ctx context.Context, task tasks.Task) (BackgroundRun, error) {
	if r.LaunchErr != nil {
		return nil, r.LaunchErr
	}
	return &mockBackgroundRun{runner: r}, nil
}

func (r *MockBackgroundRunner) Stopped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

type mockBackgroundRun struct {
	runner *MockBackgroundRunner
	polls  int
}

func (b *mockBackgroundRun) Status(ctx context.Context) (RunStatus, error) {
	statuses := b.runner.Statuses
	if len(statuses) == 0 {
		return RunStatus{Done: true}, nil
	}
	idx := b.polls
	if idx >= len(statuses) {
		idx = len(statuses) - 1
	}
	b.polls++
	return statuses[idx], nil
}

func (b *mockBackgroundRun) Stop(ctx context.Context) error {
	b.runner.mu.Lock()
	b.runner.stopped++
	b.runner.mu.Unlock()
	return nil
}

func buildMockResult(task tasks.Task) string {
	desc := strings.TrimSpace(task.Description)
	if desc == "" {
		desc = "the requested work"
	}
	return fmt.Sprintf("Done: %s", desc)
}
