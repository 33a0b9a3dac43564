package conversation

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ombra-ai/ombra/internal/observability"
)

// ProcessFunc handles one combined message batch. It must poll interrupted()
// at reasonable intervals and abandon its work when it returns true; the
// returned text is delivered to the participant.
type ProcessFunc func(ctx context.Context, conversationID, participantID, content string, metadata map[string]any, interrupted func() bool) (string, error)

// Notifier delivers assistant output back over the external transport.
type Notifier interface {
	Notify(ctx context.Context, conversationID, text string) error
}

const failureNotice = "Sorry, something went wrong while handling your message."

// Manager keys conversation state machines by conversation ID and drives one
// processing loop per active conversation. Loops start on the first message
// of an idle conversation, debounce follow-up bursts, and exit once the
// pending buffer drains.
type Manager struct {
	debounce time.Duration
	process  ProcessFunc
	notifier Notifier
	metrics  *observability.Metrics

	mu     sync.Mutex
	states map[string]*State
	loops  map[string]*loopHandle
	gen    uint64
}

// loopHandle identifies one incarnation of a conversation loop so a hard
// cancel and the loop's own exit can't tear down each other's bookkeeping.
type loopHandle struct {
	gen    uint64
	cancel context.CancelFunc
}

func NewManager(debounce time.Duration, process ProcessFunc, notifier Notifier, metrics *observability.Metrics) *Manager {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Manager{
		debounce: debounce,
		process:  process,
		notifier: notifier,
		metrics:  metrics,
		states:   make(map[string]*State),
		loops:    make(map[string]*loopHandle),
	}
}

// AddMessage never blocks: it buffers the message, signals any in-flight wait
// and, for an idle conversation, starts the processing loop immediately so a
// single-shot interaction pays no debounce delay.
func (m *Manager) AddMessage(conversationID, participantID, content string, metadata map[string]any) (interruptedProcessing, interruptedDebounce bool) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return false, false
	}

	m.mu.Lock()
	state, ok := m.states[conversationID]
	if !ok {
		state = NewState(conversationID, participantID)
		m.states[conversationID] = state
	}

	interruptedProcessing, interruptedDebounce = state.AddMessage(content, metadata)

	if m.loops[conversationID] == nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.gen++
		handle := &loopHandle{gen: m.gen, cancel: cancel}
		m.loops[conversationID] = handle
		go m.runLoop(ctx, state, handle)
	}
	m.mu.Unlock()
	return interruptedProcessing, interruptedDebounce
}

// Cancel force-aborts the conversation's in-flight work, drops all pending
// messages and resets every flag. It reports whether anything was actually
// running or queued.
func (m *Manager) Cancel(conversationID string) bool {
	m.mu.Lock()
	state := m.states[conversationID]
	handle := m.loops[conversationID]

	active := handle != nil
	if state != nil && state.PendingCount() > 0 {
		active = true
	}

	if handle != nil {
		handle.cancel()
		delete(m.loops, conversationID)
	}
	if state != nil {
		state.Reset()
	}
	m.mu.Unlock()
	return active
}

// Active reports whether the conversation currently has a live loop.
func (m *Manager) Active(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loops[conversationID] != nil
}

// Status reports a point-in-time snapshot of a conversation.
func (m *Manager) Status(conversationID string) (active, processing bool, pending int) {
	m.mu.Lock()
	state := m.states[conversationID]
	active = m.loops[conversationID] != nil
	m.mu.Unlock()
	if state != nil {
		processing = state.Processing()
		pending = state.PendingCount()
	}
	return active, processing, pending
}

// Close aborts every live loop. Pending messages are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, handle := range m.loops {
		handle.cancel()
		delete(m.loops, id)
	}
	for _, state := range m.states {
		state.Reset()
	}
	m.mu.Unlock()
}

func (m *Manager) runLoop(ctx context.Context, state *State, handle *loopHandle) {
	m.metrics.ConversationLoopStarted()
	defer m.metrics.ConversationLoopStopped()
	defer m.clearLoop(state.ConversationID, handle)

	first := true
	for {
		if ctx.Err() != nil {
			return
		}

		// The first batch after idle goes straight through; every later
		// iteration follows an interruption, so it waits out a quiet
		// period and lets rapid messages pile into one batch. A message
		// landing mid-wait wakes it early.
		if !first {
			wake := state.BeginDebounce()
			select {
			case <-ctx.Done():
				state.EndDebounce()
				return
			case <-wake:
			case <-time.After(m.debounce):
			}
			state.EndDebounce()
		}
		first = false

		content, metadata, ok := state.BeginProcessing()
		if ok {
			reply, err := m.invokeProcess(ctx, state, content, metadata)
			state.EndProcessing()

			if ctx.Err() != nil {
				return
			}
			switch {
			case err != nil:
				log.Printf("conversation %s: processing failed: %v", state.ConversationID, err)
				m.metrics.ObserveBatch("error")
				m.notify(ctx, state.ConversationID, failureNotice)
			default:
				m.metrics.ObserveBatch("ok")
				m.notify(ctx, state.ConversationID, reply)
			}
		}

		// Exit only while holding the manager lock so a concurrent
		// AddMessage either sees the live loop or finds it gone and
		// starts a new one; a message can't be stranded in between.
		m.mu.Lock()
		if state.PendingCount() == 0 {
			if m.loops[state.ConversationID] == handle {
				delete(m.loops, state.ConversationID)
			}
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
	}
}

// invokeProcess isolates a panicking callback: the batch is lost but the
// conversation returns to a clean idle state.
func (m *Manager) invokeProcess(ctx context.Context, state *State, content string, metadata map[string]any) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("conversation %s: processing panicked: %v", state.ConversationID, r)
			reply = ""
			err = &panicError{value: r}
		}
	}()
	return m.process(ctx, state.ConversationID, state.ParticipantID, content, metadata, state.CheckInterrupt)
}

func (m *Manager) notify(ctx context.Context, conversationID, text string) {
	if m.notifier == nil || strings.TrimSpace(text) == "" {
		return
	}
	if err := m.notifier.Notify(ctx, conversationID, text); err != nil {
		log.Printf("conversation %s: notify failed: %v", conversationID, err)
	}
}

func (m *Manager) clearLoop(conversationID string, handle *loopHandle) {
	m.mu.Lock()
	if m.loops[conversationID] == handle {
		delete(m.loops, conversationID)
	}
	m.mu.Unlock()
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "processing callback panicked"
}
