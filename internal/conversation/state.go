package conversation

import (
	"strings"
	"sync"
	"time"
)

// PendingMessage is a buffered inbound message awaiting batching. It is owned
// by exactly one State and destroyed when combined.
type PendingMessage struct {
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// State is the per-conversation state machine: a pending message buffer plus
// the processing, debouncing and interrupt flags. AddMessage may be called
// concurrently with the owning loop; every transition happens under one lock.
type State struct {
	ConversationID string
	ParticipantID  string

	mu            sync.Mutex
	pending       []PendingMessage
	processing    bool
	debouncing    bool
	interrupted   bool
	debounceWake  chan struct{}
	debounceFired bool
}

func NewState(conversationID, participantID string) *State {
	return &State{
		ConversationID: conversationID,
		ParticipantID:  participantID,
	}
}

// AddMessage appends to the pending buffer and reports which wait, if any, it
// interrupted: (true, false) when processing was in flight, (false, true) when
// a debounce wait was woken, (false, false) when the conversation was idle.
func (s *State) AddMessage(content string, metadata map[string]any) (interruptedProcessing, interruptedDebounce bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, PendingMessage{
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})

	if s.processing {
		s.interrupted = true
		return true, false
	}
	if s.debouncing {
		if !s.debounceFired {
			close(s.debounceWake)
			s.debounceFired = true
		}
		return false, true
	}
	return false, false
}

// BeginProcessing drains the buffer into one combined message and flips the
// state to processing. Content is joined newline-separated in arrival order;
// metadata merges left to right so later keys win. ok is false when the
// buffer was empty.
func (s *State) BeginProcessing() (content string, metadata map[string]any, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return "", map[string]any{}, false
	}

	parts := make([]string, 0, len(s.pending))
	metadata = make(map[string]any)
	for _, msg := range s.pending {
		parts = append(parts, msg.Content)
		for k, v := range msg.Metadata {
			metadata[k] = v
		}
	}
	s.pending = nil
	s.processing = true
	s.debouncing = false
	s.interrupted = false
	return strings.Join(parts, "\n"), metadata, true
}

func (s *State) EndProcessing() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

// CheckInterrupt is edge-triggered: it reports whether the interrupt signal
// is raised and clears it in the same operation.
func (s *State) CheckInterrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	raised := s.interrupted
	s.interrupted = false
	return raised
}

// BeginDebounce marks the state as debouncing and returns the channel that
// closes when a message lands during the wait.
func (s *State) BeginDebounce() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debouncing = true
	s.debounceWake = make(chan struct{})
	s.debounceFired = false
	return s.debounceWake
}

func (s *State) EndDebounce() {
	s.mu.Lock()
	s.debouncing = false
	s.mu.Unlock()
}

func (s *State) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *State) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Reset drops all pending messages and clears every flag. Used by the hard
// conversation-level cancel.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.processing = false
	s.interrupted = false
	if s.debouncing && !s.debounceFired {
		close(s.debounceWake)
		s.debounceFired = true
	}
	s.debouncing = false
}
