package reasoning

import (
	"sync"
	"time"

	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/registry"
)

// State is the per-thread workflow state threaded through the
// preprocess/reason/postprocess stages and checkpointed between cycles.
type State struct {
	Messages   []*message.Message `json:"messages"`
	Sender     string             `json:"sender"`
	Receiver   string             `json:"receiver"`
	Type       message.Type       `json:"type"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
	RetryCount int                `json:"retry_count"`
	MaxRetries int                `json:"max_retries"`

	ContextReset        bool      `json:"context_reset"`
	TopicChanged        bool      `json:"topic_changed"`
	LastInteractionTime time.Time `json:"last_interaction_time"`

	AgentsFound          []registry.Peer             `json:"agents_found,omitempty"`
	CollaborationResults map[string]*message.Message `json:"collaboration_results,omitempty"`
	Subtasks             []string                    `json:"subtasks,omitempty"`
}

// Checkpointer persists workflow state per conversation thread so flags
// like topic_changed survive across cycles.
type Checkpointer interface {
	Load(threadID string) (*State, bool, error)
	Save(threadID string, st *State) error
	Delete(threadID string) error
}

// MemoryCheckpointer keeps state in process memory.
type MemoryCheckpointer struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{states: make(map[string]*State)}
}

func (m *MemoryCheckpointer) Load(threadID string) (*State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[threadID]
	return st, ok, nil
}

func (m *MemoryCheckpointer) Save(threadID string, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[threadID] = st
	return nil
}

func (m *MemoryCheckpointer) Delete(threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, threadID)
	return nil
}
