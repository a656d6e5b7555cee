package cache

import (
	"context"
	"fmt"
	"sync"

	"docchat/internal/model"
)

// HistoryStore keeps the turns of a chat session, oldest first, capped at a maximum length.
type HistoryStore interface {
	Get(ctx context.Context, key string) ([]model.Turn, error)
	Append(ctx context.Context, key string, turns ...model.Turn) error
	Clear(ctx context.Context, key string) error
}

// HistoryKey scopes a session to one index.
func HistoryKey(indexID, sessionID string) string {
	return fmt.Sprintf("docchat:history:%s:%s", indexID, sessionID)
}

// MemoryHistory is the in-process HistoryStore used when redis is disabled.
type MemoryHistory struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]model.Turn
}

func NewMemoryHistory(maxTurns int) *MemoryHistory {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &MemoryHistory{maxTurns: maxTurns, sessions: make(map[string][]model.Turn)}
}

func (h *MemoryHistory) Get(_ context.Context, key string) ([]model.Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := h.sessions[key]
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (h *MemoryHistory) Append(_ context.Context, key string, turns ...model.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := append(h.sessions[key], turns...)
	if len(all) > h.maxTurns {
		all = append([]model.Turn(nil), all[len(all)-h.maxTurns:]...)
	}
	h.sessions[key] = all
	return nil
}

func (h *MemoryHistory) Clear(_ context.Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, key)
	return nil
}
