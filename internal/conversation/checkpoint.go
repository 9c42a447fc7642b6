package conversation

import (
	"context"
	"encoding/json"
	"fmt"
)

// checkpointNamespace is the key-value namespace conversations are saved
// under.
const checkpointNamespace = "conversations"

// KeyValue is durable storage for checkpoints.
type KeyValue interface {
	List(ctx context.Context, namespace string) (map[string]string, error)
	Replace(ctx context.Context, namespace string, values map[string]string) error
}

// Checkpoint saves every unexpired conversation that is waiting on the
// user, replacing the previous checkpoint. Each conversation is saved as
// of its last completed turn, so a turn still running is not observed.
func (s *MemoryStore) Checkpoint(ctx context.Context, kv KeyValue) (int, error) {
	s.mu.Lock()
	values := make(map[string]string, len(s.entries))
	for id, e := range s.entries {
		if e.saved == nil || !e.state.Resumable() || s.expired(e) {
			continue
		}
		values[id] = string(e.saved)
	}
	s.mu.Unlock()

	if err := kv.Replace(ctx, checkpointNamespace, values); err != nil {
		return 0, fmt.Errorf("save checkpoint: %w", err)
	}
	return len(values), nil
}

// Restore loads the saved conversations. Entries that fail to decode,
// have expired or are no longer resumable are skipped.
func (s *MemoryStore) Restore(ctx context.Context, kv KeyValue) (int, error) {
	values, err := kv.List(ctx, checkpointNamespace)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for id, raw := range values {
		var c Context
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			s.logger.Warn("skipping unreadable conversation checkpoint", "conversation_id", id, "error", err)
			continue
		}
		e := &entry{ctx: &c, state: c.State, updated: c.UpdatedAt, saved: []byte(raw)}
		if c.ID != id || !e.state.Resumable() || s.expired(e) {
			continue
		}
		if _, ok := s.entries[id]; ok {
			continue
		}
		if len(s.entries) >= s.maxContexts {
			s.evictOldestLocked()
		}
		s.entries[id] = e
		restored++
	}
	return restored, nil
}
