package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/scorepipe/scorepipe/internal/domain/model"
)

// MemoryStore implements Store with in-process maps. It is the default store
// when no database DSN is configured, and the store tests exercise against.
type MemoryStore struct {
	mu      sync.RWMutex
	events  map[string]model.DecodedEvent
	byMatch map[string][]string // matchID -> event IDs in receive order
	history map[string][]model.RecognitionHistoryEntry
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string]model.DecodedEvent),
		byMatch: make(map[string][]string),
		history: make(map[string][]model.RecognitionHistoryEntry),
	}
}

// UpsertEvent writes an event keyed by its ID.
func (s *MemoryStore) UpsertEvent(ctx context.Context, e model.DecodedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if prev, ok := s.events[e.ID]; ok {
		// Recognition status is immutable once written; reclassification goes
		// through the history trail, not through the stored row.
		e.Status = prev.Status
		e.StatusReason = prev.StatusReason
	} else if e.MatchID != "" {
		s.byMatch[e.MatchID] = append(s.byMatch[e.MatchID], e.ID)
	}
	s.events[e.ID] = e
	return nil
}

// RecordRecognitionChange appends a history entry.
func (s *MemoryStore) RecordRecognitionChange(ctx context.Context, entry model.RecognitionHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.history[entry.EventID] = append(s.history[entry.EventID], entry)
	return nil
}

// QueryByMatch returns the events stored for a match ordered by receive time.
func (s *MemoryStore) QueryByMatch(ctx context.Context, matchID string) ([]model.DecodedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids := s.byMatch[matchID]
	out := make([]model.DecodedEvent, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

// RecognitionHistory returns the history entries for an event, oldest first.
func (s *MemoryStore) RecognitionHistory(ctx context.Context, eventID string) ([]model.RecognitionHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	entries := s.history[eventID]
	out := make([]model.RecognitionHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Count returns the number of events stored.
func (s *MemoryStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close marks the store closed; subsequent operations fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
