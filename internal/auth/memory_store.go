package auth

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore keeps sessions in process memory. Sessions do not survive
// a restart and are not shared between replicas.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionRecord)}
}

func (s *MemorySessionStore) Save(_ context.Context, record SessionRecord) error {
	s.mu.Lock()
	s.sessions[record.Token] = record
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, token string) (SessionRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.sessions[token]
	s.mu.RUnlock()
	return record, ok, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for token, record := range s.sessions {
		if now.After(record.ExpiresAt) || (!record.AbsoluteExpiresAt.IsZero() && now.After(record.AbsoluteExpiresAt)) {
			delete(s.sessions, token)
			purged++
		}
	}
	return purged, nil
}

func (s *MemorySessionStore) Ping(context.Context) error {
	return nil
}
