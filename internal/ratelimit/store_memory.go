package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore хранит окна в памяти процесса. Ограничение действует только
// в пределах одного экземпляра шлюза.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, int, error) {
	select {
	case <-ctx.Done():
		return false, 0, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	attempts := s.windows[key]
	kept := attempts[:0]
	for _, ts := range attempts {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= max {
		s.windows[key] = kept
		return false, len(kept), nil
	}
	kept = append(kept, now)
	s.windows[key] = kept
	return true, len(kept), nil
}

// Len число отметок по ключу без очистки.
func (s *MemoryStore) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows[key])
}
