package dedup

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store with time-windowed eviction.
type Memory struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemory creates a Memory store that forgets ids after ttl and sweeps
// expired entries every ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) Seen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(id), nil
}

func (m *Memory) Mark(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked(id) {
		return true, nil
	}
	m.seen[id] = m.now()
	return false, nil
}

// Len returns the number of recorded ids, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *Memory) liveLocked(id string) bool {
	at, ok := m.seen[id]
	return ok && m.now().Sub(at) < m.ttl
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.ttl)
	for id, at := range m.seen {
		if !at.After(cutoff) {
			delete(m.seen, id)
		}
	}
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(m.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}
