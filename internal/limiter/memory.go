package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process FloodControl. Cool-downs are forgotten on restart,
// which only lets a user retry the external login earlier than asked.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory constructs an empty in-memory flood control. A nil clock means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: make(map[string]time.Time), now: now}
}

// Blocked drops expired entries lazily.
func (m *Memory) Blocked(_ context.Context, identity string) (bool, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.entries[identity]
	if !ok {
		return false, time.Time{}, nil
	}
	if !until.After(m.now()) {
		delete(m.entries, identity)
		return false, time.Time{}, nil
	}
	return true, until, nil
}

func (m *Memory) Arm(_ context.Context, identity string, resumeAt time.Time) error {
	m.mu.Lock()
	m.entries[identity] = resumeAt
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context, identity string) error {
	m.mu.Lock()
	delete(m.entries, identity)
	m.mu.Unlock()
	return nil
}
