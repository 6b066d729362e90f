package store

import (
	"context"
	"sync"
)

// Memory is the in-process Indexed implementation. Logs are created on first
// append and live as long as the process.
type Memory struct {
	mu   sync.RWMutex
	logs map[string]*ownerLog
}

type ownerLog struct {
	mu     sync.RWMutex
	values []string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{logs: make(map[string]*ownerLog)}
}

func (m *Memory) log(owner string, create bool) *ownerLog {
	m.mu.RLock()
	l, ok := m.logs[owner]
	m.mu.RUnlock()
	if ok || !create {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok = m.logs[owner]; ok {
		return l
	}
	l = &ownerLog{}
	m.logs[owner] = l
	return l
}

// Append pushes value to the end of owner's log and returns its index.
func (m *Memory) Append(_ context.Context, owner, value string) (int, error) {
	l := m.log(owner, true)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, value)
	return len(l.values), nil
}

// AppendMany appends values in order under a single lock so another command
// from the same owner cannot interleave between them.
func (m *Memory) AppendMany(_ context.Context, owner string, values []string) ([]int, error) {
	if len(values) == 0 {
		return nil, nil
	}
	l := m.log(owner, true)
	l.mu.Lock()
	defer l.mu.Unlock()
	first := len(l.values) + 1
	l.values = append(l.values, values...)
	indices := make([]int, len(values))
	for i := range values {
		indices[i] = first + i
	}
	return indices, nil
}

// Get returns the value stored at the 1-based index.
func (m *Memory) Get(_ context.Context, owner string, index int) (string, error) {
	l := m.log(owner, false)
	if l == nil {
		return "", ErrNotFound
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 1 || index > len(l.values) {
		return "", ErrNotFound
	}
	return l.values[index-1], nil
}

// List returns a snapshot of owner's log. An unknown owner yields an empty
// slice.
func (m *Memory) List(_ context.Context, owner string) ([]Entry, error) {
	l := m.log(owner, false)
	if l == nil {
		return []Entry{}, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]Entry, len(l.values))
	for i, v := range l.values {
		entries[i] = Entry{Index: i + 1, Value: v}
	}
	return entries, nil
}
