package sink

import (
	"context"
	"slices"
	"sync"
)

// Memory keeps every record in a slice.
type Memory struct {
	mu      sync.Mutex
	seq     sequence
	records []Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq.assign(records)
	m.records = append(m.records, records...)
	m.seq.commit(len(records))
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }

// Records returns a copy of everything appended so far, in row id order.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
