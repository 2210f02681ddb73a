package consumer

import (
	"context"
	"sync"
)

// Memory is an in-process consumer used by tests and dry runs.
type Memory struct {
	mu        sync.Mutex
	available bool
	records   [][]byte
	failNext  error
}

// NewMemory returns a consumer that starts out available.
func NewMemory() *Memory {
	return &Memory{available: true}
}

// SetAvailable toggles the liveness flag.
func (m *Memory) SetAvailable(v bool) {
	m.mu.Lock()
	m.available = v
	m.mu.Unlock()
}

// FailNext makes the next Send return err.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Available reports the value last set with SetAvailable.
func (m *Memory) Available(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Send stores a copy of record. It fails with the error queued by
// FailNext, or ErrUnavailable while marked unavailable.
func (m *Memory) Send(_ context.Context, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if !m.available {
		return ErrUnavailable
	}
	m.records = append(m.records, append([]byte(nil), record...))
	return nil
}

// Records returns copies of everything sent so far.
func (m *Memory) Records() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.records))
	copy(out, m.records)
	return out
}

// Close does nothing.
func (m *Memory) Close() error { return nil }
