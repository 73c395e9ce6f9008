package tunnel

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a deterministic in-process Provider for tests. Its URLs have the
// form https://<name>.mock.test/<port>.
type Mock struct {
	name string

	mu        sync.Mutex
	available bool
	spawnErr  error
	stopErr   error
	spawns    int
	stops     int
	handles   []*MockHandle
}

// NewMock returns an available Mock called name.
func NewMock(name string) *Mock {
	return &Mock{name: name, available: true}
}

func (m *Mock) Name() string        { return m.name }
func (m *Mock) DisplayName() string { return "Mock (" + m.name + ")" }

func (m *Mock) IsAvailable(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// SetAvailable controls IsAvailable and the Spawn re-check.
func (m *Mock) SetAvailable(ok bool) {
	m.mu.Lock()
	m.available = ok
	m.mu.Unlock()
}

// SetSpawnError makes subsequent Spawn calls fail with err.
func (m *Mock) SetSpawnError(err error) {
	m.mu.Lock()
	m.spawnErr = err
	m.mu.Unlock()
}

// SetStopError makes handles spawned afterwards fail their first Stop.
func (m *Mock) SetStopError(err error) {
	m.mu.Lock()
	m.stopErr = err
	m.mu.Unlock()
}

func (m *Mock) Spawn(_ context.Context, localPort int) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return nil, newError(m.name, ErrNotAvailable, "mock marked unavailable", nil)
	}
	if m.spawnErr != nil {
		return nil, m.spawnErr
	}
	m.spawns++
	h := &MockHandle{
		url:     fmt.Sprintf("https://%s.mock.test/%d", m.name, localPort),
		port:    localPort,
		mock:    m,
		stopErr: m.stopErr,
	}
	m.handles = append(m.handles, h)
	return h, nil
}

// Spawns returns the number of successful Spawn calls.
func (m *Mock) Spawns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawns
}

// Stops returns the number of handles that have been stopped.
func (m *Mock) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Running returns the number of spawned handles not yet stopped.
func (m *Mock) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawns - m.stops
}

// MockHandle is the Handle returned by Mock.
type MockHandle struct {
	url     string
	port    int
	mock    *Mock
	stopErr error
	stopped bool
}

func (h *MockHandle) URL() string      { return h.url }
func (h *MockHandle) Provider() string { return h.mock.name }
func (h *MockHandle) Port() int        { return h.port }

// Stop records the stop once. A configured stop error is returned only by the
// first call.
func (h *MockHandle) Stop() error {
	h.mock.mu.Lock()
	defer h.mock.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	h.mock.stops++
	return h.stopErr
}
