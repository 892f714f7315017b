package sched

import (
	"context"
	"sync"
	"time"

	"hail/internal/types"
)

// Memory schedules with in-process timers. Suitable for tests and
// single-process deployments; pending work does not survive a restart.
type Memory struct {
	reg *Registry

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewMemory(reg *Registry) *Memory {
	return &Memory{reg: reg, timers: make(map[*time.Timer]struct{})}
}

func (m *Memory) ScheduleAfter(ctx context.Context, delay time.Duration, handler string, orderID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, timer)
		m.mu.Unlock()
		// Detached from the scheduling request's context on purpose: the
		// invocation happens later, on the scheduler's own behalf.
		_ = m.reg.Invoke(context.Background(), handler, orderID)
	})
	m.timers[timer] = struct{}{}
	return nil
}

// Close stops all pending timers.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for t := range m.timers {
		t.Stop()
	}
	m.timers = make(map[*time.Timer]struct{})
}
