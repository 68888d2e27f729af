// Package monitor stops an idle process. Hosting platforms bill by
// uptime; after a bounded quiet period the monitor fires a shutdown
// callback so the machine can stop cleanly instead of idling.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor tracks the last user request and fires once when the idle
// timeout elapses.
type Monitor struct {
	timeout       time.Duration
	checkInterval time.Duration
	onIdle        func()
	logger        *slog.Logger
	clock         func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
	stop         chan struct{}
	stopOnce     sync.Once
}

// Params collects the monitor's settings.
type Params struct {
	// Timeout is how long the process may sit idle before OnIdle fires.
	Timeout time.Duration
	// CheckInterval is the sweep period; defaults to one minute.
	CheckInterval time.Duration
	// OnIdle runs exactly once, on the monitor goroutine.
	OnIdle func()
	Logger *slog.Logger
}

// New creates a monitor. The timer starts at construction time.
func New(p Params) *Monitor {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := p.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	m := &Monitor{
		timeout:       p.Timeout,
		checkInterval: interval,
		onIdle:        p.OnIdle,
		logger:        logger,
		clock:         time.Now,
		stop:          make(chan struct{}),
	}
	m.lastActivity = m.clock()
	return m
}

// Touch resets the idle timer. The HTTP layer calls it for every request
// that counts as real traffic; health probes never reach it.
func (m *Monitor) Touch(path string) {
	m.mu.Lock()
	since := m.clock().Sub(m.lastActivity)
	m.lastActivity = m.clock()
	m.mu.Unlock()
	m.logger.Debug("activity recorded", "path", path, "idle_before", since.Round(time.Second))
}

// SinceActivity returns how long the process has been idle.
func (m *Monitor) SinceActivity() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock().Sub(m.lastActivity)
}

// Start runs the sweep loop until the timeout fires, Stop is called, or
// the context ends.
func (m *Monitor) Start(ctx context.Context) {
	if m.timeout <= 0 {
		m.logger.Info("inactivity monitor disabled")
		return
	}
	m.logger.Info("inactivity monitor started", "timeout", m.timeout, "check_interval", m.checkInterval)

	go func() {
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case <-m.stop:
					return
				default:
				}
				idle := m.SinceActivity()
				if idle >= m.timeout {
					m.logger.Warn("inactivity timeout exceeded, shutting down", "idle", idle.Round(time.Second))
					if m.onIdle != nil {
						m.onIdle()
					}
					return
				}
				m.logger.Debug("inactivity sweep", "idle", idle.Round(time.Second), "remaining", (m.timeout - idle).Round(time.Second))
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweep loop without firing the callback.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
