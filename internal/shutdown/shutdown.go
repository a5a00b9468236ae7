// Package shutdown coordinates signal handling and ordered cleanup for the
// long-running commands (serve and tui).
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"milista/internal/utils"
)

// CleanupFunc releases one resource. ctx expires when the shutdown times out.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager runs registered cleanups once shutdown is triggered.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	shutdown bool
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	waitOnce sync.Once
	waitErr  error
}

// NewManager creates a new shutdown manager.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterCleanup adds a cleanup. Cleanups run in LIFO order.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Shutdown cancels Context. Safe to call multiple times.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()
		m.cancel()
	})
}

// ListenForSignals triggers Shutdown on SIGINT or SIGTERM.
// The returned function stops listening.
func (m *Manager) ListenForSignals() func() {
	return m.listen(os.Interrupt, syscall.SIGTERM)
}

func (m *Manager) listen(signals ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	stop := make(chan struct{})
	var stopOnce sync.Once

	go func() {
		select {
		case sig := <-ch:
			utils.Infof("received %s, shutting down", sig)
			m.Shutdown()
		case <-stop:
		}
	}()

	return func() {
		stopOnce.Do(func() {
			signal.Stop(ch)
			close(stop)
		})
	}
}

func (m *Manager) runCleanups(ctx context.Context) error {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(ctx); err != nil {
			utils.Warnf("cleanup %s failed: %v", c.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// Wait runs the cleanups and returns their joined errors, or ctx.Err() when
// ctx expires first. Cleanups run only once; later calls return the same result.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.waitOnce.Do(func() {
			m.waitErr = m.runCleanups(ctx)
		})
		close(done)
	}()

	select {
	case <-done:
		return m.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown returns true if shutdown has been initiated.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Context is cancelled when shutdown is initiated.
func (m *Manager) Context() context.Context {
	return m.ctx
}
