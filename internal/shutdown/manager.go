package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"morpho-filters/internal/logger"
)

// HookTimeout bounds how long a single shutdown hook may run.
const HookTimeout = 10 * time.Second

type hook struct {
	name string
	fn   func()
}

// Manager cancels the run context on SIGINT/SIGTERM and runs registered hooks
// in reverse registration order.
type Manager struct {
	hooks   []hook
	logger  logger.Logger
	mu      sync.Mutex
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	signals chan os.Signal
}

func NewManager(parent context.Context, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	return &Manager{
		logger: log,
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (m *Manager) Register(name string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Listen starts watching for termination signals until Shutdown is called.
func (m *Manager) Listen() {
	m.mu.Lock()
	if m.signals != nil {
		m.mu.Unlock()
		return
	}
	m.signals = make(chan os.Signal, 1)
	signal.Notify(m.signals, os.Interrupt, syscall.SIGTERM)
	m.mu.Unlock()

	go func() {
		select {
		case sig := <-m.signals:
			m.logger.Info("ShutdownManager", "shutdown signal received", map[string]interface{}{
				"signal": sig.String(),
			})
			m.Shutdown()
		case <-m.done:
		}
	}()
}

func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}

	if m.signals != nil {
		signal.Stop(m.signals)
	}
	m.cancel()

	m.logger.Debug("ShutdownManager", "running shutdown hooks", map[string]interface{}{
		"hooks": len(m.hooks),
	})

	for i := len(m.hooks) - 1; i >= 0; i-- {
		h := m.hooks[i]

		finished := make(chan struct{})
		go func() {
			defer close(finished)
			h.fn()
		}()

		select {
		case <-finished:
		case <-time.After(HookTimeout):
			m.logger.Warning("ShutdownManager", "shutdown hook timeout", map[string]interface{}{
				"hook": h.name,
			})
		}
	}
}

// Context is cancelled once shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

func (m *Manager) Done() <-chan struct{} {
	return m.done
}
