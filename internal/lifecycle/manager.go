package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultShutdownTimeout bounds a Manager's graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Component is something the Manager shuts down at process exit.
type Component interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// ForceStopper is implemented by components that can be stopped
// immediately when a graceful shutdown fails.
type ForceStopper interface {
	ForceStop() error
}

type componentFunc struct {
	name string
	fn   func(context.Context) error
}

func (c componentFunc) Name() string                       { return c.name }
func (c componentFunc) Shutdown(ctx context.Context) error { return c.fn(ctx) }

// ComponentFunc adapts fn to a Component.
func ComponentFunc(name string, fn func(context.Context) error) Component {
	return componentFunc{name: name, fn: fn}
}

// Closer adapts anything with Close() error to a Component.
func Closer(name string, c interface{ Close() error }) Component {
	return ComponentFunc(name, func(context.Context) error { return c.Close() })
}

// Manager shuts registered components down in reverse registration order,
// on SIGINT/SIGTERM or when Shutdown is called.
type Manager struct {
	mu         sync.Mutex
	components []Component
	isShutdown bool
	timeout    time.Duration

	shutdownCh chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup

	shutdownErr error
}

// NewManager creates a manager. A non-positive timeout uses
// DefaultShutdownTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Manager{
		timeout:    timeout,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Register adds a component. Components registered during shutdown are
// ignored.
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isShutdown {
		log.Warn("Cannot register component during shutdown", "component", c.Name())
		return
	}

	m.components = append(m.components, c)
	log.Debug("Registered lifecycle component", "name", c.Name())
}

// Start begins watching for shutdown signals.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.monitorSignals()
}

func (m *Manager) monitorSignals() {
	defer m.wg.Done()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", "signal", sig)
		go m.Shutdown()
	case <-m.shutdownCh:
	}
}

// Shutdown stops every component, newest first. A component whose Shutdown
// fails is force stopped when it implements ForceStopper. Only the first
// call does any work; later calls wait for it and return its result.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.isShutdown {
		m.mu.Unlock()
		<-m.done
		return m.shutdownErr
	}
	m.isShutdown = true
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	log.Debug("Starting graceful shutdown", "components", len(components))
	close(m.shutdownCh)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		log.Debug("Shutting down component", "name", c.Name())

		err := c.Shutdown(ctx)
		if err == nil {
			continue
		}
		log.Warn("Component graceful shutdown failed", "name", c.Name(), "err", err)

		if fs, ok := c.(ForceStopper); ok {
			if forceErr := fs.ForceStop(); forceErr != nil {
				log.Error("Component force stop failed", "name", c.Name(), "err", forceErr)
				errs = append(errs, fmt.Errorf("%s: %w", c.Name(), forceErr))
			}
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
	}

	m.wg.Wait()

	m.shutdownErr = errors.Join(errs...)
	close(m.done)
	log.Debug("Shutdown complete", "errors", len(errs))
	return m.shutdownErr
}

// Done is closed once shutdown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until shutdown has finished.
func (m *Manager) Wait() {
	<-m.done
}
