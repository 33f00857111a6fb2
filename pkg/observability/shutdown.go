package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains HTTP servers first, then runs the registered hooks
// in reverse registration order
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu      sync.Mutex
	servers []namedServer
	hooks   []namedHook
}

type namedServer struct {
	name   string
	server *http.Server
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		timeout: timeout,
	}
}

// AddServer registers an HTTP server to drain
func (sm *ShutdownManager) AddServer(name string, server *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, namedServer{name: name, server: server})
}

// RegisterShutdownFunc registers a hook, for example closing a store handle
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, namedHook{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx cancellation, then
// shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	sm.logger.Info("Shutdown requested, draining")

	return sm.Shutdown(context.Background())
}

// Shutdown drains servers and runs hooks within the configured timeout
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	sm.mu.Lock()
	servers := append([]namedServer(nil), sm.servers...)
	hooks := append([]namedHook(nil), sm.hooks...)
	sm.mu.Unlock()

	var errs []error

	var wg sync.WaitGroup
	var errMu sync.Mutex
	for _, s := range servers {
		wg.Add(1)
		go func(s namedServer) {
			defer wg.Done()
			if err := s.server.Shutdown(ctx); err != nil {
				sm.logger.WithError(err).WithField("server", s.name).Error("HTTP server shutdown error")
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s server shutdown: %w", s.name, err))
				errMu.Unlock()
				return
			}
			sm.logger.WithField("server", s.name).Info("HTTP server stopped")
		}(s)
	}
	wg.Wait()

	for i := len(hooks) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("shutdown timeout reached before %s", hooks[i].name))
			break
		}
		if err := hooks[i].fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("hook", hooks[i].name).Error("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, err))
			continue
		}
		sm.logger.WithField("hook", hooks[i].name).Debug("Shutdown hook complete")
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
