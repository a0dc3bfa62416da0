package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is invoked during graceful shutdown.
type ShutdownFunc func(context.Context) error

// ShutdownManager drains HTTP servers and runs registered close functions on
// SIGINT/SIGTERM.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	timeout time.Duration

	mu    sync.Mutex
	funcs []ShutdownFunc
}

// NewShutdownManager creates a shutdown manager over the given servers.
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		servers: servers,
		timeout: timeout,
	}
}

// Register adds a function to run during shutdown, after the servers drain.
func (sm *ShutdownManager) Register(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, fn)
}

// Wait blocks until a termination signal arrives, then drains the servers
// and runs the registered functions in registration order.
func (sm *ShutdownManager) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.Infof("received signal %s, starting graceful shutdown", sig)

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var firstErr error
	for _, server := range sm.servers {
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			if firstErr == nil {
				firstErr = fmt.Errorf("HTTP server shutdown failed: %w", err)
			}
		}
	}

	sm.mu.Lock()
	funcs := sm.funcs
	sm.mu.Unlock()

	for _, fn := range funcs {
		if err := fn(ctx); err != nil {
			sm.logger.WithError(err).Error("shutdown function failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	sm.logger.Info("shutdown complete")
	return firstErr
}
