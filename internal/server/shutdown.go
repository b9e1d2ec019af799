package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// ShutdownHook is one step of the worker's teardown sequence. Lower
// priorities run first: stop taking work, drain it, then close the
// stores the drained work depended on.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownConfig configures the shutdown handler.
type ShutdownConfig struct {
	Timeout time.Duration // total budget for all hooks (default 30s)
	Signals []os.Signal   // default SIGTERM, SIGINT
	Logger  *slog.Logger
}

// DefaultShutdownConfig returns the configuration both binaries use.
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}

// ShutdownHandler runs registered hooks in priority order when the process
// receives a termination signal or Shutdown is called.
type ShutdownHandler struct {
	log     *slog.Logger
	timeout time.Duration
	signals []os.Signal

	mu      sync.Mutex
	hooks   []ShutdownHook
	started bool

	begin   chan struct{}
	done    chan struct{}
	trigger sync.Once
	finish  sync.Once
}

// NewShutdownHandler creates a shutdown handler.
func NewShutdownHandler(cfg *ShutdownConfig) *ShutdownHandler {
	if cfg == nil {
		cfg = DefaultShutdownConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownHandler{
		log:     logger,
		timeout: cfg.Timeout,
		signals: cfg.Signals,
		begin:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// RegisterHook adds a hook to the teardown sequence. Hooks registered
// after shutdown has begun do not run.
func (s *ShutdownHandler) RegisterHook(h ShutdownHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Start begins listening for termination signals.
func (s *ShutdownHandler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, s.signals...)

	go func() {
		select {
		case <-sigCh:
		case <-s.begin:
		}
		signal.Stop(sigCh)
		s.runHooks()
	}()
}

// Shutdown triggers the teardown sequence without a signal.
func (s *ShutdownHandler) Shutdown() {
	s.trigger.Do(func() { close(s.begin) })
}

// Wait blocks until every hook has run.
func (s *ShutdownHandler) Wait() {
	<-s.done
}

// Done reports teardown completion for select loops.
func (s *ShutdownHandler) Done() <-chan struct{} {
	return s.done
}

func (s *ShutdownHandler) runHooks() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	hooks := make([]ShutdownHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].Priority < hooks[j].Priority
	})

	for _, h := range hooks {
		if err := h.Fn(ctx); err != nil {
			s.log.Error("shutdown hook failed", "hook", h.Name, "error", err)
		}
	}

	s.finish.Do(func() { close(s.done) })
}

// HTTPServerShutdownHook stops the HTTP listener first so no new requests
// arrive during teardown.
func HTTPServerShutdownHook(name string, shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: name, Priority: 10, Fn: shutdownFn}
}

// TemporalWorkerShutdownHook drains in-flight activities after the HTTP
// surface is down.
func TemporalWorkerShutdownHook(stopFn func()) ShutdownHook {
	return ShutdownHook{
		Name:     "temporal-worker",
		Priority: 20,
		Fn: func(context.Context) error {
			stopFn()
			return nil
		},
	}
}

// TracingShutdownHook flushes pending spans once no more work produces them.
func TracingShutdownHook(shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "tracing", Priority: 80, Fn: shutdownFn}
}

// VectorStoreShutdownHook closes the Qdrant connection after the worker has
// drained, so retries in flight still reach the index.
func VectorStoreShutdownHook(closeFn func() error) ShutdownHook {
	return ShutdownHook{
		Name:     "vector-store",
		Priority: 90,
		Fn: func(context.Context) error {
			return closeFn()
		},
	}
}

// AuditLoggerShutdownHook closes the audit log last so it records the
// teardown itself.
func AuditLoggerShutdownHook(closeFn func() error) ShutdownHook {
	return ShutdownHook{
		Name:     "audit-logger",
		Priority: 95,
		Fn: func(context.Context) error {
			return closeFn()
		},
	}
}
