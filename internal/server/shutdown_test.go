package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestHandler(timeout time.Duration) *ShutdownHandler {
	return NewShutdownHandler(&ShutdownConfig{
		Timeout: timeout,
		Logger:  slog.Default(),
	})
}

func TestShutdown_RunsHooksInWorkerTeardownOrder(t *testing.T) {
	h := newTestHandler(time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	// Registered out of order on purpose: priority decides, not
	// registration.
	h.RegisterHook(AuditLoggerShutdownHook(func() error {
		record("audit")
		return nil
	}))
	h.RegisterHook(HTTPServerShutdownHook("health", func(context.Context) error {
		record("http")
		return nil
	}))
	h.RegisterHook(VectorStoreShutdownHook(func() error {
		record("qdrant")
		return nil
	}))
	h.RegisterHook(TemporalWorkerShutdownHook(func() {
		record("worker")
	}))
	h.RegisterHook(TracingShutdownHook(func(context.Context) error {
		record("tracing")
		return nil
	}))

	h.Start()
	h.Shutdown()
	h.Wait()

	want := []string{"http", "worker", "tracing", "qdrant", "audit"}
	if len(order) != len(want) {
		t.Fatalf("ran %d hooks, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("teardown order = %v, want %v", order, want)
		}
	}
}

func TestShutdown_FailedHookDoesNotStopTheRest(t *testing.T) {
	h := newTestHandler(time.Second)

	storeClosed := false
	h.RegisterHook(HTTPServerShutdownHook("health", func(context.Context) error {
		return errors.New("listener already closed")
	}))
	h.RegisterHook(VectorStoreShutdownHook(func() error {
		storeClosed = true
		return nil
	}))

	h.Start()
	h.Shutdown()
	h.Wait()

	if !storeClosed {
		t.Error("later hooks must run even when an earlier one fails")
	}
}

func TestShutdown_HooksShareTheTimeoutBudget(t *testing.T) {
	h := newTestHandler(50 * time.Millisecond)

	var sawDeadline bool
	h.RegisterHook(HTTPServerShutdownHook("health", func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	}))

	h.Start()
	h.Shutdown()
	h.Wait()

	if !sawDeadline {
		t.Error("hooks must run under the configured timeout")
	}
}

func TestShutdown_SecondTriggerIsANoop(t *testing.T) {
	h := newTestHandler(time.Second)

	runs := 0
	h.RegisterHook(TemporalWorkerShutdownHook(func() { runs++ }))

	h.Start()
	h.Shutdown()
	h.Shutdown()
	h.Wait()

	if runs != 1 {
		t.Errorf("hook ran %d times, want 1", runs)
	}
}

func TestShutdown_DoneClosesAfterHooks(t *testing.T) {
	h := newTestHandler(time.Second)

	released := make(chan struct{})
	h.RegisterHook(TemporalWorkerShutdownHook(func() {
		<-released
	}))
	h.Start()
	h.Shutdown()

	select {
	case <-h.Done():
		t.Fatal("Done closed before hooks finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(released)
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
}

func TestShutdown_StartIsIdempotent(t *testing.T) {
	h := newTestHandler(time.Second)

	runs := 0
	h.RegisterHook(TemporalWorkerShutdownHook(func() { runs++ }))

	h.Start()
	h.Start()
	h.Shutdown()
	h.Wait()

	if runs != 1 {
		t.Errorf("hook ran %d times, want 1", runs)
	}
}

func TestDefaultShutdownConfig(t *testing.T) {
	cfg := DefaultShutdownConfig()
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Errorf("Signals = %v, want SIGTERM and SIGINT", cfg.Signals)
	}
}

func TestHookPriorities(t *testing.T) {
	http := HTTPServerShutdownHook("health", func(context.Context) error { return nil })
	worker := TemporalWorkerShutdownHook(func() {})
	tracing := TracingShutdownHook(func(context.Context) error { return nil })
	store := VectorStoreShutdownHook(func() error { return nil })
	audit := AuditLoggerShutdownHook(func() error { return nil })

	// Listener down, work drained, telemetry flushed, stores closed,
	// audit log last.
	prev := -1
	for _, h := range []ShutdownHook{http, worker, tracing, store, audit} {
		if h.Priority <= prev {
			t.Fatalf("hook %q priority %d not after %d", h.Name, h.Priority, prev)
		}
		prev = h.Priority
	}
}
