package services

import (
	"context"
	"testing"
	"time"
)

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.PollInterval != time.Minute {
		t.Errorf("expected PollInterval 1m, got %v", config.PollInterval)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}
	if config.CleanupInterval != time.Hour {
		t.Errorf("expected CleanupInterval 1h, got %v", config.CleanupInterval)
	}
	if config.CleanupAge != 7*24*time.Hour {
		t.Errorf("expected CleanupAge 168h, got %v", config.CleanupAge)
	}
}

func TestSyncProcessor_StartTwice(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, DefaultSyncProcessorConfig())

	processor.mu.Lock()
	processor.running = true
	processor.mu.Unlock()

	if err := processor.Start(context.Background()); err == nil {
		t.Error("expected error when starting already running processor")
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, DefaultSyncProcessorConfig())
	if processor.IsRunning() {
		t.Error("processor should not be running initially")
	}
	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestSyncProcessor_ResumesPendingWork(t *testing.T) {
	h := newHarness(t)
	h.addTxns(
		txnOn("t1", 2024, 3, 1, "12.00", "Lunch"),
		txnOn("t2", 2024, 3, 2, "8.00", "Coffee"),
	)
	h.cal.CreateErrors["2024-03-02"] = transientErr()

	report, err := h.sync("first")
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if len(report.Pending) != 1 {
		t.Fatalf("pending = %+v", report.Pending)
	}

	delete(h.cal.CreateErrors, "2024-03-02")

	processor := NewSyncProcessor(h.store, h.orch, DefaultSyncProcessorConfig())
	if n := processor.processBatch(context.Background()); n != 1 {
		t.Fatalf("completed = %d, want 1", n)
	}
	if got := len(h.cal.Events(h.calID)); got != 2 {
		t.Errorf("events = %d, want 2", got)
	}

	ids, err := h.store.ListUsersWithPendingWork(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("users still pending: %v", ids)
	}
}

func TestSyncProcessor_StartStop(t *testing.T) {
	h := newHarness(t)
	config := DefaultSyncProcessorConfig()
	config.PollInterval = 10 * time.Millisecond
	processor := NewSyncProcessor(h.store, h.orch, config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := processor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !processor.IsRunning() {
		t.Error("processor should be running")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should be stopped")
	}
}
