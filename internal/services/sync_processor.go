package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wheresmymoney/internal/core"
	"wheresmymoney/internal/storage"

	"github.com/google/uuid"
)

// SyncProcessorConfig holds configuration for the resume loop.
type SyncProcessorConfig struct {
	// PollInterval is how often to look for users with unfinished work (default: 1m)
	PollInterval time.Duration

	// BatchSize is the max number of users resumed per poll cycle (default: 10)
	BatchSize int

	// CleanupInterval is how often old trigger records are removed (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old trigger records must be before removal (default: 7 days)
	CleanupAge time.Duration
}

func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:    1 * time.Minute,
		BatchSize:       10,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      7 * 24 * time.Hour,
	}
}

// Syncer runs one trigger to completion.
type Syncer interface {
	Sync(ctx context.Context, trigger core.SyncTrigger) (Report, error)
}

// SyncProcessor periodically re-runs syncs for users that still have queued
// deletes or pending dates, which is how work interrupted by a crash or a
// partial failure gets finished.
type SyncProcessor struct {
	storage *storage.SQLiteRepository
	syncer  Syncer
	config  SyncProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(storage *storage.SQLiteRepository, syncer Syncer, config SyncProcessorConfig) *SyncProcessor {
	return &SyncProcessor{
		storage: storage,
		syncer:  syncer,
		config:  config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Resume immediately on startup
	p.processBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupTriggers(ctx)
		}
	}
}

// processBatch resumes up to BatchSize users and returns how many settled
// with nothing left pending.
func (p *SyncProcessor) processBatch(ctx context.Context) int {
	userIDs, err := p.storage.ListUsersWithPendingWork(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list users with pending work", "error", err)
		return 0
	}

	if len(userIDs) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Resuming pending syncs", "count", len(userIDs))

	completed := 0
	for _, userID := range userIDs {
		select {
		case <-p.stopCh:
			return completed
		case <-ctx.Done():
			return completed
		default:
		}

		trigger := core.SyncTrigger{
			UserID:    userID,
			TriggerID: "resume-" + uuid.NewString(),
			Source:    "resume",
		}
		report, err := p.syncer.Sync(ctx, trigger)
		if err != nil {
			slog.WarnContext(ctx, "Resumed sync failed",
				"user_id", userID,
				"error_kind", core.KindOf(err),
				"error", err)
			continue
		}
		if report.Complete() {
			completed++
		}
	}
	return completed
}

func (p *SyncProcessor) cleanupTriggers(ctx context.Context) {
	n, err := p.storage.CleanupTriggers(ctx, p.config.CleanupAge)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup sync triggers", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Old sync triggers removed", "count", n)
	}
}
