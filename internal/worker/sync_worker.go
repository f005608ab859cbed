package worker

import (
	"context"
	"fmt"
	"log/slog"

	"wheresmymoney/internal/amqp"
	"wheresmymoney/internal/core"
	"wheresmymoney/internal/log"
	"wheresmymoney/internal/services"
	"wheresmymoney/internal/storage"

	"github.com/google/uuid"
)

// SyncWorker runs sync triggers delivered over AMQP.
type SyncWorker struct {
	storage   *storage.SQLiteRepository
	syncer    services.Syncer
	batchSize int
	logger    *log.StructuredLogger
}

func NewSyncWorker(storage *storage.SQLiteRepository, syncer services.Syncer, batchSize int) *SyncWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	return &SyncWorker{
		storage:   storage,
		syncer:    syncer,
		batchSize: batchSize,
		logger: log.NewStructuredLogger(log.New(log.Config{
			Handler:   slog.Default().Handler(),
			Component: log.ComponentWorker,
		})),
	}
}

// HandleSyncTrigger processes one message. A settled run with pending dates is
// not an error: the resume loop finishes those dates later.
func (w *SyncWorker) HandleSyncTrigger(ctx context.Context, msg *amqp.SyncTriggerMessage) error {
	slog.InfoContext(ctx, "Processing sync trigger",
		"user_id", msg.UserID,
		"trigger_id", msg.TriggerID,
		"source", msg.Source,
		"queued_at", msg.Timestamp)

	report, err := w.syncer.Sync(ctx, msg.Trigger())
	if report.RunID != "" {
		w.logger.LogSyncFinished(ctx, msg.UserID, msg.TriggerID, report.RunID, string(report.State), err)
	}
	if err != nil {
		if core.KindOf(err) == core.KindNotFound {
			// The user is gone; nothing will ever make this trigger succeed.
			slog.WarnContext(ctx, "Dropping trigger for unknown user",
				"user_id", msg.UserID, "trigger_id", msg.TriggerID)
			return nil
		}
		return fmt.Errorf("sync user %s: %w", msg.UserID, err)
	}

	if report.Duplicate {
		slog.InfoContext(ctx, "Trigger already processed",
			"user_id", msg.UserID, "trigger_id", msg.TriggerID, "run_id", report.RunID)
	}
	return nil
}

// StartupSyncCheck resumes users left with unfinished work while the worker
// was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	userIDs, err := w.storage.ListUsersWithPendingWork(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("list users for startup check: %w", err)
	}

	if len(userIDs) == 0 {
		slog.InfoContext(ctx, "No pending sync work found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending sync work on startup, processing...",
		"count", len(userIDs))

	successCount := 0
	errorCount := 0
	for _, userID := range userIDs {
		report, err := w.syncer.Sync(ctx, core.SyncTrigger{
			UserID:    userID,
			TriggerID: "startup-" + uuid.NewString(),
			Source:    "startup",
		})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to resume sync during startup",
				"user_id", userID, "error", err)
			errorCount++
			continue
		}
		if report.Complete() {
			successCount++
		}
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(userIDs),
		"settled", successCount,
		"errors", errorCount)

	return nil
}
