// source: sync.sql

package storage

import (
	"context"
)

const acquireLease = `-- name: AcquireLease :execrows
INSERT INTO sync_leases (user_id, holder, expires_at)
VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    holder = excluded.holder,
    expires_at = excluded.expires_at
WHERE sync_leases.expires_at < ? OR sync_leases.holder = excluded.holder
`

type AcquireLeaseParams struct {
	UserID    string
	Holder    string
	ExpiresAt int64
	Now       int64
}

func (q *Queries) AcquireLease(ctx context.Context, arg AcquireLeaseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, acquireLease,
		arg.UserID,
		arg.Holder,
		arg.ExpiresAt,
		arg.Now,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const cleanupSyncTriggers = `-- name: CleanupSyncTriggers :execrows
DELETE FROM sync_triggers WHERE updated_at < ?
`

func (q *Queries) CleanupSyncTriggers(ctx context.Context, updatedAt int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, cleanupSyncTriggers, updatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteQueueByUser = `-- name: DeleteQueueByUser :exec
DELETE FROM delete_queue WHERE user_id = ?
`

func (q *Queries) DeleteQueueByUser(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, deleteQueueByUser, userID)
	return err
}

const deleteScheduledEvent = `-- name: DeleteScheduledEvent :exec
DELETE FROM scheduled_events
WHERE user_id = ? AND event_date = ? AND external_event_id = ?
`

type DeleteScheduledEventParams struct {
	UserID          string
	EventDate       string
	ExternalEventID string
}

func (q *Queries) DeleteScheduledEvent(ctx context.Context, arg DeleteScheduledEventParams) error {
	_, err := q.db.ExecContext(ctx, deleteScheduledEvent, arg.UserID, arg.EventDate, arg.ExternalEventID)
	return err
}

const deleteScheduledEventsByUser = `-- name: DeleteScheduledEventsByUser :exec
DELETE FROM scheduled_events WHERE user_id = ?
`

func (q *Queries) DeleteScheduledEventsByUser(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, deleteScheduledEventsByUser, userID)
	return err
}

const deleteSyncTriggersByUser = `-- name: DeleteSyncTriggersByUser :exec
DELETE FROM sync_triggers WHERE user_id = ?
`

func (q *Queries) DeleteSyncTriggersByUser(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, deleteSyncTriggersByUser, userID)
	return err
}

const enqueueDelete = `-- name: EnqueueDelete :exec
INSERT INTO delete_queue (user_id, event_date, external_event_id)
VALUES (?, ?, ?)
ON CONFLICT(user_id, external_event_id) DO NOTHING
`

type EnqueueDeleteParams struct {
	UserID          string
	EventDate       string
	ExternalEventID string
}

func (q *Queries) EnqueueDelete(ctx context.Context, arg EnqueueDeleteParams) error {
	_, err := q.db.ExecContext(ctx, enqueueDelete, arg.UserID, arg.EventDate, arg.ExternalEventID)
	return err
}

const getSyncTrigger = `-- name: GetSyncTrigger :one
SELECT user_id, trigger_id, run_id, state, report, updated_at
FROM sync_triggers
WHERE user_id = ? AND trigger_id = ?
`

type GetSyncTriggerParams struct {
	UserID    string
	TriggerID string
}

func (q *Queries) GetSyncTrigger(ctx context.Context, arg GetSyncTriggerParams) (SyncTrigger, error) {
	row := q.db.QueryRowContext(ctx, getSyncTrigger, arg.UserID, arg.TriggerID)
	var i SyncTrigger
	err := row.Scan(
		&i.UserID,
		&i.TriggerID,
		&i.RunID,
		&i.State,
		&i.Report,
		&i.UpdatedAt,
	)
	return i, err
}

const listDeleteQueue = `-- name: ListDeleteQueue :many
SELECT id, user_id, event_date, external_event_id, attempts, last_error, enqueued_at
FROM delete_queue
WHERE user_id = ?
ORDER BY id
`

func (q *Queries) ListDeleteQueue(ctx context.Context, userID string) ([]DeleteQueue, error) {
	rows, err := q.db.QueryContext(ctx, listDeleteQueue, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DeleteQueue
	for rows.Next() {
		var i DeleteQueue
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.EventDate,
			&i.ExternalEventID,
			&i.Attempts,
			&i.LastError,
			&i.EnqueuedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listScheduledEvents = `-- name: ListScheduledEvents :many
SELECT user_id, event_date, external_event_id, fingerprint, created_at
FROM scheduled_events
WHERE user_id = ?
ORDER BY event_date
`

func (q *Queries) ListScheduledEvents(ctx context.Context, userID string) ([]ScheduledEvent, error) {
	rows, err := q.db.QueryContext(ctx, listScheduledEvents, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ScheduledEvent
	for rows.Next() {
		var i ScheduledEvent
		if err := rows.Scan(
			&i.UserID,
			&i.EventDate,
			&i.ExternalEventID,
			&i.Fingerprint,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const recordDeleteFailure = `-- name: RecordDeleteFailure :exec
UPDATE delete_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?
`

type RecordDeleteFailureParams struct {
	LastError string
	ID        int64
}

func (q *Queries) RecordDeleteFailure(ctx context.Context, arg RecordDeleteFailureParams) error {
	_, err := q.db.ExecContext(ctx, recordDeleteFailure, arg.LastError, arg.ID)
	return err
}

const releaseLease = `-- name: ReleaseLease :exec
DELETE FROM sync_leases WHERE user_id = ? AND holder = ?
`

type ReleaseLeaseParams struct {
	UserID string
	Holder string
}

func (q *Queries) ReleaseLease(ctx context.Context, arg ReleaseLeaseParams) error {
	_, err := q.db.ExecContext(ctx, releaseLease, arg.UserID, arg.Holder)
	return err
}

const renewLease = `-- name: RenewLease :execrows
UPDATE sync_leases SET expires_at = ?
WHERE user_id = ? AND holder = ? AND expires_at >= ?
`

type RenewLeaseParams struct {
	ExpiresAt int64
	UserID    string
	Holder    string
	Now       int64
}

func (q *Queries) RenewLease(ctx context.Context, arg RenewLeaseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, renewLease,
		arg.ExpiresAt,
		arg.UserID,
		arg.Holder,
		arg.Now,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const removeQueuedDelete = `-- name: RemoveQueuedDelete :exec
DELETE FROM delete_queue WHERE id = ?
`

func (q *Queries) RemoveQueuedDelete(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, removeQueuedDelete, id)
	return err
}

const upsertScheduledEvent = `-- name: UpsertScheduledEvent :exec
INSERT INTO scheduled_events (user_id, event_date, external_event_id, fingerprint)
VALUES (?, ?, ?, ?)
ON CONFLICT(user_id, event_date) DO UPDATE SET
    external_event_id = excluded.external_event_id,
    fingerprint = excluded.fingerprint
`

type UpsertScheduledEventParams struct {
	UserID          string
	EventDate       string
	ExternalEventID string
	Fingerprint     string
}

func (q *Queries) UpsertScheduledEvent(ctx context.Context, arg UpsertScheduledEventParams) error {
	_, err := q.db.ExecContext(ctx, upsertScheduledEvent,
		arg.UserID,
		arg.EventDate,
		arg.ExternalEventID,
		arg.Fingerprint,
	)
	return err
}

const upsertSyncTrigger = `-- name: UpsertSyncTrigger :exec
INSERT INTO sync_triggers (user_id, trigger_id, run_id, state, report, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, trigger_id) DO UPDATE SET
    run_id = excluded.run_id,
    state = excluded.state,
    report = excluded.report,
    updated_at = excluded.updated_at
`

type UpsertSyncTriggerParams struct {
	UserID    string
	TriggerID string
	RunID     string
	State     string
	Report    string
	UpdatedAt int64
}

func (q *Queries) UpsertSyncTrigger(ctx context.Context, arg UpsertSyncTriggerParams) error {
	_, err := q.db.ExecContext(ctx, upsertSyncTrigger,
		arg.UserID,
		arg.TriggerID,
		arg.RunID,
		arg.State,
		arg.Report,
		arg.UpdatedAt,
	)
	return err
}
