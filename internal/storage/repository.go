package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"wheresmymoney/internal/core"

	_ "modernc.org/sqlite"
)

// ErrLeaseHeld is returned when another worker holds the user's sync lease.
var ErrLeaseHeld = errors.New("sync lease held by another worker")

// ErrLeaseLost is returned when a holder tries to extend a lease that expired
// or passed to another worker.
var ErrLeaseLost = errors.New("sync lease lost")

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

type (
	// SyncState is everything a sync run needs to know about prior runs.
	SyncState struct {
		Scheduled core.ScheduledEventSet
		Queue     []core.QueuedDelete
		Pending   []core.Date
	}

	// SyncOutcome is the confirmed progress of one run, applied atomically.
	SyncOutcome struct {
		ConfirmedDeletes []core.QueuedDelete
		Created          []core.ScheduledEvent
		Pending          []core.Date
	}

	TriggerRecord struct {
		UserID    string
		TriggerID string
		RunID     string
		State     string
		Report    []byte
		UpdatedAt time.Time
	}
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping is used by health checks.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Users

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	row, err := r.queries.CreateUser(ctx, CreateUserParams{
		ID:         u.ID,
		Email:      u.Email,
		CalendarID: u.CalendarID,
		OauthToken: u.OAuthToken,
	})
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}

	slog.InfoContext(ctx, "User saved to SQLite", "user_id", row.ID)
	return toCoreUser(row)
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	row, err := r.queries.GetUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.NotFoundError("storage.get_user", fmt.Errorf("%w: %s", core.ErrUserNotFound, id))
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	return toCoreUser(row)
}

func (r *SQLiteRepository) UpdateCalendar(ctx context.Context, userID, calendarID string) error {
	if err := r.queries.UpdateUserCalendar(ctx, UpdateUserCalendarParams{CalendarID: calendarID, ID: userID}); err != nil {
		return fmt.Errorf("update user calendar: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateOAuthToken(ctx context.Context, userID, token string) error {
	if err := r.queries.UpdateUserOAuthToken(ctx, UpdateUserOAuthTokenParams{OauthToken: token, ID: userID}); err != nil {
		return fmt.Errorf("update user oauth token: %w", err)
	}
	return nil
}

// DeleteUser removes the user and every row that belongs to them.
func (r *SQLiteRepository) DeleteUser(ctx context.Context, userID string) error {
	err := r.inTx(ctx, func(q *Queries) error {
		if err := q.DeleteQueueByUser(ctx, userID); err != nil {
			return fmt.Errorf("delete queue: %w", err)
		}
		if err := q.DeleteScheduledEventsByUser(ctx, userID); err != nil {
			return fmt.Errorf("delete scheduled events: %w", err)
		}
		if err := q.DeleteSyncTriggersByUser(ctx, userID); err != nil {
			return fmt.Errorf("delete sync triggers: %w", err)
		}
		if err := q.DeleteItemsByUser(ctx, userID); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		if err := q.DeleteUser(ctx, userID); err != nil {
			return fmt.Errorf("delete user row: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	slog.InfoContext(ctx, "User deleted from SQLite", "user_id", userID)
	return nil
}

// ListUsersWithPendingWork returns users that have queued deletes or
// dates left pending by a previous run.
func (r *SQLiteRepository) ListUsersWithPendingWork(ctx context.Context, limit int) ([]string, error) {
	ids, err := r.queries.ListUsersWithPendingWork(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list users with pending work: %w", err)
	}
	return ids, nil
}

// Items

func (r *SQLiteRepository) SaveItem(ctx context.Context, it core.Item) error {
	err := r.queries.CreateItem(ctx, CreateItemParams{
		ItemID:        it.ItemID,
		UserID:        it.UserID,
		AccessToken:   it.AccessToken,
		InstitutionID: it.InstitutionID,
	})
	if err != nil {
		return fmt.Errorf("save item: %w", err)
	}

	slog.InfoContext(ctx, "Item saved to SQLite",
		"item_id", it.ItemID,
		"user_id", it.UserID,
		"institution_id", it.InstitutionID)
	return nil
}

func (r *SQLiteRepository) GetItem(ctx context.Context, itemID string) (core.Item, error) {
	row, err := r.queries.GetItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Item{}, core.NotFoundError("storage.get_item", fmt.Errorf("%w: %s", core.ErrItemNotFound, itemID))
	}
	if err != nil {
		return core.Item{}, fmt.Errorf("get item: %w", err)
	}
	return toCoreItem(row), nil
}

func (r *SQLiteRepository) ListItems(ctx context.Context, userID string) ([]core.Item, error) {
	rows, err := r.queries.ListItemsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items := make([]core.Item, len(rows))
	for i, row := range rows {
		items[i] = toCoreItem(row)
	}
	return items, nil
}

func (r *SQLiteRepository) DeleteItem(ctx context.Context, itemID string) error {
	if err := r.queries.DeleteItem(ctx, itemID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// Sync state

func (r *SQLiteRepository) LoadSyncState(ctx context.Context, userID string) (SyncState, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return SyncState{}, err
	}

	events, err := r.queries.ListScheduledEvents(ctx, userID)
	if err != nil {
		return SyncState{}, fmt.Errorf("list scheduled events: %w", err)
	}

	state := SyncState{
		Scheduled: make(core.ScheduledEventSet, len(events)),
		Pending:   user.DatesToSchedule,
	}
	for _, ev := range events {
		date, err := core.ParseDate(ev.EventDate)
		if err != nil {
			return SyncState{}, fmt.Errorf("parse scheduled event date: %w", err)
		}
		state.Scheduled[date] = core.ScheduledEvent{
			Date:            date,
			ExternalEventID: ev.ExternalEventID,
			Fingerprint:     ev.Fingerprint,
		}
	}

	state.Queue, err = r.listQueue(ctx, r.queries, userID)
	if err != nil {
		return SyncState{}, err
	}
	return state, nil
}

func (r *SQLiteRepository) listQueue(ctx context.Context, q *Queries, userID string) ([]core.QueuedDelete, error) {
	rows, err := q.ListDeleteQueue(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list delete queue: %w", err)
	}
	queue := make([]core.QueuedDelete, 0, len(rows))
	for _, row := range rows {
		date, err := core.ParseDate(row.EventDate)
		if err != nil {
			return nil, fmt.Errorf("parse queued delete date: %w", err)
		}
		queue = append(queue, core.QueuedDelete{
			ID:              row.ID,
			Date:            date,
			ExternalEventID: row.ExternalEventID,
		})
	}
	return queue, nil
}

// EnqueueDeletes persists deletes before any of them is attempted and
// returns the user's whole queue, including entries left by earlier runs.
func (r *SQLiteRepository) EnqueueDeletes(ctx context.Context, userID string, deletes []core.ScheduledEvent) ([]core.QueuedDelete, error) {
	var queue []core.QueuedDelete
	err := r.inTx(ctx, func(q *Queries) error {
		for _, ev := range deletes {
			err := q.EnqueueDelete(ctx, EnqueueDeleteParams{
				UserID:          userID,
				EventDate:       ev.Date.String(),
				ExternalEventID: ev.ExternalEventID,
			})
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", ev.ExternalEventID, err)
			}
		}
		var err error
		queue, err = r.listQueue(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue deletes: %w", err)
	}

	if len(deletes) > 0 {
		slog.InfoContext(ctx, "Deletes enqueued",
			"user_id", userID,
			"new", len(deletes),
			"queue_size", len(queue))
	}
	return queue, nil
}

func (r *SQLiteRepository) RecordDeleteFailure(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := r.queries.RecordDeleteFailure(ctx, RecordDeleteFailureParams{LastError: msg, ID: id}); err != nil {
		return fmt.Errorf("record delete failure: %w", err)
	}
	return nil
}

// ApplySyncOutcome commits a run's confirmed progress in one transaction.
func (r *SQLiteRepository) ApplySyncOutcome(ctx context.Context, userID string, out SyncOutcome) error {
	pending, err := encodeDates(out.Pending)
	if err != nil {
		return fmt.Errorf("encode pending dates: %w", err)
	}

	err = r.inTx(ctx, func(q *Queries) error {
		for _, d := range out.ConfirmedDeletes {
			if err := q.DeleteScheduledEvent(ctx, DeleteScheduledEventParams{
				UserID:          userID,
				EventDate:       d.Date.String(),
				ExternalEventID: d.ExternalEventID,
			}); err != nil {
				return fmt.Errorf("remove scheduled event %s: %w", d.Date, err)
			}
			if err := q.RemoveQueuedDelete(ctx, d.ID); err != nil {
				return fmt.Errorf("dequeue delete %d: %w", d.ID, err)
			}
		}
		for _, ev := range out.Created {
			if err := q.UpsertScheduledEvent(ctx, UpsertScheduledEventParams{
				UserID:          userID,
				EventDate:       ev.Date.String(),
				ExternalEventID: ev.ExternalEventID,
				Fingerprint:     ev.Fingerprint,
			}); err != nil {
				return fmt.Errorf("store scheduled event %s: %w", ev.Date, err)
			}
		}
		if err := q.SetDatesToSchedule(ctx, SetDatesToScheduleParams{DatesToSchedule: pending, ID: userID}); err != nil {
			return fmt.Errorf("store pending dates: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply sync outcome: %w", err)
	}

	slog.InfoContext(ctx, "Sync outcome persisted",
		"user_id", userID,
		"deleted", len(out.ConfirmedDeletes),
		"created", len(out.Created),
		"pending", len(out.Pending))
	return nil
}

// Triggers

// GetTrigger returns the stored record for a trigger, or found=false.
func (r *SQLiteRepository) GetTrigger(ctx context.Context, userID, triggerID string) (TriggerRecord, bool, error) {
	row, err := r.queries.GetSyncTrigger(ctx, GetSyncTriggerParams{UserID: userID, TriggerID: triggerID})
	if errors.Is(err, sql.ErrNoRows) {
		return TriggerRecord{}, false, nil
	}
	if err != nil {
		return TriggerRecord{}, false, fmt.Errorf("get sync trigger: %w", err)
	}
	return TriggerRecord{
		UserID:    row.UserID,
		TriggerID: row.TriggerID,
		RunID:     row.RunID,
		State:     row.State,
		Report:    []byte(row.Report),
		UpdatedAt: time.Unix(row.UpdatedAt, 0),
	}, true, nil
}

func (r *SQLiteRepository) SaveTrigger(ctx context.Context, rec TriggerRecord) error {
	report := string(rec.Report)
	if report == "" {
		report = "{}"
	}
	err := r.queries.UpsertSyncTrigger(ctx, UpsertSyncTriggerParams{
		UserID:    rec.UserID,
		TriggerID: rec.TriggerID,
		RunID:     rec.RunID,
		State:     rec.State,
		Report:    report,
		UpdatedAt: r.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("save sync trigger: %w", err)
	}
	return nil
}

// CleanupTriggers forgets trigger records older than age.
func (r *SQLiteRepository) CleanupTriggers(ctx context.Context, age time.Duration) (int64, error) {
	n, err := r.queries.CleanupSyncTriggers(ctx, r.now().Add(-age).Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup sync triggers: %w", err)
	}
	return n, nil
}

// Leases

// AcquireLease takes the user's cross-process sync lease for holder. A lease
// held by someone else that has not expired yields ErrLeaseHeld.
func (r *SQLiteRepository) AcquireLease(ctx context.Context, userID, holder string, ttl time.Duration) error {
	now := r.now()
	n, err := r.queries.AcquireLease(ctx, AcquireLeaseParams{
		UserID:    userID,
		Holder:    holder,
		ExpiresAt: now.Add(ttl).UnixMilli(),
		Now:       now.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// RenewLease pushes the expiry of a lease holder still owns. It never revives
// an expired lease.
func (r *SQLiteRepository) RenewLease(ctx context.Context, userID, holder string, ttl time.Duration) error {
	now := r.now()
	n, err := r.queries.RenewLease(ctx, RenewLeaseParams{
		ExpiresAt: now.Add(ttl).UnixMilli(),
		UserID:    userID,
		Holder:    holder,
		Now:       now.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *SQLiteRepository) ReleaseLease(ctx context.Context, userID, holder string) error {
	if err := r.queries.ReleaseLease(ctx, ReleaseLeaseParams{UserID: userID, Holder: holder}); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func toCoreUser(u User) (core.User, error) {
	dates, err := decodeDates(u.DatesToSchedule)
	if err != nil {
		return core.User{}, fmt.Errorf("decode dates to schedule for %s: %w", u.ID, err)
	}
	return core.User{
		ID:              u.ID,
		Email:           u.Email,
		CalendarID:      u.CalendarID,
		OAuthToken:      u.OauthToken,
		DatesToSchedule: dates,
	}, nil
}

func toCoreItem(it Item) core.Item {
	return core.Item{
		ItemID:        it.ItemID,
		UserID:        it.UserID,
		AccessToken:   it.AccessToken,
		InstitutionID: it.InstitutionID,
	}
}

func encodeDates(dates []core.Date) (string, error) {
	if len(dates) == 0 {
		return "[]", nil
	}
	sorted := append([]core.Date(nil), dates...)
	core.SortDates(sorted)
	b, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDates(s string) ([]core.Date, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var dates []core.Date
	if err := json.Unmarshal([]byte(s), &dates); err != nil {
		return nil, err
	}
	return dates, nil
}
