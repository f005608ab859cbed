package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"wheresmymoney/internal/banking"
	"wheresmymoney/internal/calendar"
	"wheresmymoney/internal/core"
	"wheresmymoney/internal/lease"
	"wheresmymoney/internal/reconcile"
	"wheresmymoney/internal/retry"
	"wheresmymoney/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Pending reasons reported per date.
const (
	ReasonDeleteFailed  = "delete_failed"
	ReasonDeleteBlocked = "waiting_for_delete"
	ReasonCreateFailed  = "create_failed"
	ReasonConflict      = "conflict"
	ReasonLookupFailed  = "lookup_failed"
	ReasonAborted       = "aborted"
)

type OrchestratorConfig struct {
	// WindowDays is how far back transactions are fetched on every run.
	WindowDays int
	// MaxLookbackDays bounds how far hinted or pending dates may stretch the window.
	MaxLookbackDays int
	IncludePending  bool
	Concurrency     int
	Retry           retry.Policy
	LeaseTTL        time.Duration
	// HolderID identifies this process in the persisted lease table.
	HolderID string
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	host, _ := os.Hostname()
	return OrchestratorConfig{
		WindowDays:      30,
		MaxLookbackDays: 365,
		Concurrency:     4,
		Retry:           retry.DefaultPolicy(),
		LeaseTTL:        5 * time.Minute,
		HolderID:        fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
	}
}

type (
	PendingDate struct {
		Date   core.Date `json:"date"`
		Reason string    `json:"reason"`
	}

	// Report is the outcome of one trigger.
	Report struct {
		UserID    string         `json:"user_id"`
		TriggerID string         `json:"trigger_id"`
		RunID     string         `json:"run_id"`
		State     SyncState      `json:"state"`
		Created   []core.Date    `json:"created"`
		Deleted   []core.Date    `json:"deleted"`
		Refreshed []core.Date    `json:"refreshed"`
		Unchanged []core.Date    `json:"unchanged"`
		Pending   []PendingDate  `json:"pending"`
		ErrorKind core.ErrorKind `json:"error_kind,omitempty"`
		Error     string         `json:"error,omitempty"`
		Duplicate bool           `json:"duplicate,omitempty"`
		StartedAt time.Time      `json:"started_at"`
		Duration  string         `json:"duration"`
	}
)

// Complete reports whether the run settled with nothing left to do.
func (r Report) Complete() bool {
	return r.State == StateSettled && len(r.Pending) == 0
}

// Orchestrator runs reconciliation for one user at a time.
type Orchestrator struct {
	store    *storage.SQLiteRepository
	source   banking.TransactionSource
	calendar calendar.Authorizer
	guard    *Guard
	locks    *lease.Locker
	config   OrchestratorConfig
	now      func() time.Time
}

func NewOrchestrator(
	store *storage.SQLiteRepository,
	source banking.TransactionSource,
	cal calendar.Authorizer,
	guard *Guard,
	config OrchestratorConfig,
) *Orchestrator {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.WindowDays < 1 {
		config.WindowDays = 1
	}
	return &Orchestrator{
		store:    store,
		source:   source,
		calendar: cal,
		guard:    guard,
		locks:    lease.New(),
		config:   config,
		now:      time.Now,
	}
}

// Sync processes one trigger. A trigger that already settled completely is
// answered from the guard without touching any collaborator. The returned
// error is non-nil exactly when the run ends in StateFailed or never starts.
func (o *Orchestrator) Sync(ctx context.Context, trigger core.SyncTrigger) (Report, error) {
	if err := trigger.Validate(); err != nil {
		return Report{}, core.ValidationError("sync", err)
	}

	// Waiting here is how a trigger queues behind an in-flight run.
	release, err := o.locks.Acquire(ctx, trigger.UserID)
	if err != nil {
		return Report{}, core.TransientError("sync.lock", err)
	}
	defer release()

	if err := o.store.AcquireLease(ctx, trigger.UserID, o.config.HolderID, o.config.LeaseTTL); err != nil {
		if errors.Is(err, storage.ErrLeaseHeld) {
			return Report{}, core.TransientError("sync.lease", err)
		}
		return Report{}, fmt.Errorf("acquire sync lease: %w", err)
	}
	defer func() {
		if err := o.store.ReleaseLease(context.WithoutCancel(ctx), trigger.UserID, o.config.HolderID); err != nil {
			slog.WarnContext(ctx, "Failed to release sync lease", "user_id", trigger.UserID, "error", err)
		}
	}()

	ctx, stopHeartbeat := o.keepLease(ctx, trigger.UserID)
	defer stopHeartbeat()

	if prior, ok, err := o.guard.Lookup(ctx, trigger.UserID, trigger.TriggerID); err != nil {
		return Report{}, fmt.Errorf("check trigger: %w", err)
	} else if ok {
		slog.InfoContext(ctx, "Duplicate trigger ignored",
			"user_id", trigger.UserID,
			"trigger_id", trigger.TriggerID,
			"run_id", prior.RunID)
		prior.Duplicate = true
		return prior, nil
	}

	r := &run{
		o:       o,
		trigger: trigger,
		m:       newMachine(),
		report: Report{
			UserID:    trigger.UserID,
			TriggerID: trigger.TriggerID,
			RunID:     uuid.NewString(),
			State:     StateIdle,
			StartedAt: o.now().UTC(),
		},
		created: map[core.Date]core.ScheduledEvent{},
		pending: map[core.Date]string{},
	}

	if err := o.guard.Begin(ctx, r.report); err != nil {
		return Report{}, fmt.Errorf("record trigger: %w", err)
	}

	slog.InfoContext(ctx, "Sync run started",
		"user_id", trigger.UserID,
		"trigger_id", trigger.TriggerID,
		"run_id", r.report.RunID,
		"source", trigger.Source)

	runErr := r.execute(ctx)
	report := r.finish(runErr)

	if err := o.guard.Finish(context.WithoutCancel(ctx), report); err != nil {
		slog.ErrorContext(ctx, "Failed to record trigger outcome",
			"user_id", trigger.UserID,
			"trigger_id", trigger.TriggerID,
			"error", err)
	}

	slog.InfoContext(ctx, "Sync run finished",
		"user_id", trigger.UserID,
		"trigger_id", trigger.TriggerID,
		"run_id", report.RunID,
		"state", report.State,
		"created", len(report.Created),
		"deleted", len(report.Deleted),
		"refreshed", len(report.Refreshed),
		"unchanged", len(report.Unchanged),
		"pending", len(report.Pending),
		"duration", report.Duration)

	return report, runErr
}

// keepLease renews the persisted lease every third of its TTL until stop is
// called. Losing the lease cancels the returned context with ErrLeaseLost.
func (o *Orchestrator) keepLease(ctx context.Context, userID string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	interval := o.config.LeaseTTL / 3
	if interval <= 0 {
		return ctx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := o.store.RenewLease(ctx, userID, o.config.HolderID, o.config.LeaseTTL)
			if errors.Is(err, storage.ErrLeaseLost) {
				slog.ErrorContext(ctx, "Sync lease lost, cancelling run", "user_id", userID, "holder", o.config.HolderID)
				cancel(core.TransientError("sync.lease", storage.ErrLeaseLost))
				return
			}
			if err != nil && ctx.Err() == nil {
				// The lease stays valid until its TTL; the next tick retries.
				slog.WarnContext(ctx, "Failed to renew sync lease", "user_id", userID, "error", err)
			}
		}
	}()

	return ctx, func() {
		close(done)
		<-stopped
		cancel(nil)
	}
}

// leaseLost reports whether ctx was cancelled by keepLease.
func leaseLost(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil && errors.Is(err, storage.ErrLeaseLost) {
		return err
	}
	return nil
}

// run holds the working state of one Sync call.
type run struct {
	o       *Orchestrator
	trigger core.SyncTrigger
	m       *machine
	report  Report

	user       core.User
	session    calendar.Session
	state      storage.SyncState
	start, end core.Date
	fetched    []core.Transaction
	current    map[core.Date]core.DaySummary
	plan       reconcile.Plan
	queue      []core.QueuedDelete
	queuedIDs  map[string]bool
	blocked    map[core.Date]bool

	mu        sync.Mutex
	confirmed []core.QueuedDelete
	created   map[core.Date]core.ScheduledEvent
	pending   map[core.Date]string
}

func (r *run) execute(ctx context.Context) error {
	steps := []struct {
		state SyncState
		fn    func(context.Context) error
	}{
		{StateFetching, r.fetch},
		{StateAggregating, r.aggregate},
		{StateDiffing, r.diff},
		{StateDeleting, r.deleteQueued},
		{StateCreating, r.createEvents},
		{StatePersisting, r.persist},
	}
	for _, step := range steps {
		if err := leaseLost(ctx); err != nil {
			return err
		}
		if err := r.m.advance(step.state); err != nil {
			return err
		}
		if err := step.fn(ctx); err != nil {
			if lost := leaseLost(ctx); lost != nil {
				return lost
			}
			return err
		}
	}
	return r.m.advance(StateSettled)
}

func (r *run) policy() retry.Policy {
	return r.o.config.Retry
}

func (r *run) fetch(ctx context.Context) error {
	user, err := r.o.store.GetUser(ctx, r.trigger.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	r.user = user
	if user.CalendarID == "" {
		return core.ValidationError("sync.fetch", fmt.Errorf("user %s has no calendar", user.ID))
	}

	r.session, err = retry.DoValue(ctx, r.policy(), "calendar.authorize", func(ctx context.Context) (calendar.Session, error) {
		return r.o.calendar.Authorize(ctx, user.OAuthToken)
	})
	if err != nil {
		return fmt.Errorf("authorize calendar: %w", err)
	}

	state, err := r.o.store.LoadSyncState(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	r.state = state
	r.computeWindow(state)

	items, err := r.o.store.ListItems(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	results := make([][]core.Transaction, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.config.Concurrency)
	for i, item := range items {
		g.Go(func() error {
			res, err := retry.DoValue(gctx, r.policy(), "banking.transactions", func(ctx context.Context) (*banking.TransactionsResult, error) {
				return r.o.source.Transactions(ctx, item.AccessToken, r.start, r.end)
			})
			if err != nil {
				return fmt.Errorf("fetch transactions for item %s: %w", item.ItemID, err)
			}
			results[i] = res.Transactions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var txns []core.Transaction
	for _, part := range results {
		txns = append(txns, part...)
	}
	r.fetched = txns

	slog.DebugContext(ctx, "Transactions fetched",
		"user_id", user.ID,
		"items", len(items),
		"transactions", len(txns),
		"start", r.start.String(),
		"end", r.end.String())
	return nil
}

// computeWindow covers the rolling window plus any dates a trigger, a
// previous run, or a queued delete says need another look.
func (r *run) computeWindow(state storage.SyncState) {
	r.end = core.DateOf(r.o.now().UTC())
	r.start = r.end.AddDays(-(r.o.config.WindowDays - 1))
	floor := r.end.AddDays(-r.o.config.MaxLookbackDays)

	hints := append([]core.Date(nil), r.trigger.NewTransactionDates...)
	hints = append(hints, state.Pending...)
	for _, q := range state.Queue {
		hints = append(hints, q.Date)
	}
	for _, d := range hints {
		if d.IsZero() || !d.Before(r.start) {
			continue
		}
		if d.Before(floor) {
			slog.Warn("Ignoring date beyond lookback limit", "user_id", r.trigger.UserID, "date", d.String())
			continue
		}
		r.start = d
	}
}

func (r *run) aggregate(ctx context.Context) error {
	txns := reconcile.FilterWindow(r.fetched, r.start, r.end, r.o.config.IncludePending)
	current, err := reconcile.Aggregate(txns)
	if err != nil {
		return fmt.Errorf("aggregate transactions: %w", err)
	}
	r.current = current
	return nil
}

func (r *run) diff(ctx context.Context) error {
	r.queuedIDs = make(map[string]bool, len(r.state.Queue))
	for _, q := range r.state.Queue {
		r.queuedIDs[q.ExternalEventID] = true
	}

	// Events outside the window were not refetched, and events already
	// queued for deletion are no longer part of the desired calendar.
	scheduled := make(core.ScheduledEventSet, len(r.state.Scheduled))
	for d, ev := range r.state.Scheduled {
		if d.Before(r.start) || r.end.Before(d) || r.queuedIDs[ev.ExternalEventID] {
			continue
		}
		scheduled[d] = ev
	}

	r.plan = reconcile.Diff(r.current, scheduled)
	r.report.Unchanged = r.plan.Unchanged

	deletes := make([]core.ScheduledEvent, 0, len(r.plan.ToDelete)+len(r.plan.ToRefresh))
	for _, d := range r.plan.ToDelete {
		deletes = append(deletes, scheduled[d])
	}
	for _, d := range r.plan.ToRefresh {
		deletes = append(deletes, scheduled[d])
	}

	queue, err := r.o.store.EnqueueDeletes(ctx, r.user.ID, deletes)
	if err != nil {
		return fmt.Errorf("persist delete queue: %w", err)
	}
	r.queue = queue
	for _, q := range queue {
		r.queuedIDs[q.ExternalEventID] = true
	}

	slog.DebugContext(ctx, "Sync plan computed",
		"user_id", r.user.ID,
		"run_id", r.report.RunID,
		"to_create", len(r.plan.ToCreate),
		"to_delete", len(r.plan.ToDelete),
		"to_refresh", len(r.plan.ToRefresh),
		"unchanged", len(r.plan.Unchanged),
		"queue", len(queue))
	return nil
}

// deleteQueued works through the whole persisted queue. Failures leave the
// entry queued and its date pending; an authorization failure stops the run.
func (r *run) deleteQueued(ctx context.Context) error {
	r.blocked = map[core.Date]bool{}
	if len(r.queue) == 0 {
		return nil
	}

	results := make([]error, len(r.queue))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.config.Concurrency)
	for i, q := range r.queue {
		g.Go(func() error {
			err := retry.Do(gctx, r.policy(), "calendar.delete_event", func(ctx context.Context) error {
				return r.session.DeleteEvent(ctx, r.user.CalendarID, q.ExternalEventID)
			})
			if core.IsNotFound(err) {
				slog.DebugContext(gctx, "Event already gone", "user_id", r.user.ID, "event_id", q.ExternalEventID)
				err = nil
			}
			results[i] = err
			if core.IsAuthorization(err) {
				return err
			}
			return nil
		})
	}
	authErr := g.Wait()

	for i, q := range r.queue {
		if results[i] == nil {
			r.confirmed = append(r.confirmed, q)
			continue
		}
		r.blocked[q.Date] = true
		r.markPending(q.Date, ReasonDeleteFailed)
		slog.WarnContext(ctx, "Event delete failed",
			"user_id", r.user.ID,
			"date", q.Date.String(),
			"event_id", q.ExternalEventID,
			"error", results[i])
		if err := r.o.store.RecordDeleteFailure(context.WithoutCancel(ctx), q.ID, results[i]); err != nil {
			slog.WarnContext(ctx, "Failed to record delete failure", "queue_id", q.ID, "error", err)
		}
	}

	if authErr != nil {
		return fmt.Errorf("delete events: %w", authErr)
	}
	return nil
}

func (r *run) createEvents(ctx context.Context) error {
	dates := make([]core.Date, 0, len(r.plan.ToCreate)+len(r.plan.ToRefresh))
	dates = append(dates, r.plan.ToCreate...)
	dates = append(dates, r.plan.ToRefresh...)
	core.SortDates(dates)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.config.Concurrency)
	for _, d := range dates {
		if r.blocked[d] {
			r.markPending(d, ReasonDeleteBlocked)
			continue
		}
		g.Go(func() error {
			return r.createOne(gctx, d)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("create events: %w", err)
	}
	return nil
}

// createOne creates the event for d unless an untracked managed event is
// already there. A matching one is adopted. Any other is a conflict: the
// event is left alone and the date stays pending.
func (r *run) createOne(ctx context.Context, d core.Date) error {
	spec := reconcile.Materialize(r.current[d])
	calID := r.user.CalendarID

	found, err := retry.DoValue(ctx, r.policy(), "calendar.find_events", func(ctx context.Context) ([]calendar.ManagedEvent, error) {
		return r.session.FindManagedEvents(ctx, calID, d)
	})
	if err != nil {
		return r.dateFailed(ctx, d, ReasonLookupFailed, err)
	}

	var same, stale []calendar.ManagedEvent
	for _, ev := range found {
		if r.queuedIDs[ev.ID] {
			continue
		}
		if ev.Fingerprint == spec.Fingerprint {
			same = append(same, ev)
		} else {
			stale = append(stale, ev)
		}
	}

	if len(stale) > 0 {
		ids := make([]string, len(stale))
		for i, ev := range stale {
			ids[i] = ev.ID
		}
		conflict := core.ConflictError("sync.create_event",
			fmt.Errorf("untracked event(s) %v already on %s", ids, d))
		return r.dateFailed(ctx, d, ReasonConflict, conflict)
	}

	if len(same) > 0 {
		keep := same[0]
		for _, dup := range same[1:] {
			err := retry.Do(ctx, r.policy(), "calendar.delete_event", func(ctx context.Context) error {
				return r.session.DeleteEvent(ctx, calID, dup.ID)
			})
			if err != nil && !core.IsNotFound(err) {
				return r.dateFailed(ctx, d, ReasonDeleteFailed, err)
			}
		}
		slog.InfoContext(ctx, "Adopted existing event",
			"user_id", r.user.ID,
			"date", d.String(),
			"event_id", keep.ID,
			"duplicates_removed", len(same)-1)
		r.recordCreated(core.ScheduledEvent{Date: d, ExternalEventID: keep.ID, Fingerprint: spec.Fingerprint})
		return nil
	}

	id, err := retry.DoValue(ctx, r.policy(), "calendar.create_event", func(ctx context.Context) (string, error) {
		return r.session.CreateEvent(ctx, calID, spec)
	})
	if err != nil {
		return r.dateFailed(ctx, d, ReasonCreateFailed, err)
	}
	r.recordCreated(core.ScheduledEvent{Date: d, ExternalEventID: id, Fingerprint: spec.Fingerprint})
	return nil
}

// dateFailed marks d pending. Only authorization failures abort the run.
func (r *run) dateFailed(ctx context.Context, d core.Date, reason string, err error) error {
	r.markPending(d, reason)
	slog.WarnContext(ctx, "Date left pending",
		"user_id", r.user.ID,
		"date", d.String(),
		"reason", reason,
		"error", err)
	if core.IsAuthorization(err) {
		return err
	}
	return nil
}

func (r *run) markPending(d core.Date, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[d]; !ok {
		r.pending[d] = reason
	}
}

func (r *run) recordCreated(ev core.ScheduledEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created[ev.Date] = ev
}

func (r *run) outcome() storage.SyncOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := storage.SyncOutcome{ConfirmedDeletes: r.confirmed}
	for _, ev := range r.created {
		out.Created = append(out.Created, ev)
	}
	for d := range r.pending {
		out.Pending = append(out.Pending, d)
	}
	core.SortDates(out.Pending)
	return out
}

func (r *run) persist(ctx context.Context) error {
	if err := r.o.store.RenewLease(ctx, r.user.ID, r.o.config.HolderID, r.o.config.LeaseTTL); err != nil {
		if errors.Is(err, storage.ErrLeaseLost) {
			return core.TransientError("sync.lease", err)
		}
		return fmt.Errorf("confirm sync lease: %w", err)
	}
	if err := r.o.store.ApplySyncOutcome(ctx, r.user.ID, r.outcome()); err != nil {
		return fmt.Errorf("persist sync outcome: %w", err)
	}
	return nil
}

// finish moves a failed run to StateFailed, saves whatever external work was
// confirmed before the failure, and builds the report.
func (r *run) finish(runErr error) Report {
	report := r.report

	if runErr != nil {
		failedIn := r.m.state
		if err := r.m.advance(StateFailed); err != nil {
			slog.Error("Unexpected state on failure", "state", failedIn, "error", err)
		}
		report.ErrorKind = core.KindOf(runErr)
		report.Error = runErr.Error()

		// Another worker owns the user's state once the lease is gone.
		if errors.Is(runErr, storage.ErrLeaseLost) {
			r.markUnfinished()
		} else if failedIn == StateDeleting || failedIn == StateCreating {
			r.markUnfinished()
			if err := r.persist(context.Background()); err != nil {
				slog.Error("Failed to persist progress of failed run",
					"user_id", r.user.ID,
					"run_id", report.RunID,
					"error", err)
			}
		}
	}

	report.State = r.m.state

	refreshing := make(map[core.Date]bool, len(r.plan.ToRefresh))
	for _, d := range r.plan.ToRefresh {
		refreshing[d] = true
	}

	r.mu.Lock()
	for d := range r.created {
		if refreshing[d] {
			report.Refreshed = append(report.Refreshed, d)
		} else {
			report.Created = append(report.Created, d)
		}
	}
	seen := map[core.Date]bool{}
	for _, q := range r.confirmed {
		if _, recreated := r.created[q.Date]; recreated || seen[q.Date] {
			continue
		}
		seen[q.Date] = true
		report.Deleted = append(report.Deleted, q.Date)
	}
	for d, reason := range r.pending {
		report.Pending = append(report.Pending, PendingDate{Date: d, Reason: reason})
	}
	r.mu.Unlock()

	core.SortDates(report.Created)
	core.SortDates(report.Refreshed)
	core.SortDates(report.Deleted)
	sortPending(report.Pending)
	report.Duration = r.o.now().UTC().Sub(report.StartedAt).String()
	return report
}

// markUnfinished marks planned work that never completed as pending.
func (r *run) markUnfinished() {
	for _, d := range append(append([]core.Date(nil), r.plan.ToCreate...), r.plan.ToRefresh...) {
		r.mu.Lock()
		_, done := r.created[d]
		r.mu.Unlock()
		if !done {
			r.markPending(d, ReasonAborted)
		}
	}
	confirmed := make(map[int64]bool, len(r.confirmed))
	for _, q := range r.confirmed {
		confirmed[q.ID] = true
	}
	for _, q := range r.queue {
		if !confirmed[q.ID] {
			r.markPending(q.Date, ReasonAborted)
		}
	}
}

func sortPending(p []PendingDate) {
	slices.SortFunc(p, func(a, b PendingDate) int {
		return a.Date.Compare(b.Date.Time)
	})
}
