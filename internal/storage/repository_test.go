package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"wheresmymoney/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "wmm.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo *SQLiteRepository, id string) {
	t.Helper()
	if _, err := repo.CreateUser(context.Background(), core.User{ID: id, CalendarID: "cal-" + id, OAuthToken: "tok"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func TestUserLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetUser(ctx, "missing"); !core.IsNotFound(err) || !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("GetUser missing err = %v", err)
	}

	seedUser(t, repo, "u1")
	if err := repo.UpdateCalendar(ctx, "u1", "cal-new"); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateOAuthToken(ctx, "u1", "tok-2"); err != nil {
		t.Fatal(err)
	}
	u, err := repo.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.CalendarID != "cal-new" || u.OAuthToken != "tok-2" || len(u.DatesToSchedule) != 0 {
		t.Errorf("user = %+v", u)
	}

	if err := repo.SaveItem(ctx, core.Item{ItemID: "i1", UserID: "u1", AccessToken: "a1", InstitutionID: "ins_1"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveItem(ctx, core.Item{ItemID: "i1", UserID: "u1", AccessToken: "a2", InstitutionID: "ins_1"}); err != nil {
		t.Fatal(err)
	}
	items, err := repo.ListItems(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].AccessToken != "a2" {
		t.Errorf("items = %+v", items)
	}

	if err := repo.DeleteUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetItem(ctx, "i1"); !errors.Is(err, core.ErrItemNotFound) {
		t.Errorf("item survived user deletion: %v", err)
	}
}

func TestDeleteQueueSurvivesUntilConfirmed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")

	d1 := core.NewDate(2024, 1, 1)
	d2 := core.NewDate(2024, 1, 2)
	err := repo.ApplySyncOutcome(ctx, "u1", SyncOutcome{Created: []core.ScheduledEvent{
		{Date: d1, ExternalEventID: "e1", Fingerprint: "f1"},
		{Date: d2, ExternalEventID: "e2", Fingerprint: "f2"},
	}})
	if err != nil {
		t.Fatal(err)
	}

	queue, err := repo.EnqueueDeletes(ctx, "u1", []core.ScheduledEvent{{Date: d1, ExternalEventID: "e1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 || queue[0].ID == 0 {
		t.Fatalf("queue = %+v", queue)
	}

	// Re-enqueueing the same event is a no-op.
	queue, err = repo.EnqueueDeletes(ctx, "u1", []core.ScheduledEvent{{Date: d1, ExternalEventID: "e1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 {
		t.Fatalf("duplicate enqueue grew queue: %+v", queue)
	}

	if err := repo.RecordDeleteFailure(ctx, queue[0].ID, errors.New("503")); err != nil {
		t.Fatal(err)
	}

	state, err := repo.LoadSyncState(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Queue) != 1 || len(state.Scheduled) != 2 {
		t.Fatalf("state before confirm = %+v", state)
	}

	err = repo.ApplySyncOutcome(ctx, "u1", SyncOutcome{
		ConfirmedDeletes: state.Queue,
		Pending:          []core.Date{d2, d1},
	})
	if err != nil {
		t.Fatal(err)
	}

	state, err = repo.LoadSyncState(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Queue) != 0 {
		t.Errorf("queue not drained: %+v", state.Queue)
	}
	if _, ok := state.Scheduled[d1]; ok {
		t.Error("deleted event still scheduled")
	}
	if ev := state.Scheduled[d2]; ev.ExternalEventID != "e2" {
		t.Errorf("d2 event = %+v", ev)
	}
	if len(state.Pending) != 2 || state.Pending[0] != d1 || state.Pending[1] != d2 {
		t.Errorf("pending = %v", state.Pending)
	}

	ids, err := repo.ListUsersWithPendingWork(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "u1" {
		t.Errorf("pending users = %v", ids)
	}
}

func TestConfirmedDeleteKeepsReplacement(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	d := core.NewDate(2024, 5, 5)

	if err := repo.ApplySyncOutcome(ctx, "u1", SyncOutcome{Created: []core.ScheduledEvent{{Date: d, ExternalEventID: "old"}}}); err != nil {
		t.Fatal(err)
	}
	queue, err := repo.EnqueueDeletes(ctx, "u1", []core.ScheduledEvent{{Date: d, ExternalEventID: "old"}})
	if err != nil {
		t.Fatal(err)
	}
	err = repo.ApplySyncOutcome(ctx, "u1", SyncOutcome{
		ConfirmedDeletes: queue,
		Created:          []core.ScheduledEvent{{Date: d, ExternalEventID: "new", Fingerprint: "f"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	state, err := repo.LoadSyncState(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got := state.Scheduled[d].ExternalEventID; got != "new" {
		t.Errorf("scheduled id = %q, want new", got)
	}
}

func TestTriggers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, found, err := repo.GetTrigger(ctx, "u1", "t1"); err != nil || found {
		t.Fatalf("GetTrigger empty = %v, %v", found, err)
	}
	rec := TriggerRecord{UserID: "u1", TriggerID: "t1", RunID: "r1", State: "Settled", Report: []byte(`{"created":1}`)}
	if err := repo.SaveTrigger(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, found, err := repo.GetTrigger(ctx, "u1", "t1")
	if err != nil || !found {
		t.Fatalf("GetTrigger = %v, %v", found, err)
	}
	if got.State != "Settled" || string(got.Report) != `{"created":1}` {
		t.Errorf("record = %+v", got)
	}

	repo.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err := repo.CleanupTriggers(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleaned %d, want 1", n)
	}
}

func TestLease(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()
	repo.now = func() time.Time { return now }

	if err := repo.AcquireLease(ctx, "u1", "worker-a", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := repo.AcquireLease(ctx, "u1", "worker-a", time.Minute); err != nil {
		t.Fatalf("re-acquire by holder: %v", err)
	}
	if err := repo.AcquireLease(ctx, "u1", "worker-b", time.Minute); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("competing acquire err = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := repo.AcquireLease(ctx, "u1", "worker-b", time.Minute); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}

	if err := repo.ReleaseLease(ctx, "u1", "worker-a"); err != nil {
		t.Fatal(err)
	}
	if err := repo.AcquireLease(ctx, "u1", "worker-a", time.Minute); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("stale holder released someone else's lease: %v", err)
	}
	if err := repo.ReleaseLease(ctx, "u1", "worker-b"); err != nil {
		t.Fatal(err)
	}
	if err := repo.AcquireLease(ctx, "u1", "worker-a", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestRenewLease(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()
	repo.now = func() time.Time { return now }

	if err := repo.RenewLease(ctx, "u1", "worker-a", time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("renew without lease err = %v", err)
	}
	if err := repo.AcquireLease(ctx, "u1", "worker-a", time.Minute); err != nil {
		t.Fatal(err)
	}

	now = now.Add(50 * time.Second)
	if err := repo.RenewLease(ctx, "u1", "worker-a", time.Minute); err != nil {
		t.Fatalf("renew by holder: %v", err)
	}
	if err := repo.RenewLease(ctx, "u1", "worker-b", time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("renew by other holder err = %v", err)
	}

	// The renewal moved expiry past the original minute.
	now = now.Add(30 * time.Second)
	if err := repo.AcquireLease(ctx, "u1", "worker-b", time.Minute); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("acquire of renewed lease err = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := repo.RenewLease(ctx, "u1", "worker-a", time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("renew after expiry err = %v", err)
	}
}

func TestSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "schema.db")
	repo, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	defer repo.Close()

	version, dirty, err := SchemaVersion(dbPath)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 3 || dirty {
		t.Errorf("version = %d dirty = %v, want 3 clean", version, dirty)
	}

	// Re-running is a no-op.
	if err := RunMigrations(dbPath); err != nil {
		t.Errorf("second RunMigrations: %v", err)
	}
}
