package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"wheresmymoney/internal/amqp"
	"wheresmymoney/internal/core"
	"wheresmymoney/internal/services"
	"wheresmymoney/internal/storage"
)

type fakeSyncer struct {
	err      error
	report   services.Report
	triggers []core.SyncTrigger
}

func (f *fakeSyncer) Sync(_ context.Context, trigger core.SyncTrigger) (services.Report, error) {
	f.triggers = append(f.triggers, trigger)
	return f.report, f.err
}

func TestHandleSyncTrigger(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantErr       bool
		wantTransient bool
	}{
		{name: "success"},
		{name: "unknown user dropped", err: core.NotFoundError("storage.get_user", core.ErrUserNotFound)},
		{
			name:          "lease held stays transient",
			err:           core.TransientError("sync.lease", storage.ErrLeaseHeld),
			wantErr:       true,
			wantTransient: true,
		},
		{
			name:    "authorization fails",
			err:     core.AuthorizationError("calendar.authorize", errors.New("revoked")),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &fakeSyncer{err: tt.err, report: services.Report{State: services.StateSettled}}
			w := NewSyncWorker(nil, syncer, 10)

			err := w.HandleSyncTrigger(context.Background(), &amqp.SyncTriggerMessage{
				UserID:    "u1",
				TriggerID: "t1",
				Dates:     []core.Date{core.NewDate(2024, 3, 1)},
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if core.IsTransient(err) != tt.wantTransient {
				t.Errorf("transient = %v", core.IsTransient(err))
			}
			if len(syncer.triggers) != 1 || syncer.triggers[0].TriggerID != "t1" || len(syncer.triggers[0].NewTransactionDates) != 1 {
				t.Errorf("triggers = %+v", syncer.triggers)
			}
		})
	}
}

func TestStartupSyncCheck(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "worker.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.CreateUser(ctx, core.User{ID: "busy", CalendarID: "cal", OAuthToken: "tok"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateUser(ctx, core.User{ID: "idle", CalendarID: "cal", OAuthToken: "tok"}); err != nil {
		t.Fatal(err)
	}
	err = store.ApplySyncOutcome(ctx, "busy", storage.SyncOutcome{Pending: []core.Date{core.NewDate(2024, 3, 1)}})
	if err != nil {
		t.Fatal(err)
	}

	syncer := &fakeSyncer{report: services.Report{State: services.StateSettled}}
	w := NewSyncWorker(store, syncer, 10)
	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatalf("StartupSyncCheck: %v", err)
	}

	if len(syncer.triggers) != 1 {
		t.Fatalf("triggers = %+v", syncer.triggers)
	}
	got := syncer.triggers[0]
	if got.UserID != "busy" || !strings.HasPrefix(got.TriggerID, "startup-") {
		t.Errorf("trigger = %+v", got)
	}
}
