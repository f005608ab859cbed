package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-01")
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if d != NewDate(2024, 1, 1) {
		t.Fatalf("parsed date %v does not equal constructed date", d)
	}
	if d.String() != "2024-01-01" {
		t.Fatalf("unexpected string form %q", d.String())
	}
	for _, bad := range []string{"", "2024-13-01", "01/01/2024"} {
		if _, err := ParseDate(bad); !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("%q expected ErrInvalidDate, got %v", bad, err)
		}
	}
}

func TestDateOfUsesCalendarDay(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	got := DateOf(time.Date(2024, 3, 10, 23, 30, 0, 0, loc))
	if got != NewDate(2024, 3, 10) {
		t.Fatalf("expected 2024-03-10, got %s", got)
	}
}

func TestDateTextRoundTrip(t *testing.T) {
	var d Date
	if err := d.UnmarshalText([]byte("2024-02-29")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b, _ := d.MarshalText()
	if string(b) != "2024-02-29" {
		t.Fatalf("got %s", b)
	}
}

func TestDateJSONUsesDayForm(t *testing.T) {
	b, err := json.Marshal([]Date{NewDate(2024, 3, 1), {}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `["2024-03-01",null]` {
		t.Fatalf("got %s", b)
	}

	var back []Date
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[0] != NewDate(2024, 3, 1) || !back[1].IsZero() {
		t.Fatalf("round trip = %v", back)
	}

	var d Date
	if err := json.Unmarshal([]byte(`"03/01/2024"`), &d); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{ID: "t1", Date: NewDate(2024, 1, 1), Amount: decimal.NewFromInt(1)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := Transaction{ID: "t2", Amount: decimal.NewFromInt(1)}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestSyncTriggerValidate(t *testing.T) {
	cases := []struct {
		tr  SyncTrigger
		err error
	}{
		{SyncTrigger{UserID: "u", TriggerID: "t"}, nil},
		{SyncTrigger{TriggerID: "t"}, ErrEmptyUserID},
		{SyncTrigger{UserID: "u", TriggerID: "  "}, ErrEmptyTriggerID},
	}
	for i, tc := range cases {
		if err := tc.tr.Validate(); !errors.Is(err, tc.err) {
			t.Fatalf("case %d: expected %v, got %v", i, tc.err, err)
		}
	}
}

func TestScheduledEventSetDatesSorted(t *testing.T) {
	s := ScheduledEventSet{
		NewDate(2024, 1, 3): {ExternalEventID: "c"},
		NewDate(2024, 1, 1): {ExternalEventID: "a"},
		NewDate(2024, 1, 2): {ExternalEventID: "b"},
	}
	dates := s.Dates()
	for i := 1; i < len(dates); i++ {
		if !dates[i-1].Before(dates[i]) {
			t.Fatalf("dates not sorted: %v", dates)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	err := TransientError("calendar.create", base)
	wrapped := errors.Join(errors.New("ctx"), err)

	if !IsTransient(wrapped) {
		t.Fatal("expected transient through wrapping")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected unwrap to base error")
	}
	if KindOf(base) != KindInternal {
		t.Fatalf("unclassified error should be internal, got %s", KindOf(base))
	}
	if !IsAuthorization(AuthorizationError("authorize", nil)) {
		t.Fatal("expected authorization kind")
	}
}
