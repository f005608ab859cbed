package reconcile

import (
	"errors"
	"math/rand"
	"testing"

	"wheresmymoney/internal/core"

	"github.com/shopspring/decimal"
)

func txn(id, date, amount, desc string) core.Transaction {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return core.Transaction{ID: id, Date: d, Amount: decimal.RequireFromString(amount), Description: desc}
}

func TestAggregate_SumsSameDayInInputOrder(t *testing.T) {
	days, err := Aggregate([]core.Transaction{
		txn("1", "2024-01-01", "12.50", "Coffee"),
		txn("2", "2024-01-01", "40.00", "Groceries"),
	})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("expected 1 day, got %d", len(days))
	}
	day := days[core.NewDate(2024, 1, 1)]
	if !day.Total.Equal(decimal.RequireFromString("52.50")) {
		t.Errorf("total = %s, want 52.50", day.Total)
	}
	want := []string{"Coffee", "Groceries"}
	if len(day.Descriptions) != len(want) {
		t.Fatalf("descriptions = %v, want %v", day.Descriptions, want)
	}
	for i := range want {
		if day.Descriptions[i] != want[i] {
			t.Errorf("descriptions[%d] = %q, want %q", i, day.Descriptions[i], want[i])
		}
	}
}

func TestAggregate_RejectsMissingDate(t *testing.T) {
	_, err := Aggregate([]core.Transaction{
		txn("1", "2024-01-01", "1", "ok"),
		{ID: "2", Amount: decimal.NewFromInt(3), Description: "no date"},
	})
	if err == nil {
		t.Fatal("expected error for transaction without date")
	}
	if !errors.Is(err, core.ErrInvalidTransaction) {
		t.Errorf("expected ErrInvalidTransaction, got %v", err)
	}
	if core.KindOf(err) != core.KindValidation {
		t.Errorf("expected validation kind, got %s", core.KindOf(err))
	}
}

func TestAggregate_KeepsInsertionOrder(t *testing.T) {
	days, err := Aggregate([]core.Transaction{
		txn("1", "2024-01-02", "1", "b"),
		txn("2", "2024-01-01", "1", "x"),
		txn("3", "2024-01-02", "1", "a"),
	})
	if err != nil {
		t.Fatal(err)
	}
	got := days[core.NewDate(2024, 1, 2)].Descriptions
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("expected insertion order [b a], got %v", got)
	}
}

func TestAggregate_ConservesMoney(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := rng.Intn(40)
		txns := make([]core.Transaction, 0, n)
		want := decimal.Zero
		for i := 0; i < n; i++ {
			amount := decimal.New(rng.Int63n(200000)-50000, -2)
			want = want.Add(amount)
			txns = append(txns, core.Transaction{
				ID:          "t",
				Date:        core.NewDate(2024, 1, 1+rng.Intn(10)),
				Amount:      amount,
				Description: "d",
			})
		}
		days, err := Aggregate(txns)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		got := decimal.Zero
		count := 0
		for _, day := range days {
			got = got.Add(day.Total)
			count += len(day.Items)
		}
		if !got.Equal(want) {
			t.Fatalf("round %d: sum of days %s != sum of transactions %s", round, got, want)
		}
		if count != n {
			t.Fatalf("round %d: %d items aggregated, want %d", round, count, n)
		}
	}
}

func TestAggregate_OrderIndependentTotals(t *testing.T) {
	txns := []core.Transaction{
		txn("1", "2024-01-01", "0.10", "a"),
		txn("2", "2024-01-01", "0.20", "b"),
		txn("3", "2024-01-02", "5", "c"),
		txn("4", "2024-01-01", "-0.30", "refund"),
	}
	reversed := make([]core.Transaction, len(txns))
	for i := range txns {
		reversed[len(txns)-1-i] = txns[i]
	}
	a, _ := Aggregate(txns)
	b, _ := Aggregate(reversed)
	for date, day := range a {
		if !day.Total.Equal(b[date].Total) {
			t.Errorf("%s: totals differ %s vs %s", date, day.Total, b[date].Total)
		}
		if Fingerprint(day) != Fingerprint(b[date]) {
			t.Errorf("%s: fingerprints differ", date)
		}
	}
}

func TestFilterWindow(t *testing.T) {
	pending := txn("p", "2024-01-05", "1", "pending")
	pending.Pending = true
	in := []core.Transaction{
		txn("old", "2023-12-31", "1", "old"),
		txn("in", "2024-01-02", "1", "in"),
		txn("edge", "2024-01-10", "1", "edge"),
		pending,
		{ID: "nodate", Amount: decimal.NewFromInt(1)},
	}
	out := FilterWindow(in, core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 10), false)
	ids := map[string]bool{}
	for _, tx := range out {
		ids[tx.ID] = true
	}
	if ids["old"] || ids["p"] {
		t.Errorf("expected old and pending transactions to be filtered, got %v", ids)
	}
	if !ids["in"] || !ids["edge"] {
		t.Errorf("expected in-window transactions kept, got %v", ids)
	}
	if !ids["nodate"] {
		t.Errorf("undated transactions must reach the aggregator to be rejected there")
	}

	withPending := FilterWindow(in, core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 10), true)
	if len(withPending) != len(out)+1 {
		t.Errorf("expected pending transaction kept when requested")
	}
}
