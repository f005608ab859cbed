package services

import (
	"testing"

	"wheresmymoney/internal/core"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SyncState
		want     bool
	}{
		{StateIdle, StateFetching, true},
		{StateFetching, StateAggregating, true},
		{StateAggregating, StateDiffing, true},
		{StateDiffing, StateDeleting, true},
		{StateDeleting, StateCreating, true},
		{StateCreating, StatePersisting, true},
		{StatePersisting, StateSettled, true},
		{StateDeleting, StateFailed, true},
		{StateIdle, StateFailed, true},
		{StateIdle, StateCreating, false},
		{StateCreating, StateDeleting, false},
		{StateSettled, StateFetching, false},
		{StateSettled, StateFailed, false},
		{StateFailed, StateIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	m := newMachine()
	if err := m.advance(StateFetching); err != nil {
		t.Fatalf("advance: %v", err)
	}
	err := m.advance(StatePersisting)
	if err == nil {
		t.Fatal("expected error")
	}
	if core.KindOf(err) != core.KindInternal {
		t.Errorf("kind = %s", core.KindOf(err))
	}
	if m.state != StateFetching {
		t.Errorf("state moved to %s", m.state)
	}
	if err := m.advance(StateFailed); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if len(m.history) != 3 {
		t.Errorf("history = %v", m.history)
	}
}
