package services

import (
	"fmt"

	"wheresmymoney/internal/core"
)

// SyncState is a stage of one reconciliation run.
type SyncState string

const (
	StateIdle        SyncState = "Idle"
	StateFetching    SyncState = "Fetching"
	StateAggregating SyncState = "Aggregating"
	StateDiffing     SyncState = "Diffing"
	StateDeleting    SyncState = "Deleting"
	StateCreating    SyncState = "Creating"
	StatePersisting  SyncState = "Persisting"
	StateSettled     SyncState = "Settled"
	StateFailed      SyncState = "Failed"
)

var transitions = map[SyncState][]SyncState{
	StateIdle:        {StateFetching},
	StateFetching:    {StateAggregating},
	StateAggregating: {StateDiffing},
	StateDiffing:     {StateDeleting},
	StateDeleting:    {StateCreating},
	StateCreating:    {StatePersisting},
	StatePersisting:  {StateSettled},
}

func (s SyncState) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

// CanTransition reports whether from -> to is a legal step. Failed is
// reachable from every non-terminal state.
func CanTransition(from, to SyncState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks the current state of one run.
type machine struct {
	state   SyncState
	history []SyncState
}

func newMachine() *machine {
	return &machine{state: StateIdle, history: []SyncState{StateIdle}}
}

func (m *machine) advance(to SyncState) error {
	if !CanTransition(m.state, to) {
		return &core.Error{
			Kind: core.KindInternal,
			Op:   "sync.transition",
			Err:  fmt.Errorf("illegal transition %s -> %s", m.state, to),
		}
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}
