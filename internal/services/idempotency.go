package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wheresmymoney/internal/cache"
	"wheresmymoney/internal/storage"
)

// Guard remembers triggers by (user, trigger id). Only a trigger whose run
// settled with no pending dates counts as done; anything else may run again.
type Guard struct {
	store *storage.SQLiteRepository
	cache *cache.LRUCache[Report]
}

func NewGuard(store *storage.SQLiteRepository, size int, ttl time.Duration) *Guard {
	return &Guard{
		store: store,
		cache: cache.NewLRUCache[Report](size, ttl),
	}
}

// Cache exposes the front cache so it can be registered for cleanup.
func (g *Guard) Cache() *cache.LRUCache[Report] {
	return g.cache
}

func guardKey(userID, triggerID string) string {
	return userID + "\x00" + triggerID
}

// Lookup returns the stored report of a completed trigger.
func (g *Guard) Lookup(ctx context.Context, userID, triggerID string) (Report, bool, error) {
	if r, ok := g.cache.Get(guardKey(userID, triggerID)); ok {
		return r, true, nil
	}

	rec, found, err := g.store.GetTrigger(ctx, userID, triggerID)
	if err != nil {
		return Report{}, false, err
	}
	if !found || SyncState(rec.State) != StateSettled {
		return Report{}, false, nil
	}

	var r Report
	if err := json.Unmarshal(rec.Report, &r); err != nil {
		return Report{}, false, fmt.Errorf("decode stored report: %w", err)
	}
	if !r.Complete() {
		return Report{}, false, nil
	}
	g.cache.Set(guardKey(userID, triggerID), r)
	return r, true, nil
}

// Begin records that a run for the trigger has started.
func (g *Guard) Begin(ctx context.Context, r Report) error {
	return g.save(ctx, r)
}

// Finish records the final report of a run.
func (g *Guard) Finish(ctx context.Context, r Report) error {
	if err := g.save(ctx, r); err != nil {
		return err
	}
	if r.Complete() {
		g.cache.Set(guardKey(r.UserID, r.TriggerID), r)
	}
	return nil
}

func (g *Guard) save(ctx context.Context, r Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return g.store.SaveTrigger(ctx, storage.TriggerRecord{
		UserID:    r.UserID,
		TriggerID: r.TriggerID,
		RunID:     r.RunID,
		State:     string(r.State),
		Report:    body,
	})
}
