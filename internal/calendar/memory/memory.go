// Package memory is an in-process calendar used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wheresmymoney/internal/calendar"
	"wheresmymoney/internal/core"
	"wheresmymoney/internal/reconcile"
)

type Event struct {
	ID         string
	CalendarID string
	Spec       reconcile.EventSpec
}

// Calls counts mutations issued against the store.
type Calls struct {
	Creates int
	Deletes int
	Finds   int
}

type Store struct {
	mu        sync.Mutex
	seq       int
	calendars map[string]string
	events    map[string]Event
	calls     Calls

	// Failure injection, keyed by date string or event id.
	AuthErr      error
	CreateErrors map[string]error
	DeleteErrors map[string]error
}

var (
	_ calendar.Authorizer = (*Store)(nil)
	_ calendar.Session    = (*Store)(nil)
)

func New() *Store {
	return &Store{
		calendars:    map[string]string{},
		events:       map[string]Event{},
		CreateErrors: map[string]error{},
		DeleteErrors: map[string]error{},
	}
}

// Authorize hands out the store itself; any non-empty token is accepted.
func (s *Store) Authorize(_ context.Context, oauthToken string) (calendar.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AuthErr != nil {
		return nil, s.AuthErr
	}
	if oauthToken == "" {
		return nil, core.AuthorizationError("calendar.authorize", fmt.Errorf("empty oauth token"))
	}
	return s, nil
}

func (s *Store) CreateEvent(_ context.Context, calendarID string, spec reconcile.EventSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.CreateErrors[spec.Date.String()]; err != nil {
		return "", err
	}
	s.seq++
	s.calls.Creates++
	id := fmt.Sprintf("mem-evt-%d", s.seq)
	s.events[id] = Event{ID: id, CalendarID: calendarID, Spec: spec}
	return id, nil
}

func (s *Store) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.DeleteErrors[eventID]; err != nil {
		return err
	}
	s.calls.Deletes++
	ev, ok := s.events[eventID]
	if !ok || ev.CalendarID != calendarID {
		return core.NotFoundError("calendar.delete_event", calendar.ErrEventNotFound)
	}
	delete(s.events, eventID)
	return nil
}

func (s *Store) FindManagedEvents(_ context.Context, calendarID string, date core.Date) ([]calendar.ManagedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Finds++
	var out []calendar.ManagedEvent
	for _, ev := range s.events {
		if ev.CalendarID != calendarID || ev.Spec.Date != date {
			continue
		}
		out = append(out, calendar.ManagedEvent{
			ID:          ev.ID,
			Date:        date,
			Fingerprint: ev.Spec.Fingerprint,
			Summary:     ev.Spec.Summary,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateCalendar(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("mem-cal-%d", s.seq)
	s.calendars[id] = name
	return id, nil
}

func (s *Store) DeleteCalendar(_ context.Context, calendarID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calendars[calendarID]; !ok {
		return core.NotFoundError("calendar.delete_calendar", fmt.Errorf("calendar %s not found", calendarID))
	}
	delete(s.calendars, calendarID)
	for id, ev := range s.events {
		if ev.CalendarID == calendarID {
			delete(s.events, id)
		}
	}
	return nil
}

// Seed inserts an event directly, bypassing call accounting.
func (s *Store) Seed(calendarID string, spec reconcile.EventSpec) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("mem-evt-%d", s.seq)
	s.events[id] = Event{ID: id, CalendarID: calendarID, Spec: spec}
	return id
}

// Events returns the events of a calendar ordered by date.
func (s *Store) Events(calendarID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.CalendarID == calendarID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spec.Date == out[j].Spec.Date {
			return out[i].ID < out[j].ID
		}
		return out[i].Spec.Date.Before(out[j].Spec.Date)
	})
	return out
}

func (s *Store) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = Calls{}
}

func (s *Store) HasCalendar(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.calendars[id]
	return ok
}
