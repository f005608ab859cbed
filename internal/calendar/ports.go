package calendar

import (
	"context"
	"errors"

	"wheresmymoney/internal/core"
	"wheresmymoney/internal/reconcile"
)

// DefaultCalendarName is the name of the dedicated calendar created per user.
const DefaultCalendarName = "Wheres My Money!!!"

var ErrEventNotFound = errors.New("calendar event not found")

// ManagedEvent is an event on the calendar that carries our private markers.
type ManagedEvent struct {
	ID          string
	Date        core.Date
	Fingerprint string
	Summary     string
}

// Ports for the calendar provider.
type (
	// Authorizer turns a stored OAuth token into a Session valid for one sync run.
	Authorizer interface {
		Authorize(ctx context.Context, oauthToken string) (Session, error)
	}

	Session interface {
		CreateEvent(ctx context.Context, calendarID string, spec reconcile.EventSpec) (eventID string, err error)
		// DeleteEvent returns an error wrapping ErrEventNotFound when the event is already gone.
		DeleteEvent(ctx context.Context, calendarID, eventID string) error
		// FindManagedEvents lists events created by this system for one day.
		FindManagedEvents(ctx context.Context, calendarID string, date core.Date) ([]ManagedEvent, error)
		CreateCalendar(ctx context.Context, name string) (calendarID string, err error)
		DeleteCalendar(ctx context.Context, calendarID string) error
	}
)
