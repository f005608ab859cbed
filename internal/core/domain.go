package core

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage form of a calendar day.
const DateLayout = "2006-01-02"

type (
	// Date is a calendar day without a time component, normalized to UTC midnight.
	Date struct {
		time.Time
	}

	Transaction struct {
		ID          string
		Date        Date
		Amount      decimal.Decimal // expense-positive
		Description string
		AccountID   string
		ItemID      string
		Pending     bool
	}

	// LineItem is one (description, amount) pair inside a day.
	LineItem struct {
		Description string
		Amount      decimal.Decimal
	}

	DaySummary struct {
		Date         Date
		Total        decimal.Decimal
		Descriptions []string
		Items        []LineItem
	}

	// ScheduledEvent is a calendar entry the system believes exists.
	ScheduledEvent struct {
		Date            Date
		ExternalEventID string
		Fingerprint     string
	}

	ScheduledEventSet map[Date]ScheduledEvent

	// QueuedDelete is a persisted pending deletion of an external event.
	QueuedDelete struct {
		ID              int64
		Date            Date
		ExternalEventID string
	}

	// User owns a calendar and any number of bank items.
	User struct {
		ID         string
		Email      string
		CalendarID string
		OAuthToken string
		// DatesToSchedule holds dates whose reconciliation is still pending.
		DatesToSchedule []Date
	}

	Item struct {
		ItemID        string
		UserID        string
		AccessToken   string
		InstitutionID string
	}

	SyncTrigger struct {
		UserID              string
		TriggerID           string
		NewTransactionDates []Date
		Source              string
	}
)

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidDate        = errors.New("invalid date")
	ErrEmptyUserID        = errors.New("empty user id")
	ErrEmptyTriggerID     = errors.New("empty trigger id")
	ErrUserNotFound       = errors.New("user not found")
	ErrItemNotFound       = errors.New("item not found")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time)
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON overrides the promoted time.Time encoding.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = Date{}
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, s)
	}
	return d.UnmarshalText([]byte(unquoted))
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

func (t Transaction) Validate() error {
	if t.Date.IsZero() {
		return fmt.Errorf("%w: transaction %q has no date", ErrInvalidTransaction, t.ID)
	}
	return nil
}

func (tr SyncTrigger) Validate() error {
	if strings.TrimSpace(tr.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(tr.TriggerID) == "" {
		return ErrEmptyTriggerID
	}
	return nil
}

// Dates returns the set's dates in ascending order.
func (s ScheduledEventSet) Dates() []Date {
	out := make([]Date, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	SortDates(out)
	return out
}

// Clone returns a shallow copy of the set.
func (s ScheduledEventSet) Clone() ScheduledEventSet {
	out := make(ScheduledEventSet, len(s))
	for d, ev := range s {
		out[d] = ev
	}
	return out
}

// SortDates sorts in place, oldest first.
func SortDates(dates []Date) {
	slices.SortFunc(dates, func(a, b Date) int {
		return a.Compare(b.Time)
	})
}
