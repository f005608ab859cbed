package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"wheresmymoney/internal/banking"
	"wheresmymoney/internal/calendar"
	"wheresmymoney/internal/core"
	"wheresmymoney/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TriggerPublisher hands a trigger to the worker queue.
type TriggerPublisher interface {
	PublishSyncTrigger(ctx context.Context, trigger core.SyncTrigger) error
}

// Institution is one linked bank item as shown to the user.
type Institution struct {
	ItemID        string `json:"item_id"`
	InstitutionID string `json:"institution_id"`
	Name          string `json:"name"`
}

// UserService covers the user and bank item lifecycle around the sync core.
type UserService struct {
	storage   *storage.SQLiteRepository
	items     banking.ItemManager
	calendar  calendar.Authorizer
	publisher TriggerPublisher
	sync      *Orchestrator
	now       func() time.Time
}

// NewUserService wires the service. publisher may be nil, in which case
// triggers are synced inline.
func NewUserService(
	storage *storage.SQLiteRepository,
	items banking.ItemManager,
	cal calendar.Authorizer,
	publisher TriggerPublisher,
	sync *Orchestrator,
) *UserService {
	return &UserService{
		storage:   storage,
		items:     items,
		calendar:  cal,
		publisher: publisher,
		sync:      sync,
		now:       time.Now,
	}
}

// CreateUser stores a new user together with a dedicated calendar.
func (s *UserService) CreateUser(ctx context.Context, email, oauthToken string) (core.User, error) {
	if strings.TrimSpace(oauthToken) == "" {
		return core.User{}, core.ValidationError("users.create", errors.New("oauth token is required"))
	}

	session, err := s.calendar.Authorize(ctx, oauthToken)
	if err != nil {
		return core.User{}, fmt.Errorf("authorize calendar: %w", err)
	}

	calendarID, err := session.CreateCalendar(ctx, calendar.DefaultCalendarName)
	if err != nil {
		return core.User{}, fmt.Errorf("create calendar: %w", err)
	}

	user, err := s.storage.CreateUser(ctx, core.User{
		ID:         uuid.NewString(),
		Email:      strings.TrimSpace(email),
		CalendarID: calendarID,
		OAuthToken: oauthToken,
	})
	if err != nil {
		if derr := session.DeleteCalendar(context.WithoutCancel(ctx), calendarID); derr != nil {
			slog.ErrorContext(ctx, "Failed to roll back calendar",
				"calendar_id", calendarID, "error", derr)
		}
		return core.User{}, fmt.Errorf("save user: %w", err)
	}

	slog.InfoContext(ctx, "User created", "user_id", user.ID, "calendar_id", calendarID)
	return user, nil
}

// LinkItem exchanges a public token, stores the item and schedules a first sync.
func (s *UserService) LinkItem(ctx context.Context, userID, publicToken, institutionID string) (core.Item, error) {
	if strings.TrimSpace(publicToken) == "" {
		return core.Item{}, core.ValidationError("users.link_item", errors.New("public token is required"))
	}
	if _, err := s.storage.GetUser(ctx, userID); err != nil {
		return core.Item{}, fmt.Errorf("load user: %w", err)
	}

	creds, err := s.items.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return core.Item{}, fmt.Errorf("exchange public token: %w", err)
	}

	item := core.Item{
		ItemID:        creds.ItemID,
		UserID:        userID,
		AccessToken:   creds.AccessToken,
		InstitutionID: institutionID,
	}
	if err := s.storage.SaveItem(ctx, item); err != nil {
		return core.Item{}, fmt.Errorf("save item: %w", err)
	}

	// The item is stored; a failed dispatch is picked up by the next trigger.
	if err := s.Dispatch(ctx, core.SyncTrigger{
		UserID:    userID,
		TriggerID: "link-" + item.ItemID,
		Source:    "link",
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to dispatch initial sync",
			"user_id", userID, "item_id", item.ItemID, "error", err)
	}

	return item, nil
}

// Institutions resolves the institution name of every item of a user.
func (s *UserService) Institutions(ctx context.Context, userID string) ([]Institution, error) {
	if _, err := s.storage.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	items, err := s.storage.ListItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Institution, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, it := range items {
		g.Go(func() error {
			name, err := s.items.InstitutionName(gctx, it.InstitutionID)
			if err != nil {
				return fmt.Errorf("institution %s: %w", it.InstitutionID, err)
			}
			out[i] = Institution{ItemID: it.ItemID, InstitutionID: it.InstitutionID, Name: name}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteUser removes the user's items at the provider, their calendar and
// finally every stored row. Items or a calendar already gone are fine.
func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	items, err := s.storage.ListItems(ctx, userID)
	if err != nil {
		return err
	}

	for _, it := range items {
		if err := s.items.RemoveItem(ctx, it.AccessToken); err != nil && !core.IsNotFound(err) {
			return fmt.Errorf("remove item %s: %w", it.ItemID, err)
		}
	}

	if user.CalendarID != "" {
		session, err := s.calendar.Authorize(ctx, user.OAuthToken)
		if err != nil {
			return fmt.Errorf("authorize calendar: %w", err)
		}
		if err := session.DeleteCalendar(ctx, user.CalendarID); err != nil && !core.IsNotFound(err) {
			return fmt.Errorf("delete calendar: %w", err)
		}
	}

	if err := s.storage.DeleteUser(ctx, userID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "User deleted", "user_id", userID, "items", len(items))
	return nil
}

// Dispatch publishes the trigger when a queue is configured and otherwise
// runs the sync in the caller's goroutine.
func (s *UserService) Dispatch(ctx context.Context, trigger core.SyncTrigger) error {
	if s.publisher != nil {
		return s.publisher.PublishSyncTrigger(ctx, trigger)
	}
	if s.sync == nil {
		slog.WarnContext(ctx, "No sync transport available, dropping trigger",
			"user_id", trigger.UserID, "trigger_id", trigger.TriggerID)
		return nil
	}
	_, err := s.sync.Sync(ctx, trigger)
	return err
}
