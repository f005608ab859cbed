package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"wheresmymoney/internal/calendar"
	"wheresmymoney/internal/core"
	"wheresmymoney/internal/reconcile"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
)

// Private extended property keys stamped on every event we create.
const (
	propManaged     = "wmm_managed"
	propDate        = "wmm_date"
	propFingerprint = "wmm_fingerprint"
)

const defaultTimeZone = "America/Los_Angeles"

// Authorizer builds per-run calendar sessions from stored user tokens.
type Authorizer struct {
	oauth      *oauth2.Config
	timeZone   string
	httpClient *http.Client
}

type Session struct {
	svc      *gcal.Service
	timeZone string
}

// Ensure interface conformance
var (
	_ calendar.Authorizer = (*Authorizer)(nil)
	_ calendar.Session    = (*Session)(nil)
)

// NewFromEnv creates an Authorizer from the OAuth client credentials.
// Uses GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE.
// Optional: CALENDAR_TIMEZONE (default "America/Los_Angeles").
func NewFromEnv(ctx context.Context) (*Authorizer, error) {
	clientJSON := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"))
	clientFile := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"))

	var b []byte
	var err error
	switch {
	case clientJSON != "":
		b = []byte(clientJSON)
	case clientFile != "":
		b, err = os.ReadFile(clientFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
	default:
		return nil, errors.New("missing oauth client credentials (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}

	tz := strings.TrimSpace(os.Getenv("CALENDAR_TIMEZONE"))
	a, err := NewAuthorizer(b, tz)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Google Calendar authorizer initialized", "timezone", a.timeZone)
	return a, nil
}

// NewAuthorizer parses an OAuth client JSON document.
func NewAuthorizer(clientJSON []byte, timeZone string) (*Authorizer, error) {
	cfg, err := oauthgoogle.ConfigFromJSON(clientJSON, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	if timeZone == "" {
		timeZone = defaultTimeZone
	}
	return &Authorizer{oauth: cfg, timeZone: timeZone, httpClient: newHTTPClientWithPooling()}, nil
}

// Authorize exchanges the stored token for a usable session. The token may be
// a serialized oauth2.Token or a bare access token.
func (a *Authorizer) Authorize(ctx context.Context, oauthToken string) (calendar.Session, error) {
	tok, err := parseToken(oauthToken)
	if err != nil {
		return nil, core.AuthorizationError("calendar.authorize", err)
	}

	ts, err := a.tokenSource(ctx, tok)
	if err != nil {
		return nil, err
	}

	svc, err := gcal.NewService(context.WithoutCancel(ctx), goption.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return NewSession(svc, a.timeZone), nil
}

// tokenSource checks the token within ctx, then returns a source that keeps
// refreshing after ctx ends. Callers often authorize under a short per-call
// deadline while the session lives for the whole run.
func (a *Authorizer) tokenSource(ctx context.Context, tok *oauth2.Token) (oauth2.TokenSource, error) {
	// The pooled client carries the token refresh requests too.
	first, err := a.oauth.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, a.httpClient), tok).Token()
	if err != nil {
		return nil, classify("calendar.authorize", err)
	}
	runCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, a.httpClient)
	return oauth2.ReuseTokenSource(first, a.oauth.TokenSource(runCtx, first)), nil
}

// NewSession wraps an already authorized calendar service.
func NewSession(svc *gcal.Service, timeZone string) *Session {
	if timeZone == "" {
		timeZone = defaultTimeZone
	}
	return &Session{svc: svc, timeZone: timeZone}
}

func parseToken(raw string) (*oauth2.Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty oauth token")
	}
	if !strings.HasPrefix(raw, "{") {
		return &oauth2.Token{AccessToken: raw}, nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("decode oauth token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("oauth token has neither access nor refresh token")
	}
	return &tok, nil
}

// CreateEvent inserts an all-day event. The end date is exclusive per the
// Calendar API, so it is the following day.
func (s *Session) CreateEvent(ctx context.Context, calendarID string, spec reconcile.EventSpec) (string, error) {
	if s.svc == nil {
		return "", errors.New("calendar service not initialized")
	}
	ev := &gcal.Event{
		Summary:      spec.Summary,
		Location:     spec.Location,
		Description:  spec.Description,
		Transparency: "transparent",
		Start:        &gcal.EventDateTime{Date: spec.Date.String(), TimeZone: s.timeZone},
		End:          &gcal.EventDateTime{Date: spec.Date.AddDays(1).String(), TimeZone: s.timeZone},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{
				propManaged:     "true",
				propDate:        spec.Date.String(),
				propFingerprint: spec.Fingerprint,
			},
		},
	}
	created, err := s.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", classify("calendar.create_event", err)
	}
	return created.Id, nil
}

func (s *Session) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if s.svc == nil {
		return errors.New("calendar service not initialized")
	}
	if err := s.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return classify("calendar.delete_event", err)
	}
	return nil
}

func (s *Session) FindManagedEvents(ctx context.Context, calendarID string, date core.Date) ([]calendar.ManagedEvent, error) {
	if s.svc == nil {
		return nil, errors.New("calendar service not initialized")
	}
	var out []calendar.ManagedEvent
	call := s.svc.Events.List(calendarID).
		PrivateExtendedProperty(propDate + "=" + date.String()).
		ShowDeleted(false).
		SingleEvents(true)
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			me := calendar.ManagedEvent{ID: item.Id, Date: date, Summary: item.Summary}
			if item.ExtendedProperties != nil {
				me.Fingerprint = item.ExtendedProperties.Private[propFingerprint]
			}
			out = append(out, me)
		}
		return nil
	})
	if err != nil {
		return nil, classify("calendar.find_events", err)
	}
	return out, nil
}

func (s *Session) CreateCalendar(ctx context.Context, name string) (string, error) {
	if s.svc == nil {
		return "", errors.New("calendar service not initialized")
	}
	cal, err := s.svc.Calendars.Insert(&gcal.Calendar{Summary: name, TimeZone: s.timeZone}).Context(ctx).Do()
	if err != nil {
		return "", classify("calendar.create_calendar", err)
	}
	return cal.Id, nil
}

func (s *Session) DeleteCalendar(ctx context.Context, calendarID string) error {
	if s.svc == nil {
		return errors.New("calendar service not initialized")
	}
	if err := s.svc.Calendars.Delete(calendarID).Context(ctx).Do(); err != nil {
		return classify("calendar.delete_calendar", err)
	}
	return nil
}

// classify maps API failures onto the core error kinds.
func classify(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			return core.TransientError(op, err)
		}
		return core.AuthorizationError(op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
			return core.NotFoundError(op, fmt.Errorf("%w: %v", calendar.ErrEventNotFound, err))
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return core.TransientError(op, err)
		case gerr.Code == http.StatusForbidden && isRateLimited(gerr):
			return core.TransientError(op, err)
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return core.AuthorizationError(op, err)
		case gerr.Code == http.StatusConflict:
			return core.ConflictError(op, err)
		default:
			return core.ValidationError(op, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.TransientError(op, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return core.TransientError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isRateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

// newHTTPClientWithPooling creates an HTTP client for the Calendar API
// with connection pooling, proper timeouts, and keep-alive settings
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}
