package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"wheresmymoney/internal/calendar"
	"wheresmymoney/internal/core"
	"wheresmymoney/internal/reconcile"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
)

func newTestSession(t *testing.T, handler http.HandlerFunc) *Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gcal.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return NewSession(svc, "UTC")
}

func writeAPIError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s","errors":[{"reason":"%s"}]}}`, code, reason, reason)
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "")
	t.Setenv("GOOGLE_OAUTH_CLIENT_FILE", "")

	_, err := NewFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !strings.Contains(err.Error(), "missing oauth client credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_InvalidJSON(t *testing.T) {
	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "invalid-json")

	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "oauth config") {
		t.Fatalf("expected oauth config error, got: %v", err)
	}
}

func TestNewFromEnv_ClientFile(t *testing.T) {
	path := t.TempDir() + "/client.json"
	body := `{"installed":{"client_id":"id","client_secret":"secret","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "")
	t.Setenv("GOOGLE_OAUTH_CLIENT_FILE", path)
	t.Setenv("CALENDAR_TIMEZONE", "Europe/Rome")

	a, err := NewFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewFromEnv() error = %v", err)
	}
	if a.timeZone != "Europe/Rome" {
		t.Errorf("timeZone = %q", a.timeZone)
	}
}

func TestParseToken(t *testing.T) {
	tok, err := parseToken("ya29.raw")
	if err != nil || tok.AccessToken != "ya29.raw" {
		t.Fatalf("bare token: %v %v", tok, err)
	}
	tok, err = parseToken(`{"access_token":"a","refresh_token":"r","token_type":"Bearer"}`)
	if err != nil || tok.RefreshToken != "r" {
		t.Fatalf("json token: %v %v", tok, err)
	}
	for _, bad := range []string{"", "  ", "{", `{"token_type":"Bearer"}`} {
		if _, err := parseToken(bad); err == nil {
			t.Errorf("parseToken(%q) expected error", bad)
		}
	}
}

func TestAuthorize_BadTokenIsAuthorizationError(t *testing.T) {
	a := &Authorizer{oauth: &oauth2.Config{}, timeZone: "UTC", httpClient: http.DefaultClient}
	_, err := a.Authorize(context.Background(), "")
	if !core.IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestTokenSourceOutlivesAuthorizeContext(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		// Lifetimes under the library's expiry margin force a refresh per call.
		fmt.Fprintf(w, `{"access_token":"fresh-%d","token_type":"Bearer","expires_in":1}`, n)
	}))
	defer srv.Close()

	a := &Authorizer{
		oauth:      &oauth2.Config{ClientID: "id", ClientSecret: "secret", Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token"}},
		timeZone:   "UTC",
		httpClient: srv.Client(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts, err := a.tokenSource(ctx, &oauth2.Token{AccessToken: "stale", RefreshToken: "refresh", Expiry: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("tokenSource() error = %v", err)
	}
	cancel()

	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("refresh after authorize context ended: %v", err)
	}
	if tok.AccessToken != "fresh-2" || refreshes.Load() != 2 {
		t.Errorf("token = %s after %d refreshes", tok.AccessToken, refreshes.Load())
	}
}

func TestSession_CreateEvent(t *testing.T) {
	var got gcal.Event
	var path string
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"evt-1"}`)
	})

	spec := reconcile.EventSpec{
		Date:        core.NewDate(2024, 1, 1),
		Summary:     "Spent $53",
		Location:    "loc",
		Description: "Transactions:\nCoffee: $12.50",
		Fingerprint: "fp",
	}
	id, err := s.CreateEvent(context.Background(), "cal@group", spec)
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if id != "evt-1" {
		t.Errorf("id = %q", id)
	}
	if !strings.HasSuffix(path, "/calendars/cal@group/events") {
		t.Errorf("unexpected path %q", path)
	}
	if got.Start.Date != "2024-01-01" || got.End.Date != "2024-01-02" {
		t.Errorf("unexpected span %s..%s", got.Start.Date, got.End.Date)
	}
	if got.ExtendedProperties.Private[propFingerprint] != "fp" || got.ExtendedProperties.Private[propDate] != "2024-01-01" {
		t.Errorf("missing private properties: %v", got.ExtendedProperties.Private)
	}
}

func TestSession_DeleteEventNotFound(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		writeAPIError(w, http.StatusGone, "deleted")
	})

	err := s.DeleteEvent(context.Background(), "cal", "gone")
	if !errors.Is(err, calendar.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	if !core.IsNotFound(err) {
		t.Fatalf("expected not found kind, got %s", core.KindOf(err))
	}
}

func TestSession_FindManagedEvents(t *testing.T) {
	var query string
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("privateExtendedProperty")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[
			{"id":"a","summary":"Spent $1","extendedProperties":{"private":{"wmm_fingerprint":"f1"}}},
			{"id":"b","status":"cancelled"}
		]}`)
	})

	events, err := s.FindManagedEvents(context.Background(), "cal", core.NewDate(2024, 5, 6))
	if err != nil {
		t.Fatalf("FindManagedEvents() error = %v", err)
	}
	if query != "wmm_date=2024-05-06" {
		t.Errorf("query = %q", query)
	}
	if len(events) != 1 || events[0].ID != "a" || events[0].Fingerprint != "f1" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestClassify(t *testing.T) {
	apiErr := func(code int, reason string) error {
		return &googleapi.Error{Code: code, Errors: []googleapi.ErrorItem{{Reason: reason}}}
	}
	cases := []struct {
		name string
		err  error
		kind core.ErrorKind
	}{
		{"not found", apiErr(404, "notFound"), core.KindNotFound},
		{"gone", apiErr(410, "deleted"), core.KindNotFound},
		{"server error", apiErr(503, "backendError"), core.KindTransient},
		{"too many requests", apiErr(429, "rateLimitExceeded"), core.KindTransient},
		{"rate limited 403", apiErr(403, "userRateLimitExceeded"), core.KindTransient},
		{"forbidden", apiErr(403, "forbidden"), core.KindAuthorization},
		{"unauthorized", apiErr(401, "authError"), core.KindAuthorization},
		{"conflict", apiErr(409, "duplicate"), core.KindConflict},
		{"bad request", apiErr(400, "invalid"), core.KindValidation},
		{"token revoked", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 400}}, core.KindAuthorization},
		{"deadline", context.DeadlineExceeded, core.KindTransient},
		{"other", errors.New("boom"), core.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := core.KindOf(classify("op", tc.err)); got != tc.kind {
				t.Errorf("classify(%v) kind = %s, want %s", tc.err, got, tc.kind)
			}
		})
	}
}
