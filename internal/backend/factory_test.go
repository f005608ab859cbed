package backend

import (
	"context"
	"strings"
	"testing"

	bankmem "wheresmymoney/internal/banking/memory"
	"wheresmymoney/internal/banking/plaid"
	gcal "wheresmymoney/internal/calendar/google"
	calmem "wheresmymoney/internal/calendar/memory"
	"wheresmymoney/internal/config"
)

const testClientJSON = `{"installed":{"client_id":"id","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "memory", config: Config{Calendar: MemoryBackend, Banking: MemoryBackend}},
		{name: "plaid as calendar", config: Config{Calendar: PlaidBackend, Banking: MemoryBackend}, wantErr: "invalid calendar backend"},
		{name: "google as banking", config: Config{Calendar: MemoryBackend, Banking: GoogleBackend}, wantErr: "invalid banking backend"},
		{name: "google without client", config: Config{Calendar: GoogleBackend, Banking: MemoryBackend}, wantErr: "GoogleOAuthClient"},
		{name: "plaid without secret", config: Config{Calendar: MemoryBackend, Banking: PlaidBackend, PlaidClientID: "id"}, wantErr: "PlaidSecret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("nil config accepted")
	}

	cfg, err := FromAppConfig(&config.Config{
		CalendarBackend: "memory",
		BankingBackend:  "plaid",
		PlaidClientID:   "id",
		PlaidSecret:     "secret",
		PlaidEnv:        "sandbox",
	})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Banking != PlaidBackend || cfg.PlaidEnv != "sandbox" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestCreateBackend(t *testing.T) {
	f := NewFactory(nil)
	ctx := context.Background()

	res, err := f.CreateBackend(ctx, Config{Calendar: MemoryBackend, Banking: MemoryBackend})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := res.Calendar.(*calmem.Store); !ok {
		t.Errorf("calendar = %T", res.Calendar)
	}
	if _, ok := res.Banking.(*bankmem.Provider); !ok {
		t.Errorf("banking = %T", res.Banking)
	}

	res, err = f.CreateBackend(ctx, Config{
		Calendar:              GoogleBackend,
		Banking:               PlaidBackend,
		GoogleOAuthClientJSON: testClientJSON,
		CalendarTimeZone:      "Europe/Rome",
		PlaidClientID:         "id",
		PlaidSecret:           "secret",
		PlaidEnv:              "sandbox",
	})
	if err != nil {
		t.Fatalf("google/plaid: %v", err)
	}
	if _, ok := res.Calendar.(*gcal.Authorizer); !ok {
		t.Errorf("calendar = %T", res.Calendar)
	}
	if _, ok := res.Banking.(*plaid.Client); !ok {
		t.Errorf("banking = %T", res.Banking)
	}

	if _, err := f.CreateBackend(ctx, Config{Calendar: MemoryBackend, Banking: PlaidBackend, PlaidClientID: "id", PlaidSecret: "s", PlaidEnv: "staging"}); err == nil {
		t.Error("unknown plaid environment accepted")
	}
}
