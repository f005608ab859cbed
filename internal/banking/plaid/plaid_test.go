package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"wheresmymoney/internal/core"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "cid", "sec", srv.Client())
}

func plaidError(errorType, code string) string {
	return fmt.Sprintf(`{"error_type":%q,"error_code":%q,"error_message":"failed","display_message":null,"request_id":"req-err"}`, errorType, code)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("PLAID_CLIENT_ID", "")
	t.Setenv("PLAID_SECRET", "")
	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error for missing credentials")
	}

	t.Setenv("PLAID_CLIENT_ID", "cid")
	t.Setenv("PLAID_SECRET", "sec")
	t.Setenv("PLAID_ENV", "moon")
	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error for unknown env")
	}

	t.Setenv("PLAID_ENV", "")
	c, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if c.baseURL != "https://sandbox.plaid.com" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

func TestTransactionsPaging(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/get" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if r.Header.Get("PLAID-CLIENT-ID") != "cid" || r.Header.Get("PLAID-SECRET") != "sec" || body["access_token"] != "tok" {
			t.Errorf("credentials not sent: %v %v", r.Header, body)
		}
		if body["start_date"] != "2024-01-01" || body["end_date"] != "2024-01-31" {
			t.Errorf("range = %v..%v", body["start_date"], body["end_date"])
		}
		opts := body["options"].(map[string]any)
		calls++
		w.Header().Set("Content-Type", "application/json")
		if opts["offset"].(float64) == 0 {
			w.Write([]byte(`{
				"item": {"item_id": "item-1", "institution_id": "ins_1"},
				"accounts": [{"account_id": "acc-1", "name": "Checking", "mask": "0000", "type": "depository", "subtype": "checking"}],
				"transactions": [
					{"transaction_id": "t1", "account_id": "acc-1", "amount": 12.5, "date": "2024-01-02", "name": "Coffee"},
					{"transaction_id": "t2", "account_id": "acc-1", "amount": 0.1, "date": "2024-01-02", "name": "", "merchant_name": "Gum"}
				],
				"total_transactions": 3,
				"request_id": "req-1"
			}`))
			return
		}
		w.Write([]byte(`{
			"item": {"item_id": "item-1", "institution_id": "ins_1"},
			"transactions": [
				{"transaction_id": "t3", "account_id": "acc-1", "amount": 40, "date": "2024-01-05", "name": "Gas", "pending": true}
			],
			"total_transactions": 3
		}`))
	})

	res, err := c.Transactions(context.Background(), "tok", core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if res.ItemID != "item-1" || res.InstitutionID != "ins_1" || res.RequestID != "req-1" {
		t.Errorf("item metadata = %+v", res)
	}
	if len(res.Accounts) != 1 || res.Accounts[0].Mask != "0000" {
		t.Errorf("accounts = %+v", res.Accounts)
	}
	if len(res.Transactions) != 3 {
		t.Fatalf("got %d transactions", len(res.Transactions))
	}
	first := res.Transactions[0]
	if first.Amount.String() != "12.5" || first.Date != core.NewDate(2024, 1, 2) || first.ItemID != "item-1" {
		t.Errorf("first = %+v", first)
	}
	if res.Transactions[1].Description != "Gum" {
		t.Errorf("merchant fallback = %q", res.Transactions[1].Description)
	}
	if !res.Transactions[2].Pending {
		t.Error("pending flag lost")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   core.ErrorKind
	}{
		{"login required", 400, plaidError("ITEM_ERROR", "ITEM_LOGIN_REQUIRED"), core.KindAuthorization},
		{"bad token", 400, plaidError("INVALID_INPUT", "INVALID_ACCESS_TOKEN"), core.KindAuthorization},
		{"rate limited", 429, plaidError("RATE_LIMIT_EXCEEDED", "TRANSACTIONS_LIMIT"), core.KindTransient},
		{"server error", 500, `oops`, core.KindTransient},
		{"not ready", 400, plaidError("ITEM_ERROR", "PRODUCT_NOT_READY"), core.KindTransient},
		{"missing item", 400, plaidError("ITEM_ERROR", "ITEM_NOT_FOUND"), core.KindNotFound},
		{"bad request", 400, plaidError("INVALID_REQUEST", "MISSING_FIELDS"), core.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			err := c.RemoveItem(context.Background(), "tok")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := core.KindOf(err); got != tt.kind {
				t.Errorf("kind = %s, want %s (%v)", got, tt.kind, err)
			}
			var apiErr *apiError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *apiError in chain")
			}
			if apiErr.status != tt.status {
				t.Errorf("status = %d, want %d", apiErr.status, tt.status)
			}
		})
	}
}

func TestExchangeAndInstitution(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/item/public_token/exchange":
			w.Write([]byte(`{"access_token":"access-1","item_id":"item-9","request_id":"r"}`))
		case "/institutions/get_by_id":
			w.Write([]byte(`{"institution":{"institution_id":"ins_1","name":"First Platypus Bank","country_codes":["US"]},"request_id":"r"}`))
		default:
			http.NotFound(w, r)
		}
	})

	creds, err := c.ExchangePublicToken(context.Background(), "public-1")
	if err != nil {
		t.Fatalf("ExchangePublicToken: %v", err)
	}
	if creds.AccessToken != "access-1" || creds.ItemID != "item-9" {
		t.Errorf("creds = %+v", creds)
	}

	name, err := c.InstitutionName(context.Background(), "ins_1")
	if err != nil {
		t.Fatalf("InstitutionName: %v", err)
	}
	if name != "First Platypus Bank" {
		t.Errorf("name = %q", name)
	}
}

func TestTransactionsInvalidDateStaysZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transactions":[{"transaction_id":"t1","amount":1,"date":""}],"total_transactions":1}`))
	})
	res, err := c.Transactions(context.Background(), "tok", core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 2))
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if !res.Transactions[0].Date.IsZero() {
		t.Errorf("date = %v, want zero", res.Transactions[0].Date)
	}
}
