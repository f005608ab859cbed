// Package plaid adapts the Plaid SDK to the banking ports.
package plaid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"wheresmymoney/internal/banking"
	"wheresmymoney/internal/core"

	"github.com/plaid/plaid-go/v29/plaid"
	"github.com/shopspring/decimal"
)

const pageSize = 500

var environments = map[string]plaid.Environment{
	"sandbox":     plaid.Sandbox,
	"development": plaid.Environment("https://development.plaid.com"),
	"production":  plaid.Production,
}

type Client struct {
	api     *plaid.PlaidApiService
	baseURL string
}

var _ banking.Provider = (*Client)(nil)

// NewFromEnv reads PLAID_CLIENT_ID, PLAID_SECRET and PLAID_ENV (default sandbox).
func NewFromEnv() (*Client, error) {
	return NewForEnvironment(
		os.Getenv("PLAID_ENV"),
		os.Getenv("PLAID_CLIENT_ID"),
		os.Getenv("PLAID_SECRET"),
	)
}

// NewForEnvironment builds a client for a named Plaid environment.
func NewForEnvironment(env, clientID, secret string) (*Client, error) {
	clientID = strings.TrimSpace(clientID)
	secret = strings.TrimSpace(secret)
	if clientID == "" || secret == "" {
		return nil, errors.New("missing PLAID_CLIENT_ID or PLAID_SECRET")
	}
	env = strings.TrimSpace(env)
	if env == "" {
		env = "sandbox"
	}
	baseURL, ok := environments[env]
	if !ok {
		return nil, fmt.Errorf("unknown PLAID_ENV %q", env)
	}
	return New(string(baseURL), clientID, secret, nil), nil
}

func New(baseURL, clientID, secret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := plaid.NewConfiguration()
	cfg.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	cfg.AddDefaultHeader("PLAID-SECRET", secret)
	cfg.UseEnvironment(plaid.Environment(baseURL))
	cfg.HTTPClient = httpClient

	return &Client{api: plaid.NewAPIClient(cfg).PlaidApi, baseURL: baseURL}
}

// apiError is a failed Plaid call with the fields classification needs.
type apiError struct {
	ErrorType    string
	ErrorCode    string
	ErrorMessage string
	RequestID    string
	status       int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("plaid %d %s/%s: %s (request %s)", e.status, e.ErrorType, e.ErrorCode, e.ErrorMessage, e.RequestID)
}

// Transactions pages through /transactions/get for the given range.
func (c *Client) Transactions(ctx context.Context, accessToken string, start, end core.Date) (*banking.TransactionsResult, error) {
	const op = "plaid.transactions.get"
	result := &banking.TransactionsResult{}
	var offset int32
	for {
		opts := plaid.NewTransactionsGetRequestOptions()
		opts.SetCount(pageSize)
		opts.SetOffset(offset)
		req := plaid.NewTransactionsGetRequest(accessToken, start.String(), end.String())
		req.SetOptions(*opts)

		resp, httpResp, err := c.api.TransactionsGet(ctx).TransactionsGetRequest(*req).Execute()
		if err != nil {
			return nil, wrapError(op, httpResp, err)
		}

		item := resp.GetItem()
		if offset == 0 {
			result.ItemID = item.GetItemId()
			result.InstitutionID = item.GetInstitutionId()
			result.RequestID = resp.GetRequestId()
			for _, a := range resp.GetAccounts() {
				result.Accounts = append(result.Accounts, banking.Account{
					ID:      a.GetAccountId(),
					Name:    a.GetName(),
					Mask:    a.GetMask(),
					Type:    string(a.GetType()),
					Subtype: string(a.GetSubtype()),
				})
			}
		}
		txns := resp.GetTransactions()
		for _, t := range txns {
			result.Transactions = append(result.Transactions, toCore(t, item.GetItemId()))
		}

		offset += int32(len(txns))
		if len(txns) == 0 || offset >= resp.GetTotalTransactions() {
			break
		}
	}

	slog.DebugContext(ctx, "Fetched transactions from Plaid",
		"item_id", result.ItemID,
		"count", len(result.Transactions),
		"start", start.String(),
		"end", end.String())

	return result, nil
}

func toCore(t plaid.Transaction, itemID string) core.Transaction {
	// An unparseable date stays zero so aggregation rejects it.
	date, _ := core.ParseDate(t.GetDate())
	desc := t.GetName()
	if desc == "" {
		desc = t.GetMerchantName()
	}
	return core.Transaction{
		ID:          t.GetTransactionId(),
		Date:        date,
		Amount:      decimal.NewFromFloat(t.GetAmount()),
		Description: desc,
		AccountID:   t.GetAccountId(),
		ItemID:      itemID,
		Pending:     t.GetPending(),
	}
}

func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (banking.ItemCredentials, error) {
	req := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, httpResp, err := c.api.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*req).Execute()
	if err != nil {
		return banking.ItemCredentials{}, wrapError("plaid.item.public_token.exchange", httpResp, err)
	}
	return banking.ItemCredentials{
		ItemID:      resp.GetItemId(),
		AccessToken: resp.GetAccessToken(),
		RequestID:   resp.GetRequestId(),
	}, nil
}

func (c *Client) InstitutionName(ctx context.Context, institutionID string) (string, error) {
	req := plaid.NewInstitutionsGetByIdRequest(institutionID, []plaid.CountryCode{plaid.COUNTRYCODE_US})
	resp, httpResp, err := c.api.InstitutionsGetById(ctx).InstitutionsGetByIdRequest(*req).Execute()
	if err != nil {
		return "", wrapError("plaid.institutions.get_by_id", httpResp, err)
	}
	institution := resp.GetInstitution()
	return institution.GetName(), nil
}

func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	req := plaid.NewItemRemoveRequest(accessToken)
	_, httpResp, err := c.api.ItemRemove(ctx).ItemRemoveRequest(*req).Execute()
	if err != nil {
		return wrapError("plaid.item.remove", httpResp, err)
	}
	return nil
}

// wrapError turns an SDK failure into a classified core error. Transport
// failures arrive without a response.
func wrapError(op string, httpResp *http.Response, err error) error {
	if httpResp == nil {
		var nerr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &nerr) {
			return core.TransientError(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	apiErr := &apiError{status: httpResp.StatusCode}
	if pe, perr := plaid.ToPlaidError(err); perr == nil {
		apiErr.ErrorType = string(pe.GetErrorType())
		apiErr.ErrorCode = pe.GetErrorCode()
		apiErr.ErrorMessage = pe.GetErrorMessage()
		apiErr.RequestID = pe.GetRequestId()
	} else {
		apiErr.ErrorMessage = err.Error()
	}
	if apiErr.status < 300 {
		// A 2xx with an undecodable body.
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return classify(op, apiErr)
}

func classify(op string, e *apiError) error {
	switch {
	case e.status == http.StatusTooManyRequests || e.status >= 500:
		return core.TransientError(op, e)
	case e.ErrorType == "RATE_LIMIT_EXCEEDED" || e.ErrorType == "API_ERROR" || e.ErrorType == "INSTITUTION_ERROR":
		return core.TransientError(op, e)
	case e.ErrorCode == "PRODUCT_NOT_READY":
		return core.TransientError(op, e)
	case e.ErrorCode == "ITEM_LOGIN_REQUIRED" || e.ErrorCode == "INVALID_ACCESS_TOKEN" ||
		e.ErrorType == "INVALID_API_KEYS" || e.status == http.StatusUnauthorized:
		return core.AuthorizationError(op, e)
	case e.ErrorCode == "ITEM_NOT_FOUND" || e.ErrorCode == "INVALID_INSTITUTION" || e.status == http.StatusNotFound:
		return core.NotFoundError(op, e)
	default:
		return core.ValidationError(op, e)
	}
}
