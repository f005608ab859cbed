package banking

import (
	"context"

	"wheresmymoney/internal/core"
)

type (
	Account struct {
		ID      string
		Name    string
		Mask    string
		Type    string
		Subtype string
	}

	// TransactionsResult is one item's transactions over a date range.
	TransactionsResult struct {
		ItemID        string
		InstitutionID string
		RequestID     string
		Accounts      []Account
		Transactions  []core.Transaction
	}

	// ItemCredentials is the result of linking a bank item.
	ItemCredentials struct {
		ItemID      string
		AccessToken string
		RequestID   string
	}
)

// Ports for the banking-data provider.
type (
	TransactionSource interface {
		Transactions(ctx context.Context, accessToken string, start, end core.Date) (*TransactionsResult, error)
	}

	ItemManager interface {
		ExchangePublicToken(ctx context.Context, publicToken string) (ItemCredentials, error)
		InstitutionName(ctx context.Context, institutionID string) (string, error)
		RemoveItem(ctx context.Context, accessToken string) error
	}

	Provider interface {
		TransactionSource
		ItemManager
	}
)
