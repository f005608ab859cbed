// Package memory is an in-process banking provider for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"wheresmymoney/internal/banking"
	"wheresmymoney/internal/core"
)

type item struct {
	itemID        string
	institutionID string
	txns          []core.Transaction
}

type Provider struct {
	mu           sync.Mutex
	seq          int
	items        map[string]*item // by access token
	institutions map[string]string
	fetches      int

	// FetchErrors injects one error per call, consumed in order.
	FetchErrors []error
}

var _ banking.Provider = (*Provider)(nil)

func New() *Provider {
	return &Provider{
		items:        map[string]*item{},
		institutions: map[string]string{},
	}
}

// AddItem registers an item and returns its access token.
func (p *Provider) AddItem(itemID, institutionID string, txns ...core.Transaction) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	token := "access-" + itemID
	p.items[token] = &item{itemID: itemID, institutionID: institutionID, txns: txns}
	return token
}

// SetTransactions replaces the transactions of an item.
func (p *Provider) SetTransactions(accessToken string, txns ...core.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it, ok := p.items[accessToken]; ok {
		it.txns = txns
	}
}

func (p *Provider) SetInstitution(id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.institutions[id] = name
}

func (p *Provider) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

func (p *Provider) Transactions(_ context.Context, accessToken string, start, end core.Date) (*banking.TransactionsResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if len(p.FetchErrors) > 0 {
		err := p.FetchErrors[0]
		p.FetchErrors = p.FetchErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	it, ok := p.items[accessToken]
	if !ok {
		return nil, core.AuthorizationError("banking.transactions", fmt.Errorf("unknown access token"))
	}
	res := &banking.TransactionsResult{ItemID: it.itemID, InstitutionID: it.institutionID}
	for _, t := range it.txns {
		if !t.Date.IsZero() && (t.Date.Before(start) || end.Before(t.Date)) {
			continue
		}
		t.ItemID = it.itemID
		res.Transactions = append(res.Transactions, t)
	}
	return res, nil
}

// ExchangePublicToken treats the public token as the item id.
func (p *Provider) ExchangePublicToken(_ context.Context, publicToken string) (banking.ItemCredentials, error) {
	if publicToken == "" {
		return banking.ItemCredentials{}, core.ValidationError("banking.exchange", fmt.Errorf("empty public token"))
	}
	p.mu.Lock()
	p.seq++
	itemID := fmt.Sprintf("%s-%d", publicToken, p.seq)
	p.mu.Unlock()
	token := p.AddItem(itemID, "ins_memory")
	return banking.ItemCredentials{ItemID: itemID, AccessToken: token}, nil
}

func (p *Provider) InstitutionName(_ context.Context, institutionID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.institutions[institutionID]
	if !ok {
		return "", core.NotFoundError("banking.institution", fmt.Errorf("institution %s not found", institutionID))
	}
	return name, nil
}

func (p *Provider) RemoveItem(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[accessToken]; !ok {
		return core.NotFoundError("banking.remove_item", fmt.Errorf("item not found"))
	}
	delete(p.items, accessToken)
	return nil
}
