// Package backend builds the calendar and banking collaborators selected by
// configuration.
package backend

import (
	"context"

	"wheresmymoney/internal/banking"
	"wheresmymoney/internal/calendar"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the collaborators a sync run talks to.
type BackendResult struct {
	Calendar calendar.Authorizer
	Banking  banking.Provider
	Cleanup  CleanupFunc
}

// Factory creates collaborators based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for collaborator creation
type Config struct {
	Calendar BackendType
	Banking  BackendType

	// Google Calendar
	GoogleOAuthClientFile string
	GoogleOAuthClientJSON string
	CalendarTimeZone      string

	// Plaid
	PlaidClientID string
	PlaidSecret   string
	PlaidEnv      string
}

// BackendType names one implementation of a collaborator.
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	GoogleBackend BackendType = "google"
	PlaidBackend  BackendType = "plaid"
)

func (bt BackendType) String() string {
	return string(bt)
}

// ValidCalendar reports whether bt can serve as the calendar collaborator.
func (bt BackendType) ValidCalendar() bool {
	return bt == MemoryBackend || bt == GoogleBackend
}

// ValidBanking reports whether bt can serve as the banking collaborator.
func (bt BackendType) ValidBanking() bool {
	return bt == MemoryBackend || bt == PlaidBackend
}
