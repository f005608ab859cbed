package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"wheresmymoney/internal/banking"
	bankmem "wheresmymoney/internal/banking/memory"
	"wheresmymoney/internal/banking/plaid"
	"wheresmymoney/internal/calendar"
	gcal "wheresmymoney/internal/calendar/google"
	calmem "wheresmymoney/internal/calendar/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cal, err := f.createCalendar(ctx, config)
	if err != nil {
		return nil, err
	}
	bank, err := f.createBanking(config)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Collaborators initialized",
		"calendar", config.Calendar,
		"banking", config.Banking)

	return &BackendResult{
		Calendar: cal,
		Banking:  bank,
	}, nil
}

func (f *DefaultFactory) createCalendar(ctx context.Context, config Config) (calendar.Authorizer, error) {
	switch config.Calendar {
	case GoogleBackend:
		clientJSON := []byte(config.GoogleOAuthClientJSON)
		if len(clientJSON) == 0 {
			b, err := os.ReadFile(config.GoogleOAuthClientFile)
			if err != nil {
				return nil, fmt.Errorf("read oauth client file: %w", err)
			}
			clientJSON = b
		}
		a, err := gcal.NewAuthorizer(clientJSON, config.CalendarTimeZone)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Calendar authorizer: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Google Calendar backend", "timezone", config.CalendarTimeZone)
		return a, nil
	case MemoryBackend:
		f.logger.Warn("Using in-memory calendar; events are lost on restart")
		return calmem.New(), nil
	default:
		return nil, fmt.Errorf("unsupported calendar backend: %s", config.Calendar)
	}
}

func (f *DefaultFactory) createBanking(config Config) (banking.Provider, error) {
	switch config.Banking {
	case PlaidBackend:
		c, err := plaid.NewForEnvironment(config.PlaidEnv, config.PlaidClientID, config.PlaidSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Plaid client: %w", err)
		}
		f.logger.Info("Initialized Plaid backend", "environment", config.PlaidEnv)
		return c, nil
	case MemoryBackend:
		f.logger.Warn("Using in-memory banking provider")
		return bankmem.New(), nil
	default:
		return nil, fmt.Errorf("unsupported banking backend: %s", config.Banking)
	}
}
