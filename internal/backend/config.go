package backend

import (
	"fmt"

	"wheresmymoney/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Calendar: BackendType(appConfig.CalendarBackend),
		Banking:  BackendType(appConfig.BankingBackend),

		GoogleOAuthClientFile: appConfig.GoogleOAuthClientFile,
		GoogleOAuthClientJSON: appConfig.GoogleOAuthClientJSON,
		CalendarTimeZone:      appConfig.CalendarTimeZone,

		PlaidClientID: appConfig.PlaidClientID,
		PlaidSecret:   appConfig.PlaidSecret,
		PlaidEnv:      appConfig.PlaidEnv,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Calendar.ValidCalendar() {
		return fmt.Errorf("invalid calendar backend: %s", c.Calendar)
	}
	if !c.Banking.ValidBanking() {
		return fmt.Errorf("invalid banking backend: %s", c.Banking)
	}

	if c.Calendar == GoogleBackend && c.GoogleOAuthClientFile == "" && c.GoogleOAuthClientJSON == "" {
		return fmt.Errorf("either GoogleOAuthClientFile or GoogleOAuthClientJSON must be provided for google calendar backend")
	}
	if c.Banking == PlaidBackend && (c.PlaidClientID == "" || c.PlaidSecret == "") {
		return fmt.Errorf("PlaidClientID and PlaidSecret are required for plaid banking backend")
	}
	return nil
}
