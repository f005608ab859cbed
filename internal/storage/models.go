package storage

type DeleteQueue struct {
	ID              int64
	UserID          string
	EventDate       string
	ExternalEventID string
	Attempts        int64
	LastError       string
	EnqueuedAt      int64
}

type Item struct {
	ItemID        string
	UserID        string
	AccessToken   string
	InstitutionID string
	CreatedAt     int64
}

type ScheduledEvent struct {
	UserID          string
	EventDate       string
	ExternalEventID string
	Fingerprint     string
	CreatedAt       int64
}

type SyncLease struct {
	UserID    string
	Holder    string
	ExpiresAt int64
}

type SyncTrigger struct {
	UserID    string
	TriggerID string
	RunID     string
	State     string
	Report    string
	UpdatedAt int64
}

type User struct {
	ID              string
	Email           string
	CalendarID      string
	OauthToken      string
	DatesToSchedule string
	CreatedAt       int64
	UpdatedAt       int64
}
