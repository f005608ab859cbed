package amqp

import (
	"encoding/json"
	"time"

	"wheresmymoney/internal/core"
)

// SyncTriggerMessage carries one sync trigger to the worker. The worker loads
// everything else from the database.
type SyncTriggerMessage struct {
	UserID    string      `json:"user_id"`
	TriggerID string      `json:"trigger_id"`
	Dates     []core.Date `json:"dates,omitempty"`
	Source    string      `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewSyncTriggerMessage(trigger core.SyncTrigger) *SyncTriggerMessage {
	return &SyncTriggerMessage{
		UserID:    trigger.UserID,
		TriggerID: trigger.TriggerID,
		Dates:     trigger.NewTransactionDates,
		Source:    trigger.Source,
		Timestamp: time.Now(),
	}
}

// Trigger converts the message back into the domain trigger.
func (m *SyncTriggerMessage) Trigger() core.SyncTrigger {
	return core.SyncTrigger{
		UserID:              m.UserID,
		TriggerID:           m.TriggerID,
		NewTransactionDates: m.Dates,
		Source:              m.Source,
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncTriggerMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncTriggerMessageFromJSON decodes and validates a message body.
func SyncTriggerMessageFromJSON(data []byte) (*SyncTriggerMessage, error) {
	var msg SyncTriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Trigger().Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
