package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"wheresmymoney/internal/core"

	"github.com/google/uuid"
)

// Webhook is the subset of a banking provider notification we act on.
type Webhook struct {
	WebhookType     string `json:"webhook_type"`
	WebhookCode     string `json:"webhook_code"`
	ItemID          string `json:"item_id"`
	WebhookID       string `json:"webhook_id,omitempty"`
	NewTransactions int    `json:"new_transactions,omitempty"`
}

var syncWebhookCodes = map[string]bool{
	"INITIAL_UPDATE":         true,
	"HISTORICAL_UPDATE":      true,
	"DEFAULT_UPDATE":         true,
	"TRANSACTIONS_REMOVED":   true,
	"SYNC_UPDATES_AVAILABLE": true,
}

// webhookRedeliveryWindow bounds how long a provider retry of the same
// notification still maps to the first delivery's trigger. Transaction
// webhooks carry no id and repeat byte for byte, so a later notification with
// the same body must land in a new window.
const webhookRedeliveryWindow = 5 * time.Minute

// ParseWebhook decodes a raw notification received at the given time. The
// provider's webhook_id is the trigger id when present; otherwise the body and
// the redelivery window it arrived in are hashed together.
func ParseWebhook(body []byte, received time.Time) (Webhook, string, error) {
	var w Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return Webhook{}, "", core.ValidationError("webhook.parse", fmt.Errorf("decode webhook: %w", err))
	}
	if w.ItemID == "" {
		return Webhook{}, "", core.ValidationError("webhook.parse", errors.New("missing item_id"))
	}

	triggerID := w.WebhookID
	if triggerID == "" {
		window := received.UTC().Truncate(webhookRedeliveryWindow).Unix()
		name := append(strconv.AppendInt(nil, window, 10), ':')
		triggerID = uuid.NewSHA1(uuid.NameSpaceOID, append(name, body...)).String()
	}
	return w, "webhook-" + triggerID, nil
}

// HandleWebhook turns a transactions notification into a sync trigger for
// the item's owner. Other notification types are acknowledged and ignored;
// the returned bool tells whether a trigger was dispatched.
func (s *UserService) HandleWebhook(ctx context.Context, body []byte) (bool, error) {
	w, triggerID, err := ParseWebhook(body, s.now())
	if err != nil {
		return false, err
	}

	if w.WebhookType != "TRANSACTIONS" || !syncWebhookCodes[w.WebhookCode] {
		slog.InfoContext(ctx, "Webhook ignored",
			"type", w.WebhookType, "code", w.WebhookCode, "item_id", w.ItemID)
		return false, nil
	}

	item, err := s.storage.GetItem(ctx, w.ItemID)
	if err != nil {
		return false, fmt.Errorf("resolve item: %w", err)
	}

	trigger := core.SyncTrigger{
		UserID:    item.UserID,
		TriggerID: triggerID,
		Source:    "webhook",
	}
	if err := s.Dispatch(ctx, trigger); err != nil {
		return true, fmt.Errorf("dispatch trigger: %w", err)
	}

	slog.InfoContext(ctx, "Webhook dispatched",
		"user_id", item.UserID,
		"item_id", w.ItemID,
		"code", w.WebhookCode,
		"trigger_id", triggerID,
		"new_transactions", w.NewTransactions)
	return true, nil
}
