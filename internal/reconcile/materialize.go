package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"wheresmymoney/internal/core"
)

const eventLocation = "See description for transaction details!"

// EventSpec is the provider-neutral description of one day's calendar event.
type EventSpec struct {
	Date        core.Date
	Summary     string
	Location    string
	Description string
	Fingerprint string
}

// Materialize renders a day summary into an all-day event description.
func Materialize(day core.DaySummary) EventSpec {
	var b strings.Builder
	b.WriteString("Transactions:")
	for _, item := range day.Items {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s: $%s", item.Description, core.FormatAmount(item.Amount))
	}
	return EventSpec{
		Date:        day.Date,
		Summary:     SummaryLine(day),
		Location:    eventLocation,
		Description: b.String(),
		Fingerprint: Fingerprint(day),
	}
}

// SummaryLine is the event title, e.g. "Spent $53".
func SummaryLine(day core.DaySummary) string {
	return "Spent $" + core.RoundDisplay(day.Total).String()
}

// Fingerprint hashes the multiset of (description, amount) pairs of a day.
// Reordering transactions within a day does not change it; any change to a
// description or an amount does.
func Fingerprint(day core.DaySummary) string {
	pairs := make([]string, 0, len(day.Items))
	for _, item := range day.Items {
		// Normalize the amount so 12.5 and 12.50 hash the same.
		pairs = append(pairs, fmt.Sprintf("%q=%s", item.Description, item.Amount.String()))
	}
	sort.Strings(pairs)

	h := sha256.New()
	h.Write([]byte(day.Date.String()))
	for _, p := range pairs {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
