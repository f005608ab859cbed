// Package reconcile holds the pure parts of the calendar sync: grouping
// transactions into days, diffing desired days against scheduled events, and
// rendering a day into a calendar event. Nothing in here performs I/O.
package reconcile

import (
	"wheresmymoney/internal/core"

	"github.com/shopspring/decimal"
)

// Aggregate groups transactions by calendar day. Totals keep full decimal
// precision; descriptions keep input order within a day.
//
// A transaction without a date fails the whole aggregation with a
// validation error rather than being dropped.
func Aggregate(txns []core.Transaction) (map[core.Date]core.DaySummary, error) {
	out := make(map[core.Date]core.DaySummary)
	for _, t := range txns {
		if err := t.Validate(); err != nil {
			return nil, core.ValidationError("aggregate", err)
		}
		day, ok := out[t.Date]
		if !ok {
			day = core.DaySummary{Date: t.Date, Total: decimal.Zero}
		}
		day.Total = day.Total.Add(t.Amount)
		day.Descriptions = append(day.Descriptions, t.Description)
		day.Items = append(day.Items, core.LineItem{Description: t.Description, Amount: t.Amount})
		out[t.Date] = day
	}
	return out, nil
}

// FilterWindow keeps transactions dated within [start, end] and, unless
// includePending is set, drops pending ones.
func FilterWindow(txns []core.Transaction, start, end core.Date, includePending bool) []core.Transaction {
	out := make([]core.Transaction, 0, len(txns))
	for _, t := range txns {
		if t.Pending && !includePending {
			continue
		}
		if !t.Date.IsZero() && (t.Date.Before(start) || end.Before(t.Date)) {
			continue
		}
		out = append(out, t)
	}
	return out
}
