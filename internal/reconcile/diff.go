package reconcile

import (
	"wheresmymoney/internal/core"
)

// Plan is the work needed to move the calendar from the scheduled state to
// the desired state.
//
// ToCreate and ToDelete are the set differences. Dates present on both sides
// land in Unchanged when the stored fingerprint matches, and in ToRefresh
// (delete then create) when it does not.
type Plan struct {
	ToCreate  []core.Date
	ToDelete  []core.Date
	ToRefresh []core.Date
	Unchanged []core.Date
}

// Empty reports whether the plan requires no calendar calls.
func (p Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToDelete) == 0 && len(p.ToRefresh) == 0
}

// Diff compares the desired days against the scheduled events. It never
// mutates its inputs. Days without any transactions count as absent.
func Diff(current map[core.Date]core.DaySummary, scheduled core.ScheduledEventSet) Plan {
	var plan Plan

	for date, day := range current {
		if len(day.Items) == 0 {
			continue
		}
		ev, ok := scheduled[date]
		switch {
		case !ok:
			plan.ToCreate = append(plan.ToCreate, date)
		case ev.Fingerprint != Fingerprint(day):
			plan.ToRefresh = append(plan.ToRefresh, date)
		default:
			plan.Unchanged = append(plan.Unchanged, date)
		}
	}

	for date := range scheduled {
		if day, ok := current[date]; ok && len(day.Items) > 0 {
			continue
		}
		plan.ToDelete = append(plan.ToDelete, date)
	}

	core.SortDates(plan.ToCreate)
	core.SortDates(plan.ToDelete)
	core.SortDates(plan.ToRefresh)
	core.SortDates(plan.Unchanged)
	return plan
}
