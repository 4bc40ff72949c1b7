// Package billing provides the billing domain rules shared by the webhook
// pipeline and the API surface: which subscription states are persisted,
// how provider payload fields normalize into the internal schema, and how
// missing period bounds are defaulted.
package billing

import "github.com/ammrshmbng/pro-learn/internal/types"

// acceptedStatuses is the set of subscription states the rest of the system
// understands and is willing to persist. The core is stateless per event:
// there is no transition table, only this accept/reject predicate on the
// resulting status.
var acceptedStatuses = map[types.SubscriptionStatus]struct{}{
	types.SubStatusTrialing: {},
	types.SubStatusActive:   {},
	types.SubStatusPastDue:  {},
}

// StatusPolicy decides what happens to subscription events whose status
// falls outside the accepted set.
type StatusPolicy struct {
	// PersistCanceled, when true, lets a "canceled" status overwrite the
	// stored record instead of being skipped. The historical behavior
	// (false) skips the event, which leaves the last accepted snapshot --
	// possibly "active" -- in place until the period lapses.
	PersistCanceled bool
}

// Accepts reports whether a subscription event with the given status should
// be persisted. Callers must log every rejection with the rejected status
// string preserved so operators can see states being dropped.
func (p StatusPolicy) Accepts(status types.SubscriptionStatus) bool {
	if _, ok := acceptedStatuses[status]; ok {
		return true
	}
	if p.PersistCanceled && status == types.SubStatusCanceled {
		return true
	}
	return false
}

// NormalizeInterval maps a provider plan-interval string onto the internal
// enumeration. Unknown intervals default to monthly, the least surprising
// billing cadence.
func NormalizeInterval(raw string) types.PlanInterval {
	switch raw {
	case "year":
		return types.IntervalYear
	case "month":
		return types.IntervalMonth
	default:
		return types.IntervalMonth
	}
}
