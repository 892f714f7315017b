// Package dispatch matches pending orders to available drivers: a pure
// candidate ranker plus the orchestrator driving the offer/expiry/backoff
// cycle.
package dispatch

import (
	"math"
	"sort"
	"time"

	"hail/internal/modules/assignment"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/order"
	"hail/internal/types"
)

// Rank produces the priority-ordered list of driver ids eligible to receive
// a new offer right now, truncated to the order's offer batch size. Pure:
// identical snapshots always yield the identical list.
//
// Candidates with a fresh location sort first, closest to pickup first;
// candidates without one sort after, rotated fairly by how recently they
// were last offered (never-offered drivers first). When nobody has a fresh
// location the rotation key is the sole criterion.
func Rank(o *order.Order, pool []*driver.Driver, history []*assignment.Assignment,
	latest map[types.ID]*location.Sample, now time.Time, cooldown, freshness time.Duration) []types.ID {

	type candidate struct {
		id          types.ID
		distance    float64 // +Inf without a fresh location
		lastOffered int64   // unix ms of most recent offer, -1 if never offered
	}

	byDriver := make(map[types.ID][]*assignment.Assignment, len(history))
	for _, a := range history {
		byDriver[a.DriverID] = append(byDriver[a.DriverID], a)
	}

	var candidates []candidate
	for _, d := range pool {
		if !d.Dispatchable() {
			continue
		}
		if !eligible(byDriver[d.ID], now, cooldown) {
			continue
		}
		c := candidate{id: d.ID, distance: math.Inf(1), lastOffered: -1}
		if o.Pickup != nil {
			if s := latest[d.ID]; s.Fresh(now, freshness) {
				c.distance = location.DistanceMeters(s.Position, *o.Pickup)
			}
		}
		for _, a := range byDriver[d.ID] {
			if ms := a.OfferedAt.UnixMilli(); ms > c.lastOffered {
				c.lastOffered = ms
			}
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if a.lastOffered != b.lastOffered {
			return a.lastOffered < b.lastOffered
		}
		return a.id < b.id
	})

	max := order.ClampMaxOffers(o.MaxOffersPerAttempt)
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]types.ID, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// eligible applies the per-order exclusion rules: an accepted assignment, a
// still-open offer, or a rejection within the cooldown window each exclude
// the driver. After the cooldown a rejecting driver may be offered again;
// proximity outranks "never re-ask".
func eligible(history []*assignment.Assignment, now time.Time, cooldown time.Duration) bool {
	for _, a := range history {
		switch a.Status {
		case assignment.StatusAccepted:
			return false
		case assignment.StatusOffered:
			if a.ExpiresAt.After(now) {
				return false
			}
		case assignment.StatusRejected:
			rejectedAt := a.OfferedAt
			if a.RejectedAt != nil {
				rejectedAt = *a.RejectedAt
			}
			if now.Sub(rejectedAt) < cooldown {
				return false
			}
		}
	}
	return true
}
