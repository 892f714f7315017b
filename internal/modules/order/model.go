// Package order holds the trip aggregate and its state machine.
package order

import (
	"time"

	"hail/internal/types"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusSearching     Status = "searching"
	StatusQueued        Status = "queued"
	StatusMatched       Status = "matched"
	StatusDriverArrived Status = "driver_arrived"
	StatusPickedUp      Status = "picked_up"
	StatusInTransit     Status = "in_transit"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Resolved reports whether dispatch is over for this order: a driver is
// locked in or the order reached a terminal state.
func (s Status) Resolved() bool {
	switch s {
	case StatusPending, StatusSearching, StatusQueued:
		return false
	}
	return true
}

// Offer window and offer batch size are caller-configurable per order,
// clamped to platform bounds.
const (
	DefaultOfferWindow = 15 * time.Second
	MinOfferWindow     = 5 * time.Second
	MaxOfferWindow     = 300 * time.Second

	DefaultMaxOffersPerAttempt = 3
	MinMaxOffersPerAttempt     = 1
	MaxMaxOffersPerAttempt     = 25
)

func ClampOfferWindow(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultOfferWindow
	case d < MinOfferWindow:
		return MinOfferWindow
	case d > MaxOfferWindow:
		return MaxOfferWindow
	}
	return d
}

func ClampMaxOffers(n int) int {
	switch {
	case n == 0:
		return DefaultMaxOffersPerAttempt
	case n < MinMaxOffersPerAttempt:
		return MinMaxOffersPerAttempt
	case n > MaxMaxOffersPerAttempt:
		return MaxMaxOffersPerAttempt
	}
	return n
}

type Order struct {
	ID            types.ID
	RiderID       types.ID
	DriverID      *types.ID
	Status        Status
	Pickup        *types.Point
	PickupLabel   string
	Dropoff       *types.Point
	DropoffLabel  string
	VehicleClass  string
	EstimatedFare types.Money
	ScheduledAt   *time.Time

	// Dispatch bookkeeping.
	MatchingAttemptCount int
	LastMatchAttemptAt   *time.Time
	NextMatchAttemptAt   *time.Time
	OfferWindow          time.Duration
	MaxOffersPerAttempt  int

	CreatedAt   time.Time
	MatchedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// AllowedTransitions represents the order state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:       {StatusSearching, StatusCancelled},
	StatusSearching:     {StatusQueued, StatusMatched, StatusCancelled},
	StatusQueued:        {StatusSearching, StatusCancelled},
	StatusMatched:       {StatusDriverArrived, StatusCancelled},
	StatusDriverArrived: {StatusPickedUp, StatusCancelled},
	StatusPickedUp:      {StatusInTransit},
	StatusInTransit:     {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
