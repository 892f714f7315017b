// Package assignment is the per-order ledger of offers and their outcomes.
package assignment

import (
	"time"

	"hail/internal/types"
)

type Status string

const (
	StatusOffered  Status = "offered"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Assignment is a time-boxed proposal of one order to one driver.
type Assignment struct {
	ID         types.ID
	OrderID    types.ID
	DriverID   types.ID
	Status     Status
	OfferedAt  time.Time
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	RejectedAt *time.Time
}

// Open reports whether the offer can still be acted on at the given instant.
func (a *Assignment) Open(now time.Time) bool {
	return a != nil && a.Status == StatusOffered && a.ExpiresAt.After(now)
}
