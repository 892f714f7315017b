// Package driver holds the driver entity and its availability rules.
package driver

import (
	"time"

	"hail/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRejected  Status = "rejected"
)

type OnlineStatus string

const (
	Offline OnlineStatus = "offline"
	Online  OnlineStatus = "online"
	OnTrip  OnlineStatus = "on_trip"
)

type Driver struct {
	ID           types.ID
	Status       Status
	OnlineStatus OnlineStatus
	VehicleClass string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Dispatchable reports whether the driver may receive offers right now.
// A driver on a trip is never a candidate, which is what prevents
// double-booking across orders.
func (d Driver) Dispatchable() bool {
	return d.Status == StatusActive && d.OnlineStatus == Online
}
