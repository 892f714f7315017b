// Package store is the persistence boundary for orders, drivers, locations
// and assignments. Every dispatch invocation runs as one Atomic call; the
// transaction is the engine's mutual-exclusion unit.
package store

import (
	"context"

	"hail/internal/modules/assignment"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/order"
	"hail/internal/types"
)

// Tx exposes the indexed lookups and writes available inside a transaction.
// Get-style methods return (nil, nil) when the entity does not exist; callers
// map absence to their own NotFound errors.
type Tx interface {
	GetOrder(ctx context.Context, id types.ID) (*order.Order, error)
	PutOrder(ctx context.Context, o *order.Order) error

	GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error)
	PutDriver(ctx context.Context, d *driver.Driver) error
	// OnlineActiveDrivers returns the dispatch candidate pool, ordered by id.
	OnlineActiveDrivers(ctx context.Context) ([]*driver.Driver, error)
	HasOnlineActiveDriver(ctx context.Context) (bool, error)

	AppendLocation(ctx context.Context, s *location.Sample) error
	LatestLocation(ctx context.Context, driverID types.ID) (*location.Sample, error)

	GetAssignment(ctx context.Context, id types.ID) (*assignment.Assignment, error)
	PutAssignment(ctx context.Context, a *assignment.Assignment) error
	// AssignmentsByOrder returns the full offer history, ordered by offer time.
	AssignmentsByOrder(ctx context.Context, orderID types.ID) ([]*assignment.Assignment, error)
	// OfferedByDriver returns the driver's assignments still marked offered;
	// callers filter out the expired ones against their own clock.
	OfferedByDriver(ctx context.Context, driverID types.ID) ([]*assignment.Assignment, error)
}

// Store runs functions atomically: fn's writes become visible together when
// it returns nil and are discarded when it returns an error.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}
