// Package fleet manages driver records and their availability toggles.
package fleet

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hail/internal/modules/driver"
	"hail/internal/store"
	"hail/internal/types"
)

type Service struct {
	store store.Store
	clock func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{store: st, clock: time.Now}
}

type CreateInput struct {
	VehicleClass string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*driver.Driver, error) {
	now := s.clock()
	d := &driver.Driver{
		ID:           types.ID(uuid.NewString()),
		Status:       driver.StatusActive,
		OnlineStatus: driver.Offline,
		VehicleClass: in.VehicleClass,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		return tx.PutDriver(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*driver.Driver, error) {
	var d *driver.Driver
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		d, err = tx.GetDriver(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, driver.ErrNotFound
	}
	return d, nil
}

// SetOnlineStatus flips a driver between offline and online. The on_trip
// state belongs to dispatch; a driver cannot self-serve out of it, and a
// request while on a trip is a conflict.
func (s *Service) SetOnlineStatus(ctx context.Context, id types.ID, status driver.OnlineStatus) (*driver.Driver, error) {
	if status != driver.Online && status != driver.Offline {
		return nil, driver.ErrConflict
	}
	var d *driver.Driver
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		d, err = tx.GetDriver(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return driver.ErrNotFound
		}
		if d.OnlineStatus == driver.OnTrip {
			return driver.ErrConflict
		}
		if d.OnlineStatus == status {
			return nil
		}
		d.OnlineStatus = status
		d.UpdatedAt = s.clock()
		return tx.PutDriver(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}
