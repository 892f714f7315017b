// Package trip is the rider-facing order lifecycle: request, track, cancel
// and progress a ride. Matching itself lives in dispatch.
package trip

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hail/internal/modules/driver"
	"hail/internal/modules/order"
	"hail/internal/store"
	"hail/internal/types"
)

// Dispatcher is the slice of the dispatch engine the trip lifecycle needs.
type Dispatcher interface {
	StartDispatch(ctx context.Context, orderID types.ID) error
	ScheduleStart(ctx context.Context, at time.Time, orderID types.ID) error
}

type Service struct {
	store      store.Store
	dispatcher Dispatcher
	log        zerolog.Logger
	clock      func() time.Time
}

func NewService(st store.Store, d Dispatcher, log zerolog.Logger) *Service {
	return &Service{store: st, dispatcher: d, log: log, clock: time.Now}
}

type CreateInput struct {
	RiderID             types.ID
	Pickup              *types.Point
	PickupLabel         string
	Dropoff             *types.Point
	DropoffLabel        string
	VehicleClass        string
	EstimatedFare       types.Money
	ScheduledAt         *time.Time
	OfferWindow         time.Duration
	MaxOffersPerAttempt int
}

// Create persists a new order and hands it to dispatch. Future-dated orders
// wait for their scheduled time; everything else starts matching at once.
func (s *Service) Create(ctx context.Context, in CreateInput) (*order.Order, error) {
	if in.RiderID == "" || in.Pickup == nil || in.Dropoff == nil {
		return nil, order.ErrBadRequest
	}
	now := s.clock()
	o := &order.Order{
		ID:                  types.ID(uuid.NewString()),
		RiderID:             in.RiderID,
		Status:              order.StatusPending,
		Pickup:              in.Pickup,
		PickupLabel:         in.PickupLabel,
		Dropoff:             in.Dropoff,
		DropoffLabel:        in.DropoffLabel,
		VehicleClass:        in.VehicleClass,
		EstimatedFare:       in.EstimatedFare,
		ScheduledAt:         in.ScheduledAt,
		OfferWindow:         order.ClampOfferWindow(in.OfferWindow),
		MaxOffersPerAttempt: order.ClampMaxOffers(in.MaxOffersPerAttempt),
		CreatedAt:           now,
	}
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	if o.ScheduledAt != nil && o.ScheduledAt.After(now) {
		if err := s.dispatcher.ScheduleStart(ctx, *o.ScheduledAt, o.ID); err != nil {
			return nil, err
		}
		return o, nil
	}
	if err := s.dispatcher.StartDispatch(ctx, o.ID); err != nil {
		// The order is stored; a later wakeup can still pick it up.
		s.log.Error().Err(err).Str("order_id", string(o.ID)).Msg("initial dispatch failed")
	}
	return s.Get(ctx, o.ID)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*order.Order, error) {
	var o *order.Order
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, order.ErrNotFound
	}
	return o, nil
}

// Cancel aborts an order from any pre-trip state. A driver already locked
// in is released back to online.
func (s *Service) Cancel(ctx context.Context, id types.ID) (*order.Order, error) {
	var o *order.Order
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if o == nil {
			return order.ErrNotFound
		}
		if !order.CanTransition(o.Status, order.StatusCancelled) {
			return order.ErrConflict
		}
		if err := s.releaseDriver(ctx, tx, o); err != nil {
			return err
		}
		o.Status = order.StatusCancelled
		t := s.clock()
		o.CancelledAt = &t
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("order_id", string(id)).Msg("order cancelled")
	return o, nil
}

// Advance moves a matched order through the trip: driver_arrived, picked_up,
// in_transit, completed. Completion releases the driver.
func (s *Service) Advance(ctx context.Context, id types.ID, to order.Status) (*order.Order, error) {
	switch to {
	case order.StatusDriverArrived, order.StatusPickedUp, order.StatusInTransit, order.StatusCompleted:
	default:
		return nil, order.ErrBadRequest
	}
	var o *order.Order
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if o == nil {
			return order.ErrNotFound
		}
		if !order.CanTransition(o.Status, to) {
			return order.ErrConflict
		}
		if to == order.StatusCompleted {
			if err := s.releaseDriver(ctx, tx, o); err != nil {
				return err
			}
			t := s.clock()
			o.CompletedAt = &t
		}
		o.Status = to
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) releaseDriver(ctx context.Context, tx store.Tx, o *order.Order) error {
	if o.DriverID == nil {
		return nil
	}
	d, err := tx.GetDriver(ctx, *o.DriverID)
	if err != nil {
		return err
	}
	if d == nil || d.OnlineStatus != driver.OnTrip {
		return nil
	}
	d.OnlineStatus = driver.Online
	d.UpdatedAt = s.clock()
	return tx.PutDriver(ctx, d)
}
