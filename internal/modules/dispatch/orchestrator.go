package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"hail/internal/modules/assignment"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/order"
	"hail/internal/observability"
	"hail/internal/sched"
	"hail/internal/store"
	"hail/internal/types"
)

// Handler names bound into the scheduler registry.
const (
	HandlerAttemptMatch = "dispatch.attempt_match"
	HandlerExpireOffers = "dispatch.expire_offers"
)

// Config carries the engine tunables. Zero values fall back to defaults.
type Config struct {
	NoDriverBackoff   time.Duration
	RejectionCooldown time.Duration
	LocationFreshness time.Duration
	SweepGrace        time.Duration
}

func (c Config) withDefaults() Config {
	if c.NoDriverBackoff <= 0 {
		c.NoDriverBackoff = 30 * time.Second
	}
	if c.RejectionCooldown <= 0 {
		c.RejectionCooldown = 30 * time.Second
	}
	if c.LocationFreshness <= 0 {
		c.LocationFreshness = 2 * time.Minute
	}
	if c.SweepGrace <= 0 {
		c.SweepGrace = 250 * time.Millisecond
	}
	return c
}

// Offer is the driver-facing view of an open assignment.
type Offer struct {
	AssignmentID  types.ID     `json:"assignment_id"`
	OrderID       types.ID     `json:"order_id"`
	Pickup        *types.Point `json:"pickup,omitempty"`
	PickupLabel   string       `json:"pickup_label"`
	Dropoff       *types.Point `json:"dropoff,omitempty"`
	DropoffLabel  string       `json:"dropoff_label"`
	EstimatedFare types.Money  `json:"estimated_fare"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

// Notifier pushes new offers to connected drivers. Delivery is advisory;
// drivers still discover offers by polling.
type Notifier interface {
	NotifyOffer(driverID types.ID, offer Offer)
}

// Engine is the dispatch orchestrator. Every entry point runs as one atomic
// store transaction, is idempotent, and re-derives order state on entry, so
// scheduled wakeups and driver actions may interleave in any order.
type Engine struct {
	store    store.Store
	sched    sched.Scheduler
	cfg      Config
	notifier Notifier
	log      zerolog.Logger
	clock    func() time.Time
}

func NewEngine(st store.Store, sch sched.Scheduler, cfg Config, notifier Notifier, log zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		sched:    sch,
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		log:      log,
		clock:    time.Now,
	}
}

// RegisterHandlers binds the engine's scheduled entry points.
func (e *Engine) RegisterHandlers(reg *sched.Registry) {
	reg.Handle(HandlerAttemptMatch, e.AttemptMatch)
	reg.Handle(HandlerExpireOffers, e.ExpireOffers)
}

// StartDispatch moves a freshly created order into searching and runs the
// first match attempt. No-op for resolved orders and for future-scheduled
// requests, which are dispatched by a separate trigger.
func (e *Engine) StartDispatch(ctx context.Context, orderID types.ID) error {
	now := e.clock()
	start := false
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		start = false
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return order.ErrNotFound
		}
		if o.Status.Resolved() {
			return nil
		}
		if o.ScheduledAt != nil && o.ScheduledAt.After(now) {
			return nil
		}
		if o.Status == order.StatusPending {
			o.Status = order.StatusSearching
			if err := tx.PutOrder(ctx, o); err != nil {
				return err
			}
		}
		start = true
		return nil
	})
	if err != nil || !start {
		return err
	}
	return e.AttemptMatch(ctx, orderID)
}

// ScheduleStart arranges the first match attempt of a future-dated order.
func (e *Engine) ScheduleStart(ctx context.Context, at time.Time, orderID types.ID) error {
	return e.sched.ScheduleAfter(ctx, at.Sub(e.clock()), HandlerAttemptMatch, orderID)
}

// AttemptMatch runs one offer round: sweep stale offers, rank candidates,
// write a batch of offers, and arrange the next wakeup. Re-entrant; called
// on start and by the scheduler.
func (e *Engine) AttemptMatch(ctx context.Context, orderID types.ID) error {
	now := e.clock()
	var (
		done    bool
		queued  bool
		window  time.Duration
		swept   int
		notices []struct {
			driverID types.ID
			offer    Offer
		}
	)
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		done, queued, swept, notices = false, false, 0, nil

		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return order.ErrNotFound
		}
		if o.Status.Resolved() {
			done = true
			return nil
		}
		// Catch-up for a concurrent acceptance that won the race with us.
		acc, err := assignment.FindAccepted(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if acc != nil {
			done = true
			return e.finalizeMatched(ctx, tx, o, acc, now)
		}
		if swept, err = assignment.SweepExpired(ctx, tx, orderID, now); err != nil {
			return err
		}

		o.MatchingAttemptCount++
		t := now
		o.LastMatchAttemptAt = &t

		pool, err := tx.OnlineActiveDrivers(ctx)
		if err != nil {
			return err
		}
		history, err := tx.AssignmentsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		latest := make(map[types.ID]*location.Sample, len(pool))
		for _, d := range pool {
			s, err := tx.LatestLocation(ctx, d.ID)
			if err != nil {
				return err
			}
			if s != nil {
				latest[d.ID] = s
			}
		}

		ranked := Rank(o, pool, history, latest, now, e.cfg.RejectionCooldown, e.cfg.LocationFreshness)
		window = order.ClampOfferWindow(o.OfferWindow)
		for _, driverID := range ranked {
			a, err := assignment.CreateOffer(ctx, tx, orderID, driverID, now, window)
			if err != nil {
				return err
			}
			notices = append(notices, struct {
				driverID types.ID
				offer    Offer
			}{driverID, offerView(o, a)})
		}

		if len(notices) == 0 {
			o.Status = order.StatusQueued
			next := now.Add(e.cfg.NoDriverBackoff)
			o.NextMatchAttemptAt = &next
			queued = true
		} else {
			o.Status = order.StatusSearching
			next := now.Add(window)
			o.NextMatchAttemptAt = &next
		}
		return tx.PutOrder(ctx, o)
	})
	if err != nil || done {
		return err
	}

	observability.DispatchAttemptsTotal.Inc()
	observability.OffersExpiredTotal.Add(float64(swept))

	if queued {
		observability.OrdersQueuedTotal.Inc()
		e.log.Info().Str("order_id", string(orderID)).Dur("backoff", e.cfg.NoDriverBackoff).
			Msg("no eligible driver, order queued")
		return e.sched.ScheduleAfter(ctx, e.cfg.NoDriverBackoff, HandlerAttemptMatch, orderID)
	}

	observability.OffersCreatedTotal.Add(float64(len(notices)))
	e.log.Info().Str("order_id", string(orderID)).Int("offers", len(notices)).
		Dur("window", window).Msg("offer round dispatched")
	if e.notifier != nil {
		for _, n := range notices {
			e.notifier.NotifyOffer(n.driverID, n.offer)
		}
	}
	// The grace absorbs scheduler jitter so the sweep never fires early.
	return e.sched.ScheduleAfter(ctx, window+e.cfg.SweepGrace, HandlerExpireOffers, orderID)
}

// ExpireOffers closes an offer round after its window. While supply exists
// the next round starts immediately to keep the ringing cadence tight;
// otherwise the order parks in queued with the no-driver backoff.
func (e *Engine) ExpireOffers(ctx context.Context, orderID types.ID) error {
	now := e.clock()
	var (
		done   bool
		retry  bool
		queued bool
		swept  int
	)
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		done, retry, queued, swept = false, false, false, 0

		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return order.ErrNotFound
		}
		// Sweep even when the order is already settled so losing offers do
		// not linger in the ledger.
		if swept, err = assignment.SweepExpired(ctx, tx, orderID, now); err != nil {
			return err
		}
		if o.Status.Resolved() {
			done = true
			return nil
		}
		acc, err := assignment.FindAccepted(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if acc != nil {
			done = true
			return e.finalizeMatched(ctx, tx, o, acc, now)
		}

		has, err := tx.HasOnlineActiveDriver(ctx)
		if err != nil {
			return err
		}
		if has {
			retry = true
			return nil
		}
		o.Status = order.StatusQueued
		next := now.Add(e.cfg.NoDriverBackoff)
		o.NextMatchAttemptAt = &next
		queued = true
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		return err
	}
	observability.OffersExpiredTotal.Add(float64(swept))
	if done {
		return nil
	}

	if retry {
		return e.AttemptMatch(ctx, orderID)
	}
	if queued {
		observability.OrdersQueuedTotal.Inc()
		return e.sched.ScheduleAfter(ctx, e.cfg.NoDriverBackoff, HandlerAttemptMatch, orderID)
	}
	return nil
}

// Accept records a driver's acceptance and finalizes the order, all in one
// transaction. A late acceptance (window passed, order cancelled, or
// another assignment already accepted) flips the offer to expired instead
// and surfaces a conflict; that marking is committed.
func (e *Engine) Accept(ctx context.Context, driverID, assignmentID types.ID) (*order.Order, error) {
	now := e.clock()
	var (
		matched *order.Order
		softErr error
	)
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		matched, softErr = nil, nil

		a, err := tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a == nil || a.DriverID != driverID {
			return assignment.ErrNotFound
		}
		if a.Status != assignment.StatusOffered {
			return assignment.ErrConflict
		}
		if !a.ExpiresAt.After(now) {
			a.Status = assignment.StatusExpired
			if err := tx.PutAssignment(ctx, a); err != nil {
				return err
			}
			softErr = assignment.ErrExpired
			return nil
		}

		o, err := tx.GetOrder(ctx, a.OrderID)
		if err != nil {
			return err
		}
		if o == nil {
			return order.ErrNotFound
		}
		acc, err := assignment.FindAccepted(ctx, tx, a.OrderID)
		if err != nil {
			return err
		}
		if o.Status.Resolved() || acc != nil {
			a.Status = assignment.StatusExpired
			if err := tx.PutAssignment(ctx, a); err != nil {
				return err
			}
			softErr = assignment.ErrConflict
			return nil
		}

		if _, err := assignment.RecordDecision(ctx, tx, a.ID, assignment.StatusAccepted, now); err != nil {
			return err
		}
		o.Status = order.StatusMatched
		id := a.DriverID
		o.DriverID = &id
		t := now
		o.MatchedAt = &t
		if err := tx.PutOrder(ctx, o); err != nil {
			return err
		}

		d, err := tx.GetDriver(ctx, a.DriverID)
		if err != nil {
			return err
		}
		if d == nil {
			return driver.ErrNotFound
		}
		d.OnlineStatus = driver.OnTrip
		d.UpdatedAt = now
		if err := tx.PutDriver(ctx, d); err != nil {
			return err
		}
		matched = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if softErr != nil {
		return nil, softErr
	}

	observability.OffersAcceptedTotal.Inc()
	observability.OrdersMatchedTotal.Inc()
	e.log.Info().Str("order_id", string(matched.ID)).Str("driver_id", string(driverID)).
		Msg("order matched")
	return matched, nil
}

// Reject records a driver's rejection. Already-resolved offers are a no-op;
// an offer discovered past its window is marked expired and reported as no
// longer available.
func (e *Engine) Reject(ctx context.Context, driverID, assignmentID types.ID) error {
	now := e.clock()
	var softErr error
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		softErr = nil

		a, err := tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a == nil || a.DriverID != driverID {
			return assignment.ErrNotFound
		}
		if a.Status != assignment.StatusOffered {
			return nil
		}
		_, err = assignment.RecordDecision(ctx, tx, a.ID, assignment.StatusRejected, now)
		if errors.Is(err, assignment.ErrExpired) {
			softErr = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if softErr != nil {
		return softErr
	}
	observability.OffersRejectedTotal.Inc()
	return nil
}

// ListOffers returns the driver's currently open offers.
func (e *Engine) ListOffers(ctx context.Context, driverID types.ID) ([]Offer, error) {
	now := e.clock()
	var out []Offer
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		out = nil
		as, err := tx.OfferedByDriver(ctx, driverID)
		if err != nil {
			return err
		}
		for _, a := range as {
			if !a.Open(now) {
				continue
			}
			o, err := tx.GetOrder(ctx, a.OrderID)
			if err != nil {
				return err
			}
			if o == nil {
				continue
			}
			out = append(out, offerView(o, a))
		}
		return nil
	})
	return out, err
}

// finalizeMatched is the self-healing path: the ledger's accepted record is
// authoritative, so an order (or driver) observed out of step with it is
// corrected here.
func (e *Engine) finalizeMatched(ctx context.Context, tx store.Tx, o *order.Order, acc *assignment.Assignment, now time.Time) error {
	if o.Status != order.StatusMatched {
		o.Status = order.StatusMatched
		id := acc.DriverID
		o.DriverID = &id
		matchedAt := now
		if acc.AcceptedAt != nil {
			matchedAt = *acc.AcceptedAt
		}
		o.MatchedAt = &matchedAt
		if err := tx.PutOrder(ctx, o); err != nil {
			return err
		}
	}
	d, err := tx.GetDriver(ctx, acc.DriverID)
	if err != nil {
		return err
	}
	if d != nil && d.OnlineStatus != driver.OnTrip {
		d.OnlineStatus = driver.OnTrip
		d.UpdatedAt = now
		if err := tx.PutDriver(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func offerView(o *order.Order, a *assignment.Assignment) Offer {
	return Offer{
		AssignmentID:  a.ID,
		OrderID:       o.ID,
		Pickup:        o.Pickup,
		PickupLabel:   o.PickupLabel,
		Dropoff:       o.Dropoff,
		DropoffLabel:  o.DropoffLabel,
		EstimatedFare: o.EstimatedFare,
		ExpiresAt:     a.ExpiresAt,
	}
}
