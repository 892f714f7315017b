package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"hail/internal/modules/assignment"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/order"
	"hail/internal/store"
	"hail/internal/types"
)

type schedCall struct {
	delay   time.Duration
	handler string
	orderID types.ID
}

// recorderSched captures wakeup requests instead of firing them; tests
// drive the engine entry points directly.
type recorderSched struct {
	mu    sync.Mutex
	calls []schedCall
}

func (r *recorderSched) ScheduleAfter(_ context.Context, delay time.Duration, handler string, orderID types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, schedCall{delay, handler, orderID})
	return nil
}

func (r *recorderSched) last(t *testing.T) schedCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.calls)
	return r.calls[len(r.calls)-1]
}

type recorderNotifier struct {
	mu     sync.Mutex
	offers map[types.ID][]Offer
}

func (r *recorderNotifier) NotifyOffer(driverID types.ID, offer Offer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offers == nil {
		r.offers = make(map[types.ID][]Offer)
	}
	r.offers[driverID] = append(r.offers[driverID], offer)
}

type engineFixture struct {
	engine   *Engine
	store    *store.Memory
	sched    *recorderSched
	notifier *recorderNotifier
	now      time.Time
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    store.NewMemory(),
		sched:    &recorderSched{},
		notifier: &recorderNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.store, f.sched, Config{}, f.notifier, testLogger())
	f.engine.clock = func() time.Time { return f.now }
	return f
}

func (f *engineFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *engineFixture) seedOrder(t *testing.T, o *order.Order) {
	t.Helper()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = f.now
	}
	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		return tx.PutOrder(context.Background(), o)
	}))
}

func (f *engineFixture) seedDriver(t *testing.T, id types.ID, pos *types.Point) {
	t.Helper()
	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		d := &driver.Driver{ID: id, Status: driver.StatusActive, OnlineStatus: driver.Online, CreatedAt: f.now, UpdatedAt: f.now}
		if err := tx.PutDriver(context.Background(), d); err != nil {
			return err
		}
		if pos == nil {
			return nil
		}
		return tx.AppendLocation(context.Background(), &location.Sample{
			DriverID: id, Position: *pos, RecordedAt: f.now,
		})
	}))
}

func (f *engineFixture) getOrder(t *testing.T, id types.ID) *order.Order {
	t.Helper()
	var o *order.Order
	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		var err error
		o, err = tx.GetOrder(context.Background(), id)
		return err
	}))
	require.NotNil(t, o)
	return o
}

func (f *engineFixture) getDriver(t *testing.T, id types.ID) *driver.Driver {
	t.Helper()
	var d *driver.Driver
	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		var err error
		d, err = tx.GetDriver(context.Background(), id)
		return err
	}))
	require.NotNil(t, d)
	return d
}

func baseOrder(id types.ID) *order.Order {
	return &order.Order{
		ID:      id,
		RiderID: "r1",
		Status:  order.StatusPending,
		Pickup:  &types.Point{Lat: 25.0330, Lng: 121.5654},
		Dropoff: &types.Point{Lat: 25.0478, Lng: 121.5170},
	}
}

func TestStartDispatch_CreatesOffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDriver(t, "d1", &types.Point{Lat: 25.0335, Lng: 121.5650})
	f.seedDriver(t, "d2", &types.Point{Lat: 25.0400, Lng: 121.5500})
	f.seedOrder(t, baseOrder("o1"))

	require.NoError(t, f.engine.StartDispatch(ctx, "o1"))

	o := f.getOrder(t, "o1")
	require.Equal(t, order.StatusSearching, o.Status)
	require.Equal(t, 1, o.MatchingAttemptCount)
	require.NotNil(t, o.LastMatchAttemptAt)

	offers, err := f.engine.ListOffers(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, types.ID("o1"), offers[0].OrderID)
	require.Equal(t, f.now.Add(order.DefaultOfferWindow), offers[0].ExpiresAt)

	// Both drivers got pushed their offer.
	require.Len(t, f.notifier.offers["d1"], 1)
	require.Len(t, f.notifier.offers["d2"], 1)

	call := f.sched.last(t)
	require.Equal(t, HandlerExpireOffers, call.handler)
	require.Equal(t, order.DefaultOfferWindow+250*time.Millisecond, call.delay)
}

func TestStartDispatch_NoDrivers_Queues(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, baseOrder("o1"))

	require.NoError(t, f.engine.StartDispatch(context.Background(), "o1"))

	o := f.getOrder(t, "o1")
	require.Equal(t, order.StatusQueued, o.Status)
	require.NotNil(t, o.NextMatchAttemptAt)
	require.Equal(t, f.now.Add(30*time.Second), *o.NextMatchAttemptAt)

	call := f.sched.last(t)
	require.Equal(t, HandlerAttemptMatch, call.handler)
	require.Equal(t, 30*time.Second, call.delay)
}

func TestStartDispatch_FutureScheduled_NoOp(t *testing.T) {
	f := newFixture(t)
	f.seedDriver(t, "d1", nil)
	o := baseOrder("o1")
	at := f.now.Add(time.Hour)
	o.ScheduledAt = &at
	f.seedOrder(t, o)

	require.NoError(t, f.engine.StartDispatch(context.Background(), "o1"))
	require.Equal(t, order.StatusPending, f.getOrder(t, "o1").Status)
}

func TestAccept_MatchesOrderAndLocksDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDriver(t, "d1", nil)
	f.seedDriver(t, "d2", nil)
	f.seedOrder(t, baseOrder("o1"))
	require.NoError(t, f.engine.StartDispatch(ctx, "o1"))

	offers, err := f.engine.ListOffers(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, offers, 1)

	matched, err := f.engine.Accept(ctx, "d1", offers[0].AssignmentID)
	require.NoError(t, err)
	require.Equal(t, order.StatusMatched, matched.Status)
	require.NotNil(t, matched.DriverID)
	require.Equal(t, types.ID("d1"), *matched.DriverID)
	require.NotNil(t, matched.MatchedAt)

	require.Equal(t, driver.OnTrip, f.getDriver(t, "d1").OnlineStatus)

	// The losing offer conflicts and is closed by the attempt.
	losing, err := f.engine.ListOffers(ctx, "d2")
	require.NoError(t, err)
	require.Len(t, losing, 1)
	_, err = f.engine.Accept(ctx, "d2", losing[0].AssignmentID)
	require.ErrorIs(t, err, assignment.ErrConflict)

	// A second accept on the already-expired offer is also a conflict.
	_, err = f.engine.Accept(ctx, "d2", losing[0].AssignmentID)
	require.ErrorIs(t, err, assignment.ErrConflict)
}

func TestAccept_WrongDriver_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDriver(t, "d1", nil)
	f.seedOrder(t, baseOrder("o1"))
	require.NoError(t, f.engine.StartDispatch(ctx, "o1"))

	offers, err := f.engine.ListOffers(ctx, "d1")
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, "other", offers[0].AssignmentID)
	require.ErrorIs(t, err, assignment.ErrNotFound)
}

func TestAccept_AfterWindow_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDriver(t, "d1", nil)
	f.seedOrder(t, baseOrder("o1"))
	require.NoError(t, f.engine.StartDispatch(ctx, "o1"))

	offers, err := f.engine.ListOffers(ctx, "d1")
	require.NoError(t, err)

	f.advance(order.DefaultOfferWindow + time.Second)
	_, err = f.engine.Accept(ctx, "d1", offers[0].AssignmentID)
	require.ErrorIs(t, err, assignment.ErrExpired)

	// The marking survives the failed accept: the offer is gone for good.
	open, err := f.engine.ListOffers(ctx, "d1")
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestReject_ThenCooldownExcludesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDriver(t, "d1", nil)
	f.seedOrder(t, baseOrder("o1"))
	require.NoError(t, f.engine.StartDispatch(ctx, "o1"))

	offers, err := f.engine.ListOffers(ctx, "d1")
	require.NoError(t, err)
	require.NoError(t, f.engine.Reject(ctx, "d1", offers[0].AssignmentID))

	// Rejecting twice is a no-op, not an error.
	require.NoError(t, f.engine.Reject(ctx, "d1", offers[0].AssignmentID))

	// Window passes; the only driver is inside the cooldown so the order
	// parks in queued.
	f.advance(order.DefaultOfferWindow + time.Second)
	require.NoError(t, f.engine.ExpireOffers(ctx, "o1"))
	require.Equal(t, order.StatusQueued, f.getOrder(t, "o1").Status)

	// After the cooldown the driver is offered again.
	f.advance(30 * time.Second)
	require.NoError(t, f.engine.AttemptMatch(ctx, "o1"))
	open, err := f.engine.ListOffers(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestExpireOffers_RetriesWhileSupplyExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDriver(t, "d1", nil)
	f.seedDriver(t, "d2", nil)
	o := baseOrder("o1")
	o.MaxOffersPerAttempt = 1
	f.seedOrder(t, o)
	require.NoError(t, f.engine.StartDispatch(ctx, "o1"))

	first, err := f.engine.ListOffers(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Nobody answers; the next round starts immediately and rotates to d2.
	f.advance(order.DefaultOfferWindow + time.Second)
	require.NoError(t, f.engine.ExpireOffers(ctx, "o1"))

	got := f.getOrder(t, "o1")
	require.Equal(t, order.StatusSearching, got.Status)
	require.Equal(t, 2, got.MatchingAttemptCount)

	second, err := f.engine.ListOffers(ctx, "d2")
	require.NoError(t, err)
	require.Len(t, second, 1)
}

func TestExpireOffers_CancelledOrder_NoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDriver(t, "d1", nil)
	f.seedOrder(t, baseOrder("o1"))
	require.NoError(t, f.engine.StartDispatch(ctx, "o1"))

	require.NoError(t, f.store.Atomic(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, "o1")
		if err != nil {
			return err
		}
		o.Status = order.StatusCancelled
		return tx.PutOrder(ctx, o)
	}))

	before := len(f.sched.calls)
	f.advance(order.DefaultOfferWindow + time.Second)
	require.NoError(t, f.engine.ExpireOffers(ctx, "o1"))
	require.Len(t, f.sched.calls, before, "resolved order must not reschedule")
}

func TestAttemptMatch_CatchesUpStaleOrder(t *testing.T) {
	// An accepted assignment with the order still searching is repaired on
	// the next wakeup.
	f := newFixture(t)
	ctx := context.Background()
	f.seedDriver(t, "d1", nil)
	f.seedOrder(t, baseOrder("o1"))
	require.NoError(t, f.engine.StartDispatch(ctx, "o1"))

	require.NoError(t, f.store.Atomic(ctx, func(tx store.Tx) error {
		as, err := tx.AssignmentsByOrder(ctx, "o1")
		if err != nil {
			return err
		}
		a := as[0]
		a.Status = assignment.StatusAccepted
		now := f.now
		a.AcceptedAt = &now
		return tx.PutAssignment(ctx, a)
	}))

	require.NoError(t, f.engine.AttemptMatch(ctx, "o1"))

	o := f.getOrder(t, "o1")
	require.Equal(t, order.StatusMatched, o.Status)
	require.NotNil(t, o.DriverID)
	require.Equal(t, types.ID("d1"), *o.DriverID)
	require.Equal(t, driver.OnTrip, f.getDriver(t, "d1").OnlineStatus)
}

func TestConcurrentAcceptSameOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []types.ID{"d1", "d2", "d3"} {
		f.seedDriver(t, id, nil)
	}
	f.seedOrder(t, baseOrder("o1"))
	require.NoError(t, f.engine.StartDispatch(ctx, "o1"))

	ids := []types.ID{"d1", "d2", "d3"}
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			offers, err := f.engine.ListOffers(ctx, id)
			if err != nil || len(offers) == 0 {
				errs <- err
				return
			}
			_, err = f.engine.Accept(ctx, id, offers[0].AssignmentID)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, assignment.ErrConflict)
	}
	require.Equal(t, 1, success, "exactly one driver may win the order")

	o := f.getOrder(t, "o1")
	require.Equal(t, order.StatusMatched, o.Status)
	require.NotNil(t, o.DriverID)
	onTrip := 0
	for _, id := range ids {
		if f.getDriver(t, id).OnlineStatus == driver.OnTrip {
			onTrip++
			require.Equal(t, id, *o.DriverID)
		}
	}
	require.Equal(t, 1, onTrip)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
