package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"hail/internal/modules/assignment"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/order"
	"hail/internal/types"
)

// Memory is an in-process store used by tests and for running without a
// database. A single mutex serializes transactions; writes are staged and
// applied only when the transaction function returns nil.
type Memory struct {
	mu          sync.Mutex
	orders      map[types.ID]*order.Order
	drivers     map[types.ID]*driver.Driver
	locations   map[types.ID][]*location.Sample
	assignments map[types.ID]*assignment.Assignment
}

func NewMemory() *Memory {
	return &Memory{
		orders:      make(map[types.ID]*order.Order),
		drivers:     make(map[types.ID]*driver.Driver),
		locations:   make(map[types.ID][]*location.Sample),
		assignments: make(map[types.ID]*assignment.Assignment),
	}
}

func (m *Memory) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		base:        m,
		orders:      make(map[types.ID]*order.Order),
		drivers:     make(map[types.ID]*driver.Driver),
		locations:   make(map[types.ID][]*location.Sample),
		assignments: make(map[types.ID]*assignment.Assignment),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx stages writes in its own maps; reads see staged state first.
type memTx struct {
	base        *Memory
	orders      map[types.ID]*order.Order
	drivers     map[types.ID]*driver.Driver
	locations   map[types.ID][]*location.Sample
	assignments map[types.ID]*assignment.Assignment
}

func (t *memTx) commit() {
	for id, o := range t.orders {
		t.base.orders[id] = o
	}
	for id, d := range t.drivers {
		t.base.drivers[id] = d
	}
	for id, samples := range t.locations {
		t.base.locations[id] = append(t.base.locations[id], samples...)
	}
	for id, a := range t.assignments {
		t.base.assignments[id] = a
	}
}

func (t *memTx) GetOrder(ctx context.Context, id types.ID) (*order.Order, error) {
	if o, ok := t.orders[id]; ok {
		return copyOrder(o), nil
	}
	if o, ok := t.base.orders[id]; ok {
		return copyOrder(o), nil
	}
	return nil, nil
}

func (t *memTx) PutOrder(ctx context.Context, o *order.Order) error {
	t.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *memTx) GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error) {
	if d, ok := t.drivers[id]; ok {
		dd := *d
		return &dd, nil
	}
	if d, ok := t.base.drivers[id]; ok {
		dd := *d
		return &dd, nil
	}
	return nil, nil
}

func (t *memTx) PutDriver(ctx context.Context, d *driver.Driver) error {
	dd := *d
	t.drivers[d.ID] = &dd
	return nil
}

func (t *memTx) OnlineActiveDrivers(ctx context.Context) ([]*driver.Driver, error) {
	seen := make(map[types.ID]*driver.Driver, len(t.base.drivers))
	for id, d := range t.base.drivers {
		seen[id] = d
	}
	for id, d := range t.drivers {
		seen[id] = d
	}
	var out []*driver.Driver
	for _, d := range seen {
		if d.Dispatchable() {
			dd := *d
			out = append(out, &dd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) HasOnlineActiveDriver(ctx context.Context) (bool, error) {
	ds, err := t.OnlineActiveDrivers(ctx)
	return len(ds) > 0, err
}

func (t *memTx) AppendLocation(ctx context.Context, s *location.Sample) error {
	ss := *s
	t.locations[s.DriverID] = append(t.locations[s.DriverID], &ss)
	return nil
}

func (t *memTx) LatestLocation(ctx context.Context, driverID types.ID) (*location.Sample, error) {
	var latest *location.Sample
	for _, s := range t.base.locations[driverID] {
		if latest == nil || s.RecordedAt.After(latest.RecordedAt) {
			latest = s
		}
	}
	for _, s := range t.locations[driverID] {
		if latest == nil || s.RecordedAt.After(latest.RecordedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	ss := *latest
	return &ss, nil
}

func (t *memTx) GetAssignment(ctx context.Context, id types.ID) (*assignment.Assignment, error) {
	if a, ok := t.assignments[id]; ok {
		return copyAssignment(a), nil
	}
	if a, ok := t.base.assignments[id]; ok {
		return copyAssignment(a), nil
	}
	return nil, nil
}

func (t *memTx) PutAssignment(ctx context.Context, a *assignment.Assignment) error {
	t.assignments[a.ID] = copyAssignment(a)
	return nil
}

func (t *memTx) AssignmentsByOrder(ctx context.Context, orderID types.ID) ([]*assignment.Assignment, error) {
	out := t.collectAssignments(func(a *assignment.Assignment) bool { return a.OrderID == orderID })
	return out, nil
}

func (t *memTx) OfferedByDriver(ctx context.Context, driverID types.ID) ([]*assignment.Assignment, error) {
	out := t.collectAssignments(func(a *assignment.Assignment) bool {
		return a.DriverID == driverID && a.Status == assignment.StatusOffered
	})
	return out, nil
}

func (t *memTx) collectAssignments(keep func(*assignment.Assignment) bool) []*assignment.Assignment {
	seen := make(map[types.ID]*assignment.Assignment, len(t.base.assignments))
	for id, a := range t.base.assignments {
		seen[id] = a
	}
	for id, a := range t.assignments {
		seen[id] = a
	}
	var out []*assignment.Assignment
	for _, a := range seen {
		if keep(a) {
			out = append(out, copyAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OfferedAt.Equal(out[j].OfferedAt) {
			return out[i].OfferedAt.Before(out[j].OfferedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func copyOrder(o *order.Order) *order.Order {
	oo := *o
	oo.DriverID = copyID(o.DriverID)
	oo.Pickup = copyPoint(o.Pickup)
	oo.Dropoff = copyPoint(o.Dropoff)
	oo.ScheduledAt = copyTime(o.ScheduledAt)
	oo.LastMatchAttemptAt = copyTime(o.LastMatchAttemptAt)
	oo.NextMatchAttemptAt = copyTime(o.NextMatchAttemptAt)
	oo.MatchedAt = copyTime(o.MatchedAt)
	oo.CompletedAt = copyTime(o.CompletedAt)
	oo.CancelledAt = copyTime(o.CancelledAt)
	return &oo
}

func copyAssignment(a *assignment.Assignment) *assignment.Assignment {
	aa := *a
	aa.AcceptedAt = copyTime(a.AcceptedAt)
	aa.RejectedAt = copyTime(a.RejectedAt)
	return &aa
}

func copyID(v *types.ID) *types.ID {
	if v == nil {
		return nil
	}
	id := *v
	return &id
}

func copyPoint(v *types.Point) *types.Point {
	if v == nil {
		return nil
	}
	p := *v
	return &p
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
