package store

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hail/internal/modules/assignment"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/order"
	"hail/internal/types"
)

//go:embed schema.sql
var schema string

// Postgres backs the store with pgx transactions. The order row is locked
// FOR UPDATE on read, which serializes concurrent dispatch invocations for
// the same order.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate applies the schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

const orderColumns = `id, rider_id, driver_id, status,
       pickup_lat, pickup_lng, pickup_label,
       dropoff_lat, dropoff_lng, dropoff_label,
       vehicle_class, fare_amount, fare_currency, scheduled_at,
       matching_attempt_count, last_match_attempt_at, next_match_attempt_at,
       offer_window_ms, max_offers_per_attempt,
       created_at, matched_at, completed_at, cancelled_at`

func (t *pgTx) GetOrder(ctx context.Context, id types.ID) (*order.Order, error) {
	row := t.tx.QueryRow(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE id = $1
        FOR UPDATE`, string(id))

	var (
		o             order.Order
		driverID      *string
		offerWindowMs int64

		pickupLat, pickupLng, dropoffLat, dropoffLng *float64
	)
	err := row.Scan(
		&o.ID, &o.RiderID, &driverID, &o.Status,
		&pickupLat, &pickupLng, &o.PickupLabel,
		&dropoffLat, &dropoffLng, &o.DropoffLabel,
		&o.VehicleClass, &o.EstimatedFare.Amount, &o.EstimatedFare.Currency, &o.ScheduledAt,
		&o.MatchingAttemptCount, &o.LastMatchAttemptAt, &o.NextMatchAttemptAt,
		&offerWindowMs, &o.MaxOffersPerAttempt,
		&o.CreatedAt, &o.MatchedAt, &o.CompletedAt, &o.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		o.DriverID = &d
	}
	if pickupLat != nil && pickupLng != nil {
		o.Pickup = &types.Point{Lat: *pickupLat, Lng: *pickupLng}
	}
	if dropoffLat != nil && dropoffLng != nil {
		o.Dropoff = &types.Point{Lat: *dropoffLat, Lng: *dropoffLng}
	}
	o.OfferWindow = time.Duration(offerWindowMs) * time.Millisecond
	return &o, nil
}

func (t *pgTx) PutOrder(ctx context.Context, o *order.Order) error {
	var pickupLat, pickupLng, dropoffLat, dropoffLng *float64
	if o.Pickup != nil {
		pickupLat, pickupLng = &o.Pickup.Lat, &o.Pickup.Lng
	}
	if o.Dropoff != nil {
		dropoffLat, dropoffLng = &o.Dropoff.Lat, &o.Dropoff.Lng
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO orders (`+orderColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
                $15, $16, $17, $18, $19, $20, $21, $22, $23)
        ON CONFLICT (id) DO UPDATE SET
            driver_id = EXCLUDED.driver_id,
            status = EXCLUDED.status,
            matching_attempt_count = EXCLUDED.matching_attempt_count,
            last_match_attempt_at = EXCLUDED.last_match_attempt_at,
            next_match_attempt_at = EXCLUDED.next_match_attempt_at,
            matched_at = EXCLUDED.matched_at,
            completed_at = EXCLUDED.completed_at,
            cancelled_at = EXCLUDED.cancelled_at`,
		string(o.ID), string(o.RiderID), idPtr(o.DriverID), string(o.Status),
		pickupLat, pickupLng, o.PickupLabel,
		dropoffLat, dropoffLng, o.DropoffLabel,
		o.VehicleClass, o.EstimatedFare.Amount, o.EstimatedFare.Currency, o.ScheduledAt,
		o.MatchingAttemptCount, o.LastMatchAttemptAt, o.NextMatchAttemptAt,
		o.OfferWindow.Milliseconds(), o.MaxOffersPerAttempt,
		o.CreatedAt, o.MatchedAt, o.CompletedAt, o.CancelledAt,
	)
	return err
}

func (t *pgTx) GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error) {
	row := t.tx.QueryRow(ctx, `
        SELECT id, status, online_status, vehicle_class, created_at, updated_at
        FROM drivers
        WHERE id = $1
        FOR UPDATE`, string(id))

	var d driver.Driver
	err := row.Scan(&d.ID, &d.Status, &d.OnlineStatus, &d.VehicleClass, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *pgTx) PutDriver(ctx context.Context, d *driver.Driver) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO drivers (id, status, online_status, vehicle_class, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            online_status = EXCLUDED.online_status,
            vehicle_class = EXCLUDED.vehicle_class,
            updated_at = EXCLUDED.updated_at`,
		string(d.ID), string(d.Status), string(d.OnlineStatus), d.VehicleClass, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (t *pgTx) OnlineActiveDrivers(ctx context.Context) ([]*driver.Driver, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT id, status, online_status, vehicle_class, created_at, updated_at
        FROM drivers
        WHERE status = 'active' AND online_status = 'online'
        ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*driver.Driver
	for rows.Next() {
		var d driver.Driver
		if err := rows.Scan(&d.ID, &d.Status, &d.OnlineStatus, &d.VehicleClass, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (t *pgTx) HasOnlineActiveDriver(ctx context.Context) (bool, error) {
	row := t.tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM drivers
            WHERE status = 'active' AND online_status = 'online'
        )`)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

func (t *pgTx) AppendLocation(ctx context.Context, s *location.Sample) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO driver_locations (driver_id, lat, lng, heading_deg, speed_mps, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		string(s.DriverID), s.Position.Lat, s.Position.Lng, s.HeadingDeg, s.SpeedMps, s.RecordedAt,
	)
	return err
}

func (t *pgTx) LatestLocation(ctx context.Context, driverID types.ID) (*location.Sample, error) {
	row := t.tx.QueryRow(ctx, `
        SELECT driver_id, lat, lng, heading_deg, speed_mps, recorded_at
        FROM driver_locations
        WHERE driver_id = $1
        ORDER BY recorded_at DESC
        LIMIT 1`, string(driverID))

	var s location.Sample
	err := row.Scan(&s.DriverID, &s.Position.Lat, &s.Position.Lng, &s.HeadingDeg, &s.SpeedMps, &s.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const assignmentColumns = `id, order_id, driver_id, status, offered_at, expires_at, accepted_at, rejected_at`

func (t *pgTx) GetAssignment(ctx context.Context, id types.ID) (*assignment.Assignment, error) {
	row := t.tx.QueryRow(ctx, `
        SELECT `+assignmentColumns+`
        FROM assignments
        WHERE id = $1
        FOR UPDATE`, string(id))

	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (t *pgTx) PutAssignment(ctx context.Context, a *assignment.Assignment) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO assignments (`+assignmentColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            accepted_at = EXCLUDED.accepted_at,
            rejected_at = EXCLUDED.rejected_at`,
		string(a.ID), string(a.OrderID), string(a.DriverID), string(a.Status),
		a.OfferedAt, a.ExpiresAt, a.AcceptedAt, a.RejectedAt,
	)
	return err
}

func (t *pgTx) AssignmentsByOrder(ctx context.Context, orderID types.ID) ([]*assignment.Assignment, error) {
	return t.queryAssignments(ctx, `
        SELECT `+assignmentColumns+`
        FROM assignments
        WHERE order_id = $1
        ORDER BY offered_at, id`, string(orderID))
}

func (t *pgTx) OfferedByDriver(ctx context.Context, driverID types.ID) ([]*assignment.Assignment, error) {
	return t.queryAssignments(ctx, `
        SELECT `+assignmentColumns+`
        FROM assignments
        WHERE driver_id = $1 AND status = 'offered'
        ORDER BY offered_at, id`, string(driverID))
}

func (t *pgTx) queryAssignments(ctx context.Context, sql string, args ...any) ([]*assignment.Assignment, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*assignment.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row pgx.Row) (*assignment.Assignment, error) {
	var a assignment.Assignment
	err := row.Scan(&a.ID, &a.OrderID, &a.DriverID, &a.Status,
		&a.OfferedAt, &a.ExpiresAt, &a.AcceptedAt, &a.RejectedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
