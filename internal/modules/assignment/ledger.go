package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hail/internal/types"
)

var (
	ErrNotFound = errors.New("assignment not found")
	ErrConflict = errors.New("assignment state conflict")
	// ErrExpired means the offer window passed before the decision arrived.
	// The assignment is flipped to expired as a side effect of discovery.
	ErrExpired = errors.New("assignment no longer available")
)

// Txn is the slice of the store transaction the ledger needs. The caller's
// transaction satisfies it structurally.
type Txn interface {
	GetAssignment(ctx context.Context, id types.ID) (*Assignment, error)
	PutAssignment(ctx context.Context, a *Assignment) error
	AssignmentsByOrder(ctx context.Context, orderID types.ID) ([]*Assignment, error)
}

// CreateOffer inserts an offered assignment expiring after window. The caller
// decides eligibility via ranking; the ledger only guards its own invariant
// of at most one open offer per (order, driver) pair.
func CreateOffer(ctx context.Context, tx Txn, orderID, driverID types.ID, now time.Time, window time.Duration) (*Assignment, error) {
	existing, err := tx.AssignmentsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if a.DriverID == driverID && a.Open(now) {
			return nil, fmt.Errorf("driver %s already holds an open offer: %w", driverID, ErrConflict)
		}
	}
	a := &Assignment{
		ID:        types.ID(uuid.NewString()),
		OrderID:   orderID,
		DriverID:  driverID,
		Status:    StatusOffered,
		OfferedAt: now,
		ExpiresAt: now.Add(window),
	}
	if err := tx.PutAssignment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SweepExpired flips every offered assignment whose window has passed to
// expired. Idempotent; safe to call redundantly.
func SweepExpired(ctx context.Context, tx Txn, orderID types.ID, now time.Time) (int, error) {
	all, err := tx.AssignmentsByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, a := range all {
		if a.Status == StatusOffered && !a.ExpiresAt.After(now) {
			a.Status = StatusExpired
			if err := tx.PutAssignment(ctx, a); err != nil {
				return swept, err
			}
			swept++
		}
	}
	return swept, nil
}

// FindAccepted returns the accepted assignment for the order, if any.
func FindAccepted(ctx context.Context, tx Txn, orderID types.ID) (*Assignment, error) {
	all, err := tx.AssignmentsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		if a.Status == StatusAccepted {
			return a, nil
		}
	}
	return nil, nil
}

// RecordDecision transitions an offered, unexpired assignment to accepted or
// rejected. An offered assignment discovered past its window is marked
// expired and ErrExpired is returned; the caller should commit that marking.
func RecordDecision(ctx context.Context, tx Txn, id types.ID, decision Status, now time.Time) (*Assignment, error) {
	if decision != StatusAccepted && decision != StatusRejected {
		return nil, fmt.Errorf("decision must be accepted or rejected, got %q: %w", decision, ErrConflict)
	}
	a, err := tx.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	if a.Status != StatusOffered {
		return nil, ErrConflict
	}
	if !a.ExpiresAt.After(now) {
		a.Status = StatusExpired
		if err := tx.PutAssignment(ctx, a); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}
	a.Status = decision
	switch decision {
	case StatusAccepted:
		t := now
		a.AcceptedAt = &t
	case StatusRejected:
		t := now
		a.RejectedAt = &t
	}
	if err := tx.PutAssignment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
