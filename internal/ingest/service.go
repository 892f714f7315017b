// Package ingest moves driver location samples from the edge into the
// store, either directly or through the location stream.
package ingest

import (
	"context"
	"errors"
	"time"

	"hail/internal/modules/location"
	"hail/internal/observability"
	"hail/internal/store"
	"hail/internal/types"
)

var ErrBadSample = errors.New("invalid location sample")

// Publisher hands samples to a stream for asynchronous ingestion.
type Publisher interface {
	PublishSample(ctx context.Context, s location.Sample) error
}

// Service records driver location samples. With a publisher configured the
// sample goes to the stream and a consumer writes it; otherwise it is
// written straight to the store.
type Service struct {
	store     store.Store
	publisher Publisher
	clock     func() time.Time
}

func NewService(st store.Store, pub Publisher) *Service {
	return &Service{store: st, publisher: pub, clock: time.Now}
}

func (s *Service) Report(ctx context.Context, sample location.Sample) error {
	if sample.DriverID == "" {
		return ErrBadSample
	}
	if sample.Position.Lat < -90 || sample.Position.Lat > 90 ||
		sample.Position.Lng < -180 || sample.Position.Lng > 180 {
		return ErrBadSample
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = s.clock()
	}
	if s.publisher != nil {
		return s.publisher.PublishSample(ctx, sample)
	}
	return s.Ingest(ctx, sample)
}

// Ingest writes a sample to the store. The stream consumer calls this too,
// so it must stay idempotent for redelivered samples.
func (s *Service) Ingest(ctx context.Context, sample location.Sample) error {
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		return tx.AppendLocation(ctx, &sample)
	})
	if err != nil {
		return err
	}
	observability.LocationSamplesTotal.Inc()
	return nil
}

// Latest returns the most recent sample for a driver, nil when none exists.
func (s *Service) Latest(ctx context.Context, driverID types.ID) (*location.Sample, error) {
	var out *location.Sample
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.LatestLocation(ctx, driverID)
		return err
	})
	return out, err
}
