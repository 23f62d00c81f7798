package storage

import (
	"context"
	"errors"

	"clearClient/internal/model"
)

// Journal is a write-only sink for finished transactions and route observations.
// Nothing is read back into a session.
type Journal interface {
	RecordTransaction(ctx context.Context, tx model.PendingTransaction) error
	RecordRoute(ctx context.Context, obs model.RouteObservation) error
}

// Multi fans records out to every journal and joins their errors.
type Multi []Journal

func (m Multi) RecordTransaction(ctx context.Context, tx model.PendingTransaction) error {
	var errs []error
	for _, j := range m {
		if err := j.RecordTransaction(ctx, tx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RecordRoute(ctx context.Context, obs model.RouteObservation) error {
	var errs []error
	for _, j := range m {
		if err := j.RecordRoute(ctx, obs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
