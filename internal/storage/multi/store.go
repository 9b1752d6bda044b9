// Package multi fans price updates out to several sinks behind one Store.
package multi

import (
	"context"
	"errors"
	"time"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

// Store delegates to a primary storage.Store and mirrors every price update
// to extra sinks (tick archive, latest-price cache).
type Store struct {
	primary storage.Store
	sinks   []storage.PriceSink
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// New creates a fan-out store. Nil sinks are skipped.
func New(primary storage.Store, sinks ...storage.PriceSink) *Store {
	s := &Store{primary: primary}
	for _, sink := range sinks {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
	return s
}

// SavePriceUpdate writes u to the primary store and every sink. All sinks are
// attempted; failures are joined.
func (s *Store) SavePriceUpdate(ctx context.Context, u *domain.PriceUpdate) error {
	errs := []error{s.primary.SavePriceUpdate(ctx, u)}
	for _, sink := range s.sinks {
		errs = append(errs, sink.SavePriceUpdate(ctx, u))
	}
	return errors.Join(errs...)
}

func (s *Store) SaveAssetCall(ctx context.Context, c *domain.AssetCall) error {
	return s.primary.SaveAssetCall(ctx, c)
}

func (s *Store) SaveAlertSent(ctx context.Context, a *domain.AlertRecord) error {
	return s.primary.SaveAlertSent(ctx, a)
}

func (s *Store) GetRecentPerformance(ctx context.Context, window time.Duration) ([]*domain.AssetPerformance, error) {
	return s.primary.GetRecentPerformance(ctx, window)
}
