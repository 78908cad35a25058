// Package metasync refreshes locally cached carrier metadata: the
// country table that drives single-market checks and the shipping
// product catalogue that drives the offered sub-types.
package metasync

import (
	"context"
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/storelink/dpdbridge/pkg/dpdconnect"
)

// Carrier is the metadata surface of the carrier gateway.
type Carrier interface {
	Countries(ctx context.Context) ([]dpdconnect.Country, error)
	ShippingProducts(ctx context.Context) ([]dpdconnect.ShippingProduct, error)
}

// Sink persists synced carrier metadata.
type Sink interface {
	ReplaceCountries(ctx context.Context, countries []dpdconnect.Country) error
	ReplaceShippingProducts(ctx context.Context, products []dpdconnect.ShippingProduct) error
}

// Syncer pulls both metadata resources and stores them.
type Syncer struct {
	carrier Carrier
	sink    Sink
	logger  *otelzap.Logger
}

// New creates a metadata syncer.
func New(carrier Carrier, sink Sink, logger *otelzap.Logger) *Syncer {
	return &Syncer{carrier: carrier, sink: sink, logger: logger}
}

// Run fetches the country table and product catalogue concurrently and
// upserts both. A failure on either resource fails the run.
func (s *Syncer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		countries, err := s.carrier.Countries(ctx)
		if err != nil {
			return fmt.Errorf("fetching countries: %w", err)
		}
		if err := s.sink.ReplaceCountries(ctx, countries); err != nil {
			return err
		}
		s.logger.Ctx(ctx).Info("Synced carrier countries",
			zap.Int("count", len(countries)),
		)
		return nil
	})

	group.Go(func() error {
		products, err := s.carrier.ShippingProducts(ctx)
		if err != nil {
			return fmt.Errorf("fetching shipping products: %w", err)
		}
		if err := s.sink.ReplaceShippingProducts(ctx, products); err != nil {
			return err
		}
		s.logger.Ctx(ctx).Info("Synced carrier shipping products",
			zap.Int("count", len(products)),
		)
		return nil
	})

	return group.Wait()
}
