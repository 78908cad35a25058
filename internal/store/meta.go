package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/storelink/dpdbridge/pkg/dpdconnect"
)

// MetaStore persists the carrier country table and shipping product
// catalogue synced from the carrier. It backs offline single-market
// lookups and the storefront's offered shipping types.
type MetaStore struct {
	db *sqlx.DB
}

// NewMetaStore creates a metadata store on the given pool.
func NewMetaStore(db *sqlx.DB) *MetaStore {
	return &MetaStore{db: db}
}

// ReplaceCountries upserts the carrier country list.
func (s *MetaStore) ReplaceCountries(ctx context.Context, countries []dpdconnect.Country) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning country sync: %w", err)
	}
	defer tx.Rollback()

	for _, c := range countries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dpd_countries (iso2, single_market)
			 VALUES ($1, $2)
			 ON CONFLICT (iso2) DO UPDATE SET single_market = EXCLUDED.single_market`,
			strings.ToUpper(c.Country), c.SingleMarket); err != nil {
			return fmt.Errorf("upserting country %s: %w", c.Country, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing country sync: %w", err)
	}
	return nil
}

// ReplaceShippingProducts upserts the carrier shipping product catalogue.
func (s *MetaStore) ReplaceShippingProducts(ctx context.Context, products []dpdconnect.ShippingProduct) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning product sync: %w", err)
	}
	defer tx.Rollback()

	for _, p := range products {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dpd_shipping_products (code, name, type, description)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (code) DO UPDATE
			 SET name = EXCLUDED.name, type = EXCLUDED.type, description = EXCLUDED.description`,
			p.Code, p.Name, p.Type, p.Description); err != nil {
			return fmt.Errorf("upserting shipping product %s: %w", p.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing product sync: %w", err)
	}
	return nil
}

// SingleMarket answers single-market membership from the synced
// country table. Unknown countries are outside the single market.
func (s *MetaStore) SingleMarket(ctx context.Context, iso2 string) (bool, error) {
	var singleMarket bool
	err := s.db.GetContext(ctx, &singleMarket,
		`SELECT COALESCE(
		   (SELECT single_market FROM dpd_countries WHERE iso2 = $1), FALSE)`,
		strings.ToUpper(iso2))
	if err != nil {
		return false, fmt.Errorf("checking single market for %s: %w", iso2, err)
	}
	return singleMarket, nil
}
