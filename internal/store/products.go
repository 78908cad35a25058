package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/storelink/dpdbridge/internal/shipment"
)

// overrideColumns whitelists the per-product override columns a caller
// may request. Column names reach SQL text, so only known attribute
// columns are allowed through.
var overrideColumns = map[string]bool{
	shipment.OverrideHSCode:        true,
	shipment.OverrideOriginCountry: true,
	shipment.OverrideCustomsValue:  true,
	shipment.OverrideAgeCheck:      true,
}

// ProductStore reads products, feature values and override rows from
// the host commerce schema. It implements shipment.ProductSource.
type ProductStore struct {
	db *sqlx.DB
}

// NewProductStore creates a product store on the given pool.
func NewProductStore(db *sqlx.DB) *ProductStore {
	return &ProductStore{db: db}
}

var _ shipment.ProductSource = (*ProductStore)(nil)

// Product loads one catalogue product with its feature values.
func (s *ProductStore) Product(ctx context.Context, id int) (*shipment.Product, error) {
	var row struct {
		ID       int     `db:"id"`
		WeightKG float64 `db:"weight"`
		Price    float64 `db:"price"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, weight, price FROM products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting product %d: %w", id, err)
	}

	var features []struct {
		Name  string `db:"name"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &features,
		`SELECT f.name, pf.value
		 FROM product_features pf
		 JOIN features f ON f.id = pf.feature_id
		 WHERE pf.product_id = $1`, id); err != nil {
		return nil, fmt.Errorf("selecting features for product %d: %w", id, err)
	}

	product := &shipment.Product{
		ID:       row.ID,
		WeightKG: row.WeightKG,
		Price:    row.Price,
		Features: make(map[string]string, len(features)),
	}
	for _, f := range features {
		product.Features[f.Name] = f.Value
	}
	return product, nil
}

// Override returns the per-product override value for one attribute
// column, empty when no override row exists.
func (s *ProductStore) Override(ctx context.Context, productID int, column string) (string, error) {
	if !overrideColumns[column] {
		return "", fmt.Errorf("unknown override column %q", column)
	}

	var value string
	err := s.db.GetContext(ctx, &value,
		fmt.Sprintf(`SELECT COALESCE(%s, '') FROM product_overrides WHERE product_id = $1`, column),
		productID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("selecting %s override for product %d: %w", column, productID, err)
	}
	return value, nil
}

// FreshFreezeInfo returns the admin-supplied fresh/freeze metadata for
// one product within one order, zero when none was entered.
func (s *ProductStore) FreshFreezeInfo(ctx context.Context, orderID, productID int) (shipment.FreshFreezeInfo, error) {
	var row struct {
		ExpirationDate     sql.NullString `db:"expiration_date"`
		CarrierDescription sql.NullString `db:"carrier_description"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT expiration_date, carrier_description
		 FROM order_fresh_freeze WHERE order_id = $1 AND product_id = $2`,
		orderID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return shipment.FreshFreezeInfo{}, nil
	}
	if err != nil {
		return shipment.FreshFreezeInfo{}, fmt.Errorf("selecting fresh/freeze info for order %d product %d: %w", orderID, productID, err)
	}
	return shipment.FreshFreezeInfo{
		ExpirationDate:     row.ExpirationDate.String,
		CarrierDescription: row.CarrierDescription.String,
	}, nil
}
