package shipment

import (
	"context"
	"fmt"
	"strconv"
)

// Override table column names understood by ProductSource implementations.
const (
	OverrideHSCode        = "hs_code"
	OverrideOriginCountry = "country_of_origin"
	OverrideCustomsValue  = "customs_value"
	OverrideAgeCheck      = "age_check"
)

// Resolver resolves per-product customs attributes through a three-tier
// fallback: a configured product feature, then a per-product override
// row, then a global default. Each attribute instantiates the same
// resolution with its own feature key, override column and default.
type Resolver struct {
	products ProductSource
}

// NewResolver creates a resolver over the given product source.
func NewResolver(products ProductSource) *Resolver {
	return &Resolver{products: products}
}

// Resolve runs the three-tier fallback for one product attribute.
// featureKey may be empty when no feature mapping is configured, which
// skips the first tier. Later tiers are consulted only when the prior
// tier yields nothing.
func (r *Resolver) Resolve(ctx context.Context, product *Product, featureKey, overrideColumn, fallback string) (string, error) {
	if featureKey != "" {
		if value, ok := product.Features[featureKey]; ok && value != "" {
			return value, nil
		}
	}

	value, err := r.products.Override(ctx, product.ID, overrideColumn)
	if err != nil {
		return "", fmt.Errorf("resolving %s for product %d: %w", overrideColumn, product.ID, err)
	}
	if value != "" {
		return value, nil
	}

	return fallback, nil
}

// ResolveValue resolves the customs value of a product, falling back to
// the catalogue price when neither feature nor override is present.
func (r *Resolver) ResolveValue(ctx context.Context, product *Product, featureKey string) (float64, error) {
	raw, err := r.Resolve(ctx, product, featureKey, OverrideCustomsValue, "")
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return product.Price, nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("customs value %q for product %d: %w", raw, product.ID, err)
	}
	return value, nil
}

// ResolveAgeCheck reports whether a product requires an age check at the
// door. Any non-empty, non-false resolved value counts.
func (r *Resolver) ResolveAgeCheck(ctx context.Context, product *Product, featureKey, fallback string) (bool, error) {
	raw, err := r.Resolve(ctx, product, featureKey, OverrideAgeCheck, fallback)
	if err != nil {
		return false, err
	}
	return raw != "" && raw != "0" && raw != "false", nil
}
