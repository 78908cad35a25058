// Package shipment turns storefront orders into carrier-ready shipment
// payloads. It owns the shipping sub-type partitioning, the customs
// attribute resolution, and the request builder.
package shipment

import (
	"context"
	"errors"
	"fmt"
)

// SubType is the closed set of shipping sub-types a product can carry.
type SubType string

const (
	SubTypeRegular SubType = "regular"
	SubTypeFresh   SubType = "fresh"
	SubTypeFreeze  SubType = "freeze"
)

// ParseSubType maps stored product shipping metadata onto a SubType.
// Unknown and empty values are regular.
func ParseSubType(s string) SubType {
	switch s {
	case "fresh":
		return SubTypeFresh
	case "freeze":
		return SubTypeFreeze
	default:
		return SubTypeRegular
	}
}

// TemperatureControlled reports whether the sub-type needs the fresh or
// freeze handling chain.
func (s SubType) TemperatureControlled() bool {
	return s == SubTypeFresh || s == SubTypeFreeze
}

// OrderStatus is the host platform's order state as far as this core
// cares about it.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusShipped   OrderStatus = "shipped"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// Address is a delivery address read from the host platform.
type Address struct {
	FirstName   string
	LastName    string
	Line1       string
	Line2       string
	City        string
	PostalCode  string
	CountryISO  string // ISO 3166-1 alpha-2
	Phone       string
	MobilePhone string
}

// FullName joins first and last name, tolerating either being blank.
func (a Address) FullName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.LastName
	}
}

// Street joins the two address lines.
func (a Address) Street() string {
	if a.Line2 != "" {
		return a.Line1 + " " + a.Line2
	}
	return a.Line1
}

// ContactPhone prefers the primary phone and falls back to mobile.
func (a Address) ContactPhone() string {
	if a.Phone != "" {
		return a.Phone
	}
	return a.MobilePhone
}

// Customer is the ordering customer.
type Customer struct {
	Email string
}

// Line is one order line.
type Line struct {
	ProductID int
	Reference string // SKU
	Name      string
	WeightKG  float64 // per unit; non-positive means unknown
	Quantity  int
	SubType   SubType
}

// Routing captures how the order was routed at checkout time.
type Routing struct {
	Managed      bool // order uses one of our carrier services
	Predict      bool
	Saturday     bool
	ParcelShopID string // non-empty when parcel-shop routed
}

// Order is a read-only view of a host platform order.
type Order struct {
	ID          int
	Status      OrderStatus
	CurrencyISO string
	Customer    Customer
	Delivery    *Address // nil when the delivery address is missing
	Lines       []Line
	Routing     Routing
}

// Group is a set of order lines sharing one shipping sub-type.
// Group key = (OrderID, SubType).
type Group struct {
	OrderID int
	SubType SubType
	Lines   []Line
}

// FreshFreezeInfo is the admin-supplied metadata for one temperature
// controlled product within an order.
type FreshFreezeInfo struct {
	ExpirationDate     string // "2006-01-02"
	CarrierDescription string
}

// Extras holds fresh/freeze metadata keyed by order id, then product id.
type Extras map[int]map[int]FreshFreezeInfo

// Lookup returns the info for one order product, zero when absent.
func (e Extras) Lookup(orderID, productID int) FreshFreezeInfo {
	if byProduct, ok := e[orderID]; ok {
		return byProduct[productID]
	}
	return FreshFreezeInfo{}
}

// Product is a read-only view of a catalogue product.
type Product struct {
	ID       int
	WeightKG float64
	Price    float64
	Features map[string]string // feature name -> value
}

// OrderSource reads orders from the host platform.
type OrderSource interface {
	Order(ctx context.Context, id int) (*Order, error)
}

// ProductSource reads products and per-product attribute overrides from
// the host platform.
type ProductSource interface {
	Product(ctx context.Context, id int) (*Product, error)
	// Override returns the per-product override value for the given
	// attribute column, empty when no row exists.
	Override(ctx context.Context, productID int, column string) (string, error)
}

// CountryChecker answers single-market membership questions.
type CountryChecker interface {
	SingleMarket(ctx context.Context, iso2 string) (bool, error)
}

// ErrOrderNotFound is returned by OrderSource implementations when the
// order id does not exist.
var ErrOrderNotFound = errors.New("order not found")

// ErrMultiParcelNotAllowed is returned by the builder when a multi-parcel
// split is requested for a destination outside the carrier single market.
var ErrMultiParcelNotAllowed = errors.New("multiple parcels only allowed inside the carrier single market")

// IssueKind classifies soft per-order problems.
type IssueKind string

const (
	IssueNotFound   IssueKind = "not_found"
	IssueCancelled  IssueKind = "cancelled"
	IssueValidation IssueKind = "validation"
)

// Issue is a soft per-order error. Issues accumulate in the caller's
// error collection instead of aborting the batch.
type Issue struct {
	OrderID int
	Kind    IssueKind
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("order %d: %s", i.OrderID, i.Message)
}
