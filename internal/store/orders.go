package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/storelink/dpdbridge/internal/shipment"
)

// orderRow is the flat host order projection.
type orderRow struct {
	ID           int            `db:"id"`
	Status       string         `db:"status"`
	CurrencyISO  string         `db:"currency_iso"`
	Email        string         `db:"email"`
	FirstName    sql.NullString `db:"first_name"`
	LastName     sql.NullString `db:"last_name"`
	Line1        sql.NullString `db:"address1"`
	Line2        sql.NullString `db:"address2"`
	City         sql.NullString `db:"city"`
	PostalCode   sql.NullString `db:"postcode"`
	CountryISO   sql.NullString `db:"country_iso"`
	Phone        sql.NullString `db:"phone"`
	MobilePhone  sql.NullString `db:"phone_mobile"`
	CarrierRef   sql.NullString `db:"carrier_reference"`
	Predict      bool           `db:"predict"`
	Saturday     bool           `db:"saturday"`
	ParcelShopID sql.NullString `db:"parcelshop_id"`
}

// lineRow is one host order line with its shipping sub-type.
type lineRow struct {
	ProductID int     `db:"product_id"`
	Reference string  `db:"reference"`
	Name      string  `db:"name"`
	WeightKG  float64 `db:"weight"`
	Quantity  int     `db:"quantity"`
	SubType   string  `db:"shipping_type"`
}

// OrderStore reads orders from the host commerce schema. It implements
// shipment.OrderSource.
type OrderStore struct {
	db *sqlx.DB
}

// NewOrderStore creates an order store on the given pool.
func NewOrderStore(db *sqlx.DB) *OrderStore {
	return &OrderStore{db: db}
}

var _ shipment.OrderSource = (*OrderStore)(nil)

// Order loads one order with its delivery address, customer and lines.
func (s *OrderStore) Order(ctx context.Context, id int) (*shipment.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row,
		`SELECT o.id, o.status, o.currency_iso, c.email,
		        a.first_name, a.last_name, a.address1, a.address2,
		        a.city, a.postcode, a.country_iso, a.phone, a.phone_mobile,
		        o.carrier_reference, o.predict, o.saturday, o.parcelshop_id
		 FROM orders o
		 JOIN customers c ON c.id = o.customer_id
		 LEFT JOIN addresses a ON a.id = o.delivery_address_id
		 WHERE o.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shipment.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting order %d: %w", id, err)
	}

	var lines []lineRow
	if err := s.db.SelectContext(ctx, &lines,
		`SELECT l.product_id, l.reference, l.name, l.weight, l.quantity,
		        COALESCE(m.shipping_type, '') AS shipping_type
		 FROM order_lines l
		 LEFT JOIN product_shipping m ON m.product_id = l.product_id
		 WHERE l.order_id = $1
		 ORDER BY l.id`, id); err != nil {
		return nil, fmt.Errorf("selecting lines for order %d: %w", id, err)
	}

	order := &shipment.Order{
		ID:          row.ID,
		Status:      shipment.OrderStatus(row.Status),
		CurrencyISO: row.CurrencyISO,
		Customer:    shipment.Customer{Email: row.Email},
		Routing: shipment.Routing{
			Managed:      row.CarrierRef.String != "",
			Predict:      row.Predict,
			Saturday:     row.Saturday,
			ParcelShopID: row.ParcelShopID.String,
		},
	}

	if row.Line1.Valid {
		order.Delivery = &shipment.Address{
			FirstName:   row.FirstName.String,
			LastName:    row.LastName.String,
			Line1:       row.Line1.String,
			Line2:       row.Line2.String,
			City:        row.City.String,
			PostalCode:  row.PostalCode.String,
			CountryISO:  row.CountryISO.String,
			Phone:       row.Phone.String,
			MobilePhone: row.MobilePhone.String,
		}
	}

	for _, line := range lines {
		order.Lines = append(order.Lines, shipment.Line{
			ProductID: line.ProductID,
			Reference: line.Reference,
			Name:      line.Name,
			WeightKG:  line.WeightKG,
			Quantity:  line.Quantity,
			SubType:   shipment.ParseSubType(line.SubType),
		})
	}

	return order, nil
}

// SetTrackingNumber writes the carrier tracking number onto an order.
func (s *OrderStore) SetTrackingNumber(ctx context.Context, orderID int, tracking string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET tracking_number = $1 WHERE id = $2`, tracking, orderID)
	if err != nil {
		return fmt.Errorf("setting tracking for order %d: %w", orderID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting tracking for order %d: %w", orderID, err)
	}
	if affected == 0 {
		return shipment.ErrOrderNotFound
	}
	return nil
}

// ClearTrackingNumbers empties the tracking number for the given
// orders; used when archived labels are deleted.
func (s *OrderStore) ClearTrackingNumbers(ctx context.Context, orderIDs []int) error {
	if len(orderIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE orders SET tracking_number = '' WHERE id IN (?)`, orderIDs)
	if err != nil {
		return fmt.Errorf("building tracking clear: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("clearing tracking numbers: %w", err)
	}
	return nil
}

// MarkShipped transitions an order to the shipped status.
func (s *OrderStore) MarkShipped(ctx context.Context, orderID int) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2`,
		string(shipment.StatusShipped), orderID); err != nil {
		return fmt.Errorf("marking order %d shipped: %w", orderID, err)
	}
	return nil
}
