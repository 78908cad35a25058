package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrLabelNotFound is returned when no label is archived for the
// requested order and direction.
var ErrLabelNotFound = errors.New("label not found")

// StringList stores a list of strings in a single text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	return strings.Join(l, ","), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if raw == "" {
		*l = nil
		return nil
	}
	*l = strings.Split(raw, ",")
	return nil
}

// LabelRecord is one archived carrier label. The (OrderID, Retour) pair
// is unique: one outbound and one return label per order.
type LabelRecord struct {
	ID            int64      `db:"id"`
	OrderID       int        `db:"order_id"`
	Retour        bool       `db:"retour"`
	MPSID         string     `db:"mps_id"`
	ParcelNumbers StringList `db:"parcel_numbers"`
	Label         []byte     `db:"label"`
	Shipped       bool       `db:"shipped"`
	CreatedAt     time.Time  `db:"created_at"`
}

// LabelStore archives generated labels for idempotent re-download.
type LabelStore struct {
	db *sqlx.DB
}

// NewLabelStore creates a label store on the given pool.
func NewLabelStore(db *sqlx.DB) *LabelStore {
	return &LabelStore{db: db}
}

// Get returns the archived label for one order and direction.
func (s *LabelStore) Get(ctx context.Context, orderID int, retour bool) (*LabelRecord, error) {
	var rec LabelRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT id, order_id, retour, mps_id, parcel_numbers, label, shipped, created_at
		 FROM dpd_labels WHERE order_id = $1 AND retour = $2`,
		orderID, retour)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLabelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting label for order %d: %w", orderID, err)
	}
	return &rec, nil
}

// Insert archives a new label. Inserting a second label for the same
// order and direction is a conflict; callers check Get first.
func (s *LabelStore) Insert(ctx context.Context, rec *LabelRecord) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO dpd_labels (order_id, retour, mps_id, parcel_numbers, label, shipped)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		rec.OrderID, rec.Retour, rec.MPSID, rec.ParcelNumbers, rec.Label, rec.Shipped,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting label for order %d: %w", rec.OrderID, err)
	}
	return nil
}

// Delete removes all archived labels for the given orders, both
// directions. Missing rows are not an error.
func (s *LabelStore) Delete(ctx context.Context, orderIDs []int) error {
	if len(orderIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`DELETE FROM dpd_labels WHERE order_id IN (?)`, orderIDs)
	if err != nil {
		return fmt.Errorf("building label delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("deleting labels: %w", err)
	}
	return nil
}
