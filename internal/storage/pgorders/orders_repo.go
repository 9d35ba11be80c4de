package pgorders

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/parcelops/courierdesk/internal/models"
)

const orderColumns = `
  id, brand_id, courier, tracking_number,
  order_ref_number, customer_name, customer_phone, delivery_address,
  city_name, order_detail, order_type,
  order_amount, invoice_payment, transaction_fee, transaction_tax,
  sales_withholding_tax, upfront_payment, net_amount,
  order_status, transaction_status, status_bucket, last_status, last_status_time,
  order_date, transaction_date, last_fetched_at,
  created_at, updated_at`

// UpsertChunk writes one chunk of orders in a single transaction. Every
// field is overwritten on conflict except identity, created_at and a
// known order_date: the dispatch date is an immutable business fact and
// never regresses to a later sync's guess.
func (s *Storage) UpsertChunk(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, o := range orders {
		var orderDate *time.Time
		if !o.OrderDate.IsZero() {
			d := o.OrderDate.UTC()
			orderDate = &d
		}
		_, err := tx.Exec(ctx, `
INSERT INTO orders (
  brand_id, courier, tracking_number,
  order_ref_number, customer_name, customer_phone, delivery_address,
  city_name, order_detail, order_type,
  order_amount, invoice_payment, transaction_fee, transaction_tax,
  sales_withholding_tax, upfront_payment, net_amount,
  order_status, transaction_status, status_bucket, last_status, last_status_time,
  order_date, transaction_date, last_fetched_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$26)
ON CONFLICT (brand_id, courier, tracking_number)
DO UPDATE SET
  order_ref_number = EXCLUDED.order_ref_number,
  customer_name = EXCLUDED.customer_name,
  customer_phone = EXCLUDED.customer_phone,
  delivery_address = EXCLUDED.delivery_address,
  city_name = EXCLUDED.city_name,
  order_detail = EXCLUDED.order_detail,
  order_type = EXCLUDED.order_type,
  order_amount = EXCLUDED.order_amount,
  invoice_payment = EXCLUDED.invoice_payment,
  transaction_fee = EXCLUDED.transaction_fee,
  transaction_tax = EXCLUDED.transaction_tax,
  sales_withholding_tax = EXCLUDED.sales_withholding_tax,
  upfront_payment = EXCLUDED.upfront_payment,
  net_amount = EXCLUDED.net_amount,
  order_status = EXCLUDED.order_status,
  transaction_status = EXCLUDED.transaction_status,
  status_bucket = EXCLUDED.status_bucket,
  last_status = EXCLUDED.last_status,
  last_status_time = EXCLUDED.last_status_time,
  order_date = COALESCE(orders.order_date, EXCLUDED.order_date),
  transaction_date = EXCLUDED.transaction_date,
  last_fetched_at = EXCLUDED.last_fetched_at,
  updated_at = EXCLUDED.updated_at
`,
			o.BrandID, o.Courier, o.TrackingNumber,
			o.OrderRefNumber, o.CustomerName, o.CustomerPhone, o.DeliveryAddress,
			o.CityName, o.OrderDetail, o.OrderType,
			o.OrderAmount, o.InvoicePayment, o.TransactionFee, o.TransactionTax,
			o.SalesWithholdingTax, o.UpfrontPayment, o.NetAmount,
			o.OrderStatus, o.TransactionStatus, o.StatusBucket, o.LastStatus, o.LastStatusTime,
			orderDate, o.TransactionDate, o.LastFetchedAt.UTC(),
			o.UpdatedAt.UTC(),
		)
		if err != nil {
			return errors.Wrapf(err, "upsert order %s", o.TrackingNumber)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// OrderFilter scopes listing queries. Zero values widen: empty Courier
// means all couriers, zero times mean an unbounded range, empty Bucket
// means every status.
type OrderFilter struct {
	BrandID string
	Courier string
	From    time.Time
	To      time.Time
	Bucket  string
}

func (f OrderFilter) where() (string, []any) {
	cond := "brand_id = $1"
	args := []any{f.BrandID}
	if f.Courier != "" {
		args = append(args, f.Courier)
		cond += fmt.Sprintf(" AND courier = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From.UTC())
		cond += fmt.Sprintf(" AND order_date >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To.UTC())
		cond += fmt.Sprintf(" AND order_date <= $%d", len(args))
	}
	if f.Bucket != "" {
		args = append(args, f.Bucket)
		cond += fmt.Sprintf(" AND status_bucket = $%d", len(args))
	}
	return cond, args
}

func (s *Storage) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	cond, args := f.where()
	rows, err := s.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+cond+` ORDER BY courier, order_date, tracking_number`,
		args...)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetOrder is a point lookup; a missing row returns (nil, nil).
func (s *Storage) GetOrder(ctx context.Context, brandID, courier, trackingNumber string) (*models.Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE brand_id = $1 AND courier = $2 AND tracking_number = $3`,
		brandID, courier, trackingNumber)
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	o, err := scanOrder(rows)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrder(rows pgx.Rows) (models.Order, error) {
	var o models.Order
	var lastStatusTime, orderDate, transactionDate *time.Time
	if err := rows.Scan(
		&o.ID, &o.BrandID, &o.Courier, &o.TrackingNumber,
		&o.OrderRefNumber, &o.CustomerName, &o.CustomerPhone, &o.DeliveryAddress,
		&o.CityName, &o.OrderDetail, &o.OrderType,
		&o.OrderAmount, &o.InvoicePayment, &o.TransactionFee, &o.TransactionTax,
		&o.SalesWithholdingTax, &o.UpfrontPayment, &o.NetAmount,
		&o.OrderStatus, &o.TransactionStatus, &o.StatusBucket, &o.LastStatus, &lastStatusTime,
		&orderDate, &transactionDate, &o.LastFetchedAt,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return models.Order{}, errors.Wrap(err, "scan order")
	}
	o.LastStatusTime = lastStatusTime
	o.TransactionDate = transactionDate
	if orderDate != nil {
		o.OrderDate = orderDate.UTC()
	}
	return o, nil
}
