package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  brand_id TEXT NOT NULL,
  courier TEXT NOT NULL,
  tracking_number TEXT NOT NULL,
  order_ref_number TEXT NOT NULL DEFAULT '',
  customer_name TEXT NOT NULL DEFAULT '',
  customer_phone TEXT NOT NULL DEFAULT '',
  delivery_address TEXT NOT NULL DEFAULT '',
  city_name TEXT NOT NULL DEFAULT '',
  order_detail TEXT NOT NULL DEFAULT '',
  order_type TEXT NOT NULL DEFAULT '',
  order_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
  invoice_payment NUMERIC(14,2) NOT NULL DEFAULT 0,
  transaction_fee NUMERIC(14,2) NOT NULL DEFAULT 0,
  transaction_tax NUMERIC(14,2) NOT NULL DEFAULT 0,
  sales_withholding_tax NUMERIC(14,2) NOT NULL DEFAULT 0,
  upfront_payment NUMERIC(14,2) NOT NULL DEFAULT 0,
  net_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
  order_status TEXT NOT NULL DEFAULT '',
  transaction_status TEXT NOT NULL DEFAULT '',
  status_bucket TEXT NOT NULL DEFAULT 'IN_TRANSIT',
  last_status TEXT NOT NULL DEFAULT '',
  last_status_time TIMESTAMPTZ NULL,
  order_date TIMESTAMPTZ NULL,
  transaction_date TIMESTAMPTZ NULL,
  last_fetched_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (brand_id, courier, tracking_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_brand_courier_date ON orders(brand_id, courier, order_date)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_brand_bucket ON orders(brand_id, status_bucket)`,
		`
CREATE TABLE IF NOT EXISTS storefront_orders (
  id BIGSERIAL PRIMARY KEY,
  brand_id TEXT NOT NULL,
  storefront_order_id TEXT NOT NULL,
  order_number TEXT NOT NULL DEFAULT '',
  order_name TEXT NOT NULL DEFAULT '',
  financial_status TEXT NOT NULL DEFAULT '',
  fulfillment_status TEXT NOT NULL DEFAULT '',
  tracking_numbers JSONB NULL,
  fulfillments JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (brand_id, storefront_order_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_storefront_orders_brand ON storefront_orders(brand_id)`,
		`CREATE INDEX IF NOT EXISTS idx_storefront_orders_number ON storefront_orders(brand_id, order_number)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
