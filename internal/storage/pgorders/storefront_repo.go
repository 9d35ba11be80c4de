package pgorders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/parcelops/courierdesk/internal/models"
)

// UpsertStorefrontOrders writes a batch of storefront orders in one
// transaction, keyed by (brand_id, storefront_order_id). The nested
// lists are stored serialized and re-typed on read.
func (s *Storage) UpsertStorefrontOrders(ctx context.Context, orders []models.StorefrontOrder) error {
	if len(orders) == 0 {
		return nil
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, o := range orders {
		trackingJSON, err := json.Marshal(o.TrackingNumbers)
		if err != nil {
			return errors.Wrap(err, "marshal tracking numbers")
		}
		fulfillmentsJSON, err := json.Marshal(o.Fulfillments)
		if err != nil {
			return errors.Wrap(err, "marshal fulfillments")
		}

		_, err = tx.Exec(ctx, `
INSERT INTO storefront_orders (
  brand_id, storefront_order_id, order_number, order_name,
  financial_status, fulfillment_status, tracking_numbers, fulfillments,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (brand_id, storefront_order_id)
DO UPDATE SET
  order_number = EXCLUDED.order_number,
  order_name = EXCLUDED.order_name,
  financial_status = EXCLUDED.financial_status,
  fulfillment_status = EXCLUDED.fulfillment_status,
  tracking_numbers = EXCLUDED.tracking_numbers,
  fulfillments = EXCLUDED.fulfillments,
  updated_at = EXCLUDED.updated_at
`,
			o.BrandID, o.StorefrontOrderID, o.OrderNumber, o.OrderName,
			o.FinancialStatus, o.FulfillmentStatus, trackingJSON, fulfillmentsJSON,
			now,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert storefront order %s", o.StorefrontOrderID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) ListStorefrontOrders(ctx context.Context, brandID string) ([]models.StorefrontOrder, error) {
	rows, err := s.db.Query(ctx, `
SELECT
  id, brand_id, storefront_order_id, order_number, order_name,
  financial_status, fulfillment_status, tracking_numbers, fulfillments,
  created_at, updated_at
FROM storefront_orders
WHERE brand_id = $1
`, brandID)
	if err != nil {
		return nil, errors.Wrap(err, "select storefront orders")
	}
	defer rows.Close()

	var out []models.StorefrontOrder
	for rows.Next() {
		var o models.StorefrontOrder
		var trackingRaw, fulfillmentsRaw []byte
		if err := rows.Scan(
			&o.ID, &o.BrandID, &o.StorefrontOrderID, &o.OrderNumber, &o.OrderName,
			&o.FinancialStatus, &o.FulfillmentStatus, &trackingRaw, &fulfillmentsRaw,
			&o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan storefront order")
		}
		// Defensive parse: garbage in a nested blob degrades to empty,
		// never to a failed listing.
		o.TrackingNumbers = models.ParseTrackingNumbers(string(trackingRaw))
		o.Fulfillments = models.ParseFulfillments(string(fulfillmentsRaw))
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
