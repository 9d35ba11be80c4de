// Package storefrontsync maintains the storefront order store: bulk
// pulls from the storefront API and incremental updates arriving over
// the broker.
package storefrontsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/parcelops/courierdesk/internal/broker/messages"
	"github.com/parcelops/courierdesk/internal/integrations/storefront/shopifyhttp"
	"github.com/parcelops/courierdesk/internal/models"
)

type Store interface {
	UpsertStorefrontOrders(ctx context.Context, orders []models.StorefrontOrder) error
}

type Fetcher interface {
	FetchOrders(ctx context.Context, brandID string, creds shopifyhttp.Credentials, from, to time.Time) ([]models.StorefrontOrder, error)
}

type Service struct {
	store   Store
	fetcher Fetcher
}

func New(store Store, fetcher Fetcher) *Service {
	return &Service{store: store, fetcher: fetcher}
}

type Request struct {
	BrandID string
	Creds   shopifyhttp.Credentials
	From    time.Time
	To      time.Time
}

type Result struct {
	Records int `json:"records"`
}

// Sync pulls the window from the storefront API and upserts it.
func (s *Service) Sync(ctx context.Context, req Request) (Result, error) {
	if req.BrandID == "" {
		return Result{}, errors.New("brandId is required")
	}
	if req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From) {
		return Result{}, errors.New("invalid date range")
	}

	orders, err := s.fetcher.FetchOrders(ctx, req.BrandID, req.Creds, req.From, req.To)
	if err != nil {
		return Result{}, errors.Wrap(err, "fetch storefront orders")
	}
	if err := s.store.UpsertStorefrontOrders(ctx, orders); err != nil {
		return Result{}, errors.Wrap(err, "persist storefront orders")
	}
	return Result{Records: len(orders)}, nil
}

// HandleUpdate applies one broker message. Malformed nested lists are
// tolerated, a bad payload envelope is not: returning the error keeps
// the message uncommitted for redelivery.
func (s *Service) HandleUpdate(ctx context.Context, value []byte) error {
	var msg messages.StorefrontOrderUpdated
	if err := json.Unmarshal(value, &msg); err != nil {
		return errors.Wrap(err, "decode storefront update")
	}
	if msg.BrandID == "" || msg.StorefrontOrderID == "" {
		return errors.New("storefront update missing identity")
	}

	order := models.StorefrontOrder{
		BrandID:           msg.BrandID,
		StorefrontOrderID: msg.StorefrontOrderID,
		OrderNumber:       msg.OrderNumber,
		OrderName:         msg.OrderName,
		FinancialStatus:   msg.FinancialStatus,
		FulfillmentStatus: msg.FulfillmentStatus,
		TrackingNumbers:   models.ParseTrackingNumbers(msg.TrackingNumbersJSON),
		Fulfillments:      models.ParseFulfillments(msg.FulfillmentsJSON),
	}

	slog.Debug("applying storefront update",
		"brand_id", msg.BrandID, "order", msg.StorefrontOrderID, "financial_status", msg.FinancialStatus)
	return s.store.UpsertStorefrontOrders(ctx, []models.StorefrontOrder{order})
}
