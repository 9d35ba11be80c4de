// Package shopifyhttp fetches storefront orders from a Shopify-style
// admin API. This is the simple side of the pipeline: the records feed
// the storefront store that reconciliation reads from.
package shopifyhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/parcelops/courierdesk/internal/integrations/courier"
	"github.com/parcelops/courierdesk/internal/models"
)

const pageSize = 250

type Credentials struct {
	ShopDomain  string // e.g. acme.myshopify.com
	AccessToken string
}

type Client struct {
	// scheme+host override for tests; empty means https://<ShopDomain>.
	baseURL string
	timeout time.Duration
}

func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, timeout: 30 * time.Second}
}

type apiOrder struct {
	ID                uint64 `json:"id"`
	OrderNumber       int64  `json:"order_number"`
	Name              string `json:"name"`
	FinancialStatus   string `json:"financial_status"`
	FulfillmentStatus string `json:"fulfillment_status"`

	Fulfillments []models.StorefrontFulfillment `json:"fulfillments"`
}

type ordersResp struct {
	Orders []apiOrder `json:"orders"`
}

// FetchOrders pages through the admin orders listing with since_id
// pagination, newest window bounded by created_at_min/max.
func (c *Client) FetchOrders(ctx context.Context, brandID string, creds Credentials, from, to time.Time) ([]models.StorefrontOrder, error) {
	httpc := &http.Client{Timeout: c.timeout}
	base := c.baseURL
	if base == "" {
		base = "https://" + creds.ShopDomain
	}

	var out []models.StorefrontOrder
	sinceID := uint64(0)
	for {
		u := fmt.Sprintf("%s/admin/api/2024-01/orders.json?status=any&limit=%d&since_id=%d&created_at_min=%s&created_at_max=%s",
			base, pageSize, sinceID,
			from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, errors.Wrap(err, "new orders request")
		}
		req.Header.Set("X-Shopify-Access-Token", creds.AccessToken)

		resp, err := httpc.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "fetch orders")
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return nil, errors.Wrap(courier.ErrAuth, "storefront rejected token")
		}
		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			return nil, errors.Errorf("storefront http %d", resp.StatusCode)
		}

		var or ordersResp
		err = json.NewDecoder(resp.Body).Decode(&or)
		resp.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "decode orders")
		}
		if len(or.Orders) == 0 {
			break
		}

		for _, ao := range or.Orders {
			out = append(out, ao.toStorefrontOrder(brandID))
			if ao.ID > sinceID {
				sinceID = ao.ID
			}
		}
		if len(or.Orders) < pageSize {
			break
		}
	}
	return out, nil
}

func (ao apiOrder) toStorefrontOrder(brandID string) models.StorefrontOrder {
	o := models.StorefrontOrder{
		BrandID:           brandID,
		StorefrontOrderID: fmt.Sprintf("%d", ao.ID),
		OrderNumber:       fmt.Sprintf("%d", ao.OrderNumber),
		OrderName:         ao.Name,
		FinancialStatus:   ao.FinancialStatus,
		FulfillmentStatus: ao.FulfillmentStatus,
		Fulfillments:      ao.Fulfillments,
	}
	// Flatten fulfillment tracking numbers into the top-level list so
	// downstream code has one place to look first.
	seen := map[string]struct{}{}
	for _, f := range ao.Fulfillments {
		for _, n := range f.AllTrackingNumbers() {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			o.TrackingNumbers = append(o.TrackingNumbers, n)
		}
	}
	return o
}
