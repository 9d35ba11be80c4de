package shopifyhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/parcelops/courierdesk/internal/integrations/courier"
)

func TestClient_FetchOrders_FlattensTracking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/api/2024-01/orders.json", r.URL.Path)
		require.Equal(t, "tok", r.Header.Get("X-Shopify-Access-Token"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("since_id") != "0" {
			fmt.Fprint(w, `{"orders":[]}`)
			return
		}
		fmt.Fprint(w, `{
  "orders": [
    {"id": 11, "order_number": 1001, "name": "#1001", "financial_status": "paid",
     "fulfillments": [
       {"tracking_numbers": ["PX1","PX2"], "tracking_company": "PostEx", "status": "success"},
       {"tracking_number": "PX2", "tracking_company": "PostEx", "status": "success"}
     ]}
  ]
}`)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	orders, err := c.FetchOrders(context.Background(), "b1", Credentials{AccessToken: "tok"},
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o := orders[0]
	require.Equal(t, "11", o.StorefrontOrderID)
	require.Equal(t, "1001", o.OrderNumber)
	require.Equal(t, "#1001", o.OrderName)
	// PX2 duplicate across fulfillments collapses.
	require.Equal(t, []string{"PX1", "PX2"}, o.TrackingNumbers)
	require.Len(t, o.Fulfillments, 2)
}

func TestClient_FetchOrders_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	_, err := c.FetchOrders(context.Background(), "b1", Credentials{AccessToken: "bad"},
		time.Now().Add(-time.Hour), time.Now())
	require.True(t, errors.Is(err, courier.ErrAuth))
}
