package traxhttp

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

func TestClient_FetchShipments_Paginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key-1", r.Header.Get("Authorization"))
		require.Equal(t, "/api/shipment/track/list", r.URL.Path)
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "1":
			fmt.Fprint(w, `{
  "status": 1,
  "shipments": [
    {"tracking_number":"TX1","order_reference_number":"2001","destination_city":"Lahore","cod_amount":500,"delivery_fee":90,"fuel_surcharge":4,"cash_handling_fee":6.5,"delivery_tax":13.44,"status":"Delivered","booked_at":"2026-01-10"}
  ],
  "meta": {"current_page":1,"total_pages":2}
}`)
		case "2":
			fmt.Fprint(w, `{
  "status": 1,
  "shipments": [
    {"tracking_number":"TX2","order_reference_number":"2002","destination_city":"Quetta","cod_amount":700,"status":"Returned to Shipper","payment_status":"Returned to Shipper","booked_at":"2026-01-11 09:30:00","last_status_at":"2026-01-14 16:00:00"}
  ],
  "meta": {"current_page":2,"total_pages":2}
}`)
		default:
			t.Fatalf("unexpected page %s", page)
		}
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	res, err := c.FetchShipments(context.Background(),
		courier.Credentials{APIKey: "key-1"},
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, res.Shipments, 2)

	require.Equal(t, "TX1", res.Shipments[0].TrackingNumber)
	require.True(t, res.Shipments[0].DeliveryFee.IntPart() == 90)
	require.NotNil(t, res.Shipments[0].OrderDate)

	require.Equal(t, "TX2", res.Shipments[1].TrackingNumber)
	require.NotNil(t, res.Shipments[1].LastStatusTime)
	require.Equal(t, time.Date(2026, 1, 14, 16, 0, 0, 0, time.UTC), res.Shipments[1].LastStatusTime.UTC())
}

func TestClient_FetchShipments_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	_, err := c.FetchShipments(context.Background(), courier.Credentials{APIKey: "bad"},
		time.Now().Add(-24*time.Hour), time.Now())
	require.True(t, errors.Is(err, courier.ErrAuth))
}

func TestClient_FetchShipments_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	_, err := c.FetchShipments(context.Background(), courier.Credentials{APIKey: "k"},
		time.Now().Add(-24*time.Hour), time.Now())
	require.Error(t, err)
	require.False(t, errors.Is(err, courier.ErrAuth))
}
