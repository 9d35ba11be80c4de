package postexhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/parcelops/courierdesk/internal/integrations/courier"
)

type memTokens struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemTokens() *memTokens { return &memTokens{m: map[string]string{}} }

func (s *memTokens) key(b, c string) string { return b + "|" + c }

func (s *memTokens) Get(_ context.Context, b, c string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[s.key(b, c)], nil
}
func (s *memTokens) Put(_ context.Context, b, c, tok string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[s.key(b, c)] = tok
	return nil
}
func (s *memTokens) Invalidate(_ context.Context, b, c string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, s.key(b, c))
	return nil
}

func newServer(t *testing.T, failPayment string) (*httptest.Server, *int32) {
	t.Helper()
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/services/integration/api/auth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token":"tok-1","expiresIn":3600}`)
	})
	mux.HandleFunc("/services/integration/api/order/v2/get-all-order", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tok-1", r.Header.Get("token"))
		require.Equal(t, "2026-01-01", r.URL.Query().Get("startDate"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
  "statusCode": "200",
  "dist": [
    {"trackingNumber":"PX1","orderRefNumber":"1001","customerName":"Ali","cityName":"Lahore","invoicePayment":1000,"transactionStatus":"Delivered","orderDate":"2026-01-02","transactionDate":"2026-01-05 10:00:00"},
    {"trackingNumber":"PX2","orderRefNumber":"1002","customerName":"Sara","cityName":"Karachi","invoicePayment":500,"transactionStatus":"Returned","orderDate":"2026-01-03"}
  ]
}`)
	})
	mux.HandleFunc("/services/integration/api/order/payment-status/", func(w http.ResponseWriter, r *http.Request) {
		tn := strings.TrimPrefix(r.URL.Path, "/services/integration/api/order/payment-status/")
		if tn == failPayment {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"statusCode":"200","dist":{"transactionFee":50,"transactionTax":20,"reversalFee":30,"reversalTax":10}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func TestClient_FetchShipments_OK(t *testing.T) {
	srv, _ := newServer(t, "")
	c := New(srv.URL, newMemTokens())

	res, err := c.FetchShipments(context.Background(),
		courier.Credentials{BrandID: "b1", APIKey: "secret"},
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, res.Shipments, 2)
	require.Empty(t, res.Warnings)

	s := res.Shipments[0]
	require.Equal(t, "PX1", s.TrackingNumber)
	require.True(t, s.InvoicePayment.IntPart() == 1000)
	require.True(t, s.TransactionFee.IntPart() == 50)
	require.NotNil(t, s.OrderDate)
	require.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), s.OrderDate.UTC())
}

func TestClient_FetchShipments_PaymentFailureKeepsSiblings(t *testing.T) {
	srv, _ := newServer(t, "PX1")
	c := New(srv.URL, nil)

	res, err := c.FetchShipments(context.Background(),
		courier.Credentials{BrandID: "b1", APIKey: "secret"},
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	// Оба остаются в результате, у PX1 просто нет fee-полей.
	require.Len(t, res.Shipments, 2)
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0], "PX1")
	require.True(t, res.Shipments[0].TransactionFee.IsZero())
	require.False(t, res.Shipments[1].TransactionFee.IsZero())
}

func TestClient_FetchShipments_TokenCached(t *testing.T) {
	srv, tokenCalls := newServer(t, "")
	tokens := newMemTokens()
	c := New(srv.URL, tokens)

	ctx := context.Background()
	creds := courier.Credentials{BrandID: "b1", APIKey: "secret"}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	_, err := c.FetchShipments(ctx, creds, from, to)
	require.NoError(t, err)
	_, err = c.FetchShipments(ctx, creds, from, to)
	require.NoError(t, err)
	require.EqualValues(t, 1, *tokenCalls)
}

func TestClient_FetchShipments_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, nil)
	_, err := c.FetchShipments(context.Background(),
		courier.Credentials{BrandID: "b1", APIKey: "bad"},
		time.Now().Add(-24*time.Hour), time.Now())
	require.Error(t, err)
	require.True(t, errors.Is(err, courier.ErrAuth))
}
