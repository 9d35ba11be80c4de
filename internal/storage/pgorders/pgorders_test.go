package pgorders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/parcelops/courierdesk/internal/models"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "courierdesk_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/courierdesk_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGOrders_UpsertAndQuery(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	orderDate := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	base := models.Order{
		BrandID:           "b1",
		Courier:           models.CourierPostex,
		TrackingNumber:    "PX1",
		OrderRefNumber:    "1001",
		CityName:          "Lahore",
		InvoicePayment:    decimal.NewFromInt(1000),
		NetAmount:         decimal.NewFromInt(890),
		TransactionStatus: "Delivered",
		StatusBucket:      models.BucketDelivered,
		OrderDate:         orderDate,
		LastFetchedAt:     now,
		UpdatedAt:         now,
	}
	require.NoError(t, st.UpsertChunk(ctx, []models.Order{base}))

	got, err := st.GetOrder(ctx, "b1", models.CourierPostex, "PX1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, orderDate, got.OrderDate)
	require.True(t, got.NetAmount.Equal(decimal.NewFromInt(890)))
	createdAt := got.CreatedAt

	// Re-sync with a different (later) claimed order date: the stored
	// dispatch date must not move, everything else overwrites.
	upd := base
	upd.OrderDate = time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	upd.TransactionStatus = "Returned"
	upd.StatusBucket = models.BucketReturned
	upd.NetAmount = decimal.NewFromInt(-40)
	upd.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, st.UpsertChunk(ctx, []models.Order{upd}))

	got, err = st.GetOrder(ctx, "b1", models.CourierPostex, "PX1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, orderDate, got.OrderDate)
	require.Equal(t, models.BucketReturned, got.StatusBucket)
	require.True(t, got.NetAmount.Equal(decimal.NewFromInt(-40)))
	require.Equal(t, createdAt, got.CreatedAt)

	// Same tracking number under a different courier is a separate row.
	other := base
	other.Courier = models.CourierTrax
	require.NoError(t, st.UpsertChunk(ctx, []models.Order{other}))

	all, err := st.ListOrders(ctx, OrderFilter{BrandID: "b1"})
	require.NoError(t, err)
	require.Len(t, all, 2)

	returned, err := st.ListOrders(ctx, OrderFilter{BrandID: "b1", Bucket: models.BucketReturned})
	require.NoError(t, err)
	require.Len(t, returned, 1)
	require.Equal(t, models.CourierPostex, returned[0].Courier)

	windowed, err := st.ListOrders(ctx, OrderFilter{
		BrandID: "b1",
		Courier: models.CourierPostex,
		From:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, windowed, 1)

	missing, err := st.GetOrder(ctx, "b1", models.CourierMnp, "NOPE")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestPGOrders_StorefrontRoundTrip(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	in := models.StorefrontOrder{
		BrandID:           "b1",
		StorefrontOrderID: "11",
		OrderNumber:       "1001",
		OrderName:         "#1001",
		FinancialStatus:   "paid",
		TrackingNumbers:   []string{"PX1", "TX2"},
		Fulfillments: []models.StorefrontFulfillment{
			{TrackingNumbers: []string{"PX1"}, Carrier: "PostEx", Status: "success"},
		},
	}
	require.NoError(t, st.UpsertStorefrontOrders(ctx, []models.StorefrontOrder{in}))

	// Upsert again with a refund applied.
	in.FinancialStatus = "refunded"
	require.NoError(t, st.UpsertStorefrontOrders(ctx, []models.StorefrontOrder{in}))

	out, err := st.ListStorefrontOrders(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "refunded", out[0].FinancialStatus)
	require.Equal(t, []string{"PX1", "TX2"}, out[0].TrackingNumbers)
	require.Len(t, out[0].Fulfillments, 1)
	require.Equal(t, "PostEx", out[0].Fulfillments[0].Carrier)
}
