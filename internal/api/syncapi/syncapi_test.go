package syncapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/parcelops/courierdesk/internal/models"
	"github.com/parcelops/courierdesk/internal/services/alerts"
	"github.com/parcelops/courierdesk/internal/services/reconcile"
	"github.com/parcelops/courierdesk/internal/services/storefrontsync"
	"github.com/parcelops/courierdesk/internal/services/syncer"
)

type stubSync struct {
	req syncer.Request
	res syncer.Result
	err error
}

func (s *stubSync) Sync(_ context.Context, req syncer.Request) (syncer.Result, error) {
	s.req = req
	return s.res, s.err
}

type stubReconcile struct {
	req reconcile.Request
	sum reconcile.Summary
}

func (s *stubReconcile) Run(_ context.Context, req reconcile.Request) (reconcile.Summary, error) {
	s.req = req
	return s.sum, nil
}

type stubAlerts struct {
	got alerts.Request
	rep alerts.Report
}

func (s *stubAlerts) Evaluate(_ context.Context, req alerts.Request) (alerts.Report, error) {
	s.got = req
	return s.rep, nil
}

type stubStorefront struct {
	req storefrontsync.Request
	res storefrontsync.Result
	err error
}

func (s *stubStorefront) Sync(_ context.Context, req storefrontsync.Request) (storefrontsync.Result, error) {
	s.req = req
	return s.res, s.err
}

func newTestAPI() (*API, *stubSync, *stubReconcile, *stubAlerts, *stubStorefront) {
	sy := &stubSync{}
	rc := &stubReconcile{}
	al := &stubAlerts{}
	sf := &stubStorefront{}
	api := New(sy, rc, al, sf)
	return api, sy, rc, al, sf
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandleSync(t *testing.T) {
	api, sy, _, _, _ := newTestAPI()
	sy.res = syncer.Result{
		Orders:  []models.Order{{TrackingNumber: "PX1"}},
		Source:  syncer.SourceLive,
		Changes: &models.ChangeSummary{NewOrders: 1},
	}
	h := api.Router()

	rr := do(t, h, http.MethodPost, "/v1/sync/POSTEX", `{
		"brandId": "b1",
		"from": "2025-03-01",
		"to": "2025-03-31",
		"force": true,
		"credentials": {"apiKey": "key-1"}
	}`)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, "b1", sy.req.BrandID)
	require.Equal(t, models.CourierPostex, sy.req.Courier)
	require.True(t, sy.req.Force)
	require.Equal(t, "key-1", sy.req.Creds.APIKey)
	require.Equal(t, 2025, sy.req.From.Year())

	var resp struct {
		Source  string `json:"source"`
		Records int    `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "live", resp.Source)
	require.Equal(t, 1, resp.Records)
}

func TestHandleSync_Validation(t *testing.T) {
	api, _, _, _, _ := newTestAPI()
	h := api.Router()

	rr := do(t, h, http.MethodPost, "/v1/sync/DHL", `{"brandId":"b1","from":"2025-03-01","to":"2025-03-31"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/sync/POSTEX", `{"from":"2025-03-01","to":"2025-03-31"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/sync/POSTEX", `{"brandId":"b1","from":"03/01/2025","to":"2025-03-31"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/sync/POSTEX", `not json`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSync_StoreDownMapsTo503(t *testing.T) {
	api, sy, _, _, _ := newTestAPI()
	sy.err = errors.Wrap(syncer.ErrStoreUnavailable, "connection refused")
	h := api.Router()

	rr := do(t, h, http.MethodPost, "/v1/sync/POSTEX", `{"brandId":"b1","from":"2025-03-01","to":"2025-03-31"}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleDiscrepancies(t *testing.T) {
	api, _, rc, _, _ := newTestAPI()
	h := api.Router()

	rr := do(t, h, http.MethodGet, "/v1/discrepancies?brandId=b1&courier=TRAX&from=2025-03-01&to=2025-03-31", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "b1", rc.req.BrandID)
	require.Equal(t, models.CourierTrax, rc.req.Courier)
	require.False(t, rc.req.From.IsZero())

	rr = do(t, h, http.MethodGet, "/v1/discrepancies", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/discrepancies?brandId=b1&courier=FEDEX", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleAlerts_DefaultWindowAndThresholds(t *testing.T) {
	api, _, _, al, _ := newTestAPI()
	fixed := time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC)
	api.WithClock(func() time.Time { return fixed })
	h := api.Router()

	rr := do(t, h, http.MethodGet, "/v1/alerts?brandId=b1&transitDays=7", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "b1", al.got.BrandID)
	require.Equal(t, 7, al.got.Thresholds.TransitDays)
	require.Equal(t, fixed, al.got.To)
	require.Equal(t, fixed.AddDate(0, 0, -90), al.got.From)

	rr = do(t, h, http.MethodGet, "/v1/alerts?brandId=b1&transitDays=zero", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/alerts", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleStorefrontSync(t *testing.T) {
	api, _, _, _, sf := newTestAPI()
	sf.res = storefrontsync.Result{Records: 3}
	h := api.Router()

	rr := do(t, h, http.MethodPost, "/v1/storefront/sync", `{
		"brandId": "b1",
		"from": "2025-03-01",
		"to": "2025-03-31",
		"shopDomain": "acme.myshopify.com",
		"accessToken": "shpat_x"
	}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "acme.myshopify.com", sf.req.Creds.ShopDomain)
	require.Contains(t, rr.Body.String(), `"records":3`)
}

func TestHealthz(t *testing.T) {
	api, _, _, _, _ := newTestAPI()
	rr := do(t, api.Router(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "ok")
}
