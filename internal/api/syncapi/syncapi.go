// Package syncapi is the JSON HTTP surface: sync trigger,
// discrepancies, alerts, storefront sync and health.
package syncapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/parcelops/courierdesk/internal/integrations/courier"
	"github.com/parcelops/courierdesk/internal/integrations/storefront/shopifyhttp"
	"github.com/parcelops/courierdesk/internal/models"
	"github.com/parcelops/courierdesk/internal/services/alerts"
	"github.com/parcelops/courierdesk/internal/services/reconcile"
	"github.com/parcelops/courierdesk/internal/services/storefrontsync"
	"github.com/parcelops/courierdesk/internal/services/syncer"
)

const defaultAlertWindowDays = 90

const dateLayout = "2006-01-02"

type SyncService interface {
	Sync(ctx context.Context, req syncer.Request) (syncer.Result, error)
}

type ReconcileService interface {
	Run(ctx context.Context, req reconcile.Request) (reconcile.Summary, error)
}

type AlertService interface {
	Evaluate(ctx context.Context, req alerts.Request) (alerts.Report, error)
}

type StorefrontService interface {
	Sync(ctx context.Context, req storefrontsync.Request) (storefrontsync.Result, error)
}

type API struct {
	sync       SyncService
	reconcile  ReconcileService
	alerts     AlertService
	storefront StorefrontService

	swaggerPath string
	now         func() time.Time
}

func New(sync SyncService, rec ReconcileService, al AlertService, sf StorefrontService) *API {
	return &API{
		sync:       sync,
		reconcile:  rec,
		alerts:     al,
		storefront: sf,
		now:        time.Now,
	}
}

func (a *API) WithSwagger(path string) *API {
	a.swaggerPath = path
	return a
}

func (a *API) WithClock(now func() time.Time) *API {
	if now != nil {
		a.now = now
	}
	return a
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if a.swaggerPath != "" {
		if _, err := os.Stat(a.swaggerPath); err == nil {
			swaggerPath := a.swaggerPath
			r.Get("/swagger.json", func(w http.ResponseWriter, req *http.Request) {
				http.ServeFile(w, req, swaggerPath)
			})
			r.Get("/docs/*", httpSwagger.Handler(
				httpSwagger.URL("/swagger.json"),
			))
		} else {
			slog.Warn("swagger file not found, /docs disabled", "path", a.swaggerPath)
		}
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync/{courier}", a.handleSync)
		r.Get("/discrepancies", a.handleDiscrepancies)
		r.Get("/alerts", a.handleAlerts)
		r.Post("/storefront/sync", a.handleStorefrontSync)
	})
	return r
}

type syncRequest struct {
	BrandID     string `json:"brandId"`
	From        string `json:"from"`
	To          string `json:"to"`
	Force       bool   `json:"force"`
	Credentials struct {
		APIKey   string `json:"apiKey"`
		Username string `json:"username"`
		Password string `json:"password"`
		ProxyURL string `json:"proxyUrl"`
	} `json:"credentials"`
}

type syncResponse struct {
	Source  string      `json:"source"`
	Records int         `json:"records"`
	Warning string      `json:"warning,omitempty"`
	Changes interface{} `json:"changes,omitempty"`
	Orders  interface{} `json:"orders"`
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	var body syncRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.BrandID == "" {
		writeError(w, http.StatusBadRequest, "brandId is required")
		return
	}
	courierCode := chi.URLParam(r, "courier")
	if !models.ValidCourier(courierCode) {
		writeError(w, http.StatusBadRequest, "unknown courier "+courierCode)
		return
	}
	from, to, err := parseRange(body.From, body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := syncer.Request{
		BrandID: body.BrandID,
		Courier: courierCode,
		From:    from,
		To:      to,
		Force:   body.Force,
		Creds: courier.Credentials{
			BrandID:  body.BrandID,
			APIKey:   body.Credentials.APIKey,
			Username: body.Credentials.Username,
			Password: body.Credentials.Password,
			ProxyURL: body.Credentials.ProxyURL,
		},
	}
	res, err := a.sync.Sync(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Source:  res.Source,
		Records: len(res.Orders),
		Warning: res.Warning,
		Changes: res.Changes,
		Orders:  res.Orders,
	})
}

func (a *API) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("brandId") == "" {
		writeError(w, http.StatusBadRequest, "brandId is required")
		return
	}
	if c := q.Get("courier"); c != "" && !models.ValidCourier(c) {
		writeError(w, http.StatusBadRequest, "unknown courier "+c)
		return
	}
	from, to, err := parseOptionalRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := a.reconcile.Run(r.Context(), reconcile.Request{
		BrandID: q.Get("brandId"),
		Courier: q.Get("courier"),
		From:    from,
		To:      to,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("brandId") == "" {
		writeError(w, http.StatusBadRequest, "brandId is required")
		return
	}
	from, to, err := parseOptionalRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// No explicit window means the trailing 90 days.
	if to.IsZero() {
		to = a.now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -defaultAlertWindowDays)
	}

	th := alerts.Thresholds{}
	if v := q.Get("transitDays"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "transitDays must be a positive integer")
			return
		}
		th.TransitDays = n
	}
	if v := q.Get("returnRatePct"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, http.StatusBadRequest, "returnRatePct must be a positive number")
			return
		}
		th.ReturnRatePct = f
	}
	if v := q.Get("deliveryRatePct"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, http.StatusBadRequest, "deliveryRatePct must be a positive number")
			return
		}
		th.DeliveryRatePct = f
	}

	rep, err := a.alerts.Evaluate(r.Context(), alerts.Request{
		BrandID:    q.Get("brandId"),
		From:       from,
		To:         to,
		Thresholds: th,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type storefrontSyncRequest struct {
	BrandID     string `json:"brandId"`
	From        string `json:"from"`
	To          string `json:"to"`
	ShopDomain  string `json:"shopDomain"`
	AccessToken string `json:"accessToken"`
}

func (a *API) handleStorefrontSync(w http.ResponseWriter, r *http.Request) {
	var body storefrontSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.BrandID == "" {
		writeError(w, http.StatusBadRequest, "brandId is required")
		return
	}
	from, to, err := parseRange(body.From, body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.storefront.Sync(r.Context(), storefrontsync.Request{
		BrandID: body.BrandID,
		From:    from,
		To:      to,
		Creds: shopifyhttp.Credentials{
			ShopDomain:  body.ShopDomain,
			AccessToken: body.AccessToken,
		},
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	f, t, err := parseOptionalRange(from, to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if f.IsZero() || t.IsZero() {
		return time.Time{}, time.Time{}, errors.New("from and to are required, format YYYY-MM-DD")
	}
	return f, t, nil
}

func parseOptionalRange(from, to string) (time.Time, time.Time, error) {
	var f, t time.Time
	var err error
	if from != "" {
		f, err = time.Parse(dateLayout, from)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD")
		}
	}
	if to != "" {
		t, err = time.Parse(dateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD")
		}
		// Inclusive end of day.
		t = t.Add(24*time.Hour - time.Second)
	}
	if !f.IsZero() && !t.IsZero() && t.Before(f) {
		return time.Time{}, time.Time{}, errors.New("to is before from")
	}
	return f, t, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, syncer.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "order store unavailable")
	default:
		slog.Error("request failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
