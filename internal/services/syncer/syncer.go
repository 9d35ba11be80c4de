// Package syncer drives the per-tenant, per-courier synchronization
// flow: cache first, live fetch with normalization and chunked upserts,
// cache fallback when the upstream is down.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/parcelops/courierdesk/internal/broker/messages"
	"github.com/parcelops/courierdesk/internal/integrations/courier"
	"github.com/parcelops/courierdesk/internal/models"
	"github.com/parcelops/courierdesk/internal/services/finance"
	"github.com/parcelops/courierdesk/internal/storage/pgorders"
)

// Response sources.
const (
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// ErrStoreUnavailable marks a terminal storage failure for the current
// request; the API layer maps it to 503.
var ErrStoreUnavailable = errors.New("order store unavailable")

type OrderStore interface {
	UpsertChunk(ctx context.Context, orders []models.Order) error
	ListOrders(ctx context.Context, f pgorders.OrderFilter) ([]models.Order, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	store    OrderStore
	couriers courier.Registry
	producer Producer
	rl       RateLimiter

	topic              string
	chunkSize          int
	rateLimitPerMinute int64
	now                func() time.Time
}

func New(store OrderStore, couriers courier.Registry) *Service {
	return &Service{
		store:     store,
		couriers:  couriers,
		chunkSize: 50,
		now:       time.Now,
	}
}

// WithBroker arms best-effort completion events.
func (s *Service) WithBroker(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter, perMinute int64) *Service {
	s.rl = rl
	s.rateLimitPerMinute = perMinute
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) WithChunkSize(n int) *Service {
	if n > 0 {
		s.chunkSize = n
	}
	return s
}

type Request struct {
	BrandID string
	Courier string
	Creds   courier.Credentials
	From    time.Time
	To      time.Time

	// Force skips the initial cache read and always hits the upstream.
	Force bool
}

type Result struct {
	Orders  []models.Order
	Source  string
	Warning string
	Changes *models.ChangeSummary
}

func (s *Service) Sync(ctx context.Context, req Request) (Result, error) {
	if req.BrandID == "" {
		return Result{}, errors.New("brandId is required")
	}
	if !models.ValidCourier(req.Courier) {
		return Result{}, errors.Errorf("unknown courier %q", req.Courier)
	}
	if req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From) {
		return Result{}, errors.New("invalid date range")
	}
	client, err := s.couriers.Get(req.Courier)
	if err != nil {
		return Result{}, err
	}

	filter := pgorders.OrderFilter{
		BrandID: req.BrandID,
		Courier: req.Courier,
		From:    req.From,
		To:      req.To,
	}

	if !req.Force {
		cached, err := s.store.ListOrders(ctx, filter)
		if err != nil {
			return Result{}, errors.Wrap(ErrStoreUnavailable, err.Error())
		}
		if len(cached) > 0 {
			return Result{Orders: cached, Source: SourceCache}, nil
		}
	}

	s.throttle(ctx, req.Courier)

	fetched, fetchErr := client.FetchShipments(ctx, req.Creds, req.From, req.To)
	if fetchErr != nil {
		return s.fallback(ctx, filter, fetchErr)
	}

	// Old state first: the change summary diffs statuses before the
	// batch lands.
	prev, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return Result{}, errors.Wrap(ErrStoreUnavailable, err.Error())
	}
	prevByTracking := make(map[string]models.Order, len(prev))
	for _, o := range prev {
		prevByTracking[o.TrackingNumber] = o
	}

	shipments := dedupeLastWins(fetched.Shipments)
	warnings := append([]string{}, fetched.Warnings...)

	now := s.now().UTC()
	orders := make([]models.Order, 0, len(shipments))
	changes := models.ChangeSummary{}
	for _, raw := range shipments {
		o, err := s.buildOrder(req, raw, prevByTracking, now)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("normalize %s: %v", raw.TrackingNumber, err))
			continue
		}
		diffInto(&changes, prevByTracking, o)
		orders = append(orders, o)
	}

	warnings = append(warnings, s.persistChunks(ctx, orders)...)

	final, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return Result{}, errors.Wrap(ErrStoreUnavailable, err.Error())
	}

	res := Result{
		Orders:  final,
		Source:  SourceLive,
		Warning: strings.Join(warnings, "; "),
		Changes: &changes,
	}
	s.publishCompleted(ctx, req, res)
	return res, nil
}

// fallback re-reads the cache unconditionally after a live failure: the
// caller gets the best available data with the upstream error attached
// as a non-fatal warning.
func (s *Service) fallback(ctx context.Context, filter pgorders.OrderFilter, fetchErr error) (Result, error) {
	slog.Warn("live fetch failed, serving cache",
		"brand_id", filter.BrandID, "courier", filter.Courier, "error", fetchErr.Error())

	cached, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return Result{}, errors.Wrap(ErrStoreUnavailable, err.Error())
	}
	warning := fetchErr.Error()
	if errors.Is(fetchErr, courier.ErrAuth) {
		warning = "courier credential rejected: " + warning
	}
	return Result{Orders: cached, Source: SourceFallback, Warning: warning}, nil
}

func (s *Service) buildOrder(req Request, raw models.RawShipment, prev map[string]models.Order, now time.Time) (models.Order, error) {
	fields, err := finance.Normalize(raw, req.Courier)
	if err != nil {
		return models.Order{}, err
	}

	o := models.Order{
		BrandID:         req.BrandID,
		Courier:         req.Courier,
		TrackingNumber:  raw.TrackingNumber,
		OrderRefNumber:  raw.OrderRefNumber,
		CustomerName:    raw.CustomerName,
		CustomerPhone:   raw.CustomerPhone,
		DeliveryAddress: raw.DeliveryAddress,
		CityName:        raw.CityName,
		OrderDetail:     raw.OrderDetail,
		OrderType:       raw.OrderType,

		OrderAmount:    raw.OrderAmount,
		InvoicePayment: raw.InvoicePayment,
		UpfrontPayment: raw.UpfrontPayment,

		OrderStatus:       raw.OrderStatus,
		TransactionStatus: raw.TransactionStatus,
		LastStatus:        raw.LastStatus,
		LastStatusTime:    raw.LastStatusTime,

		TransactionDate: raw.TransactionDate,
		LastFetchedAt:   now,
		UpdatedAt:       now,
	}
	finance.Apply(&o, fields)

	// Dispatch date resolution: upstream value, else the transaction
	// date, else whatever an earlier sync established. Wall clock is
	// never an answer here.
	switch {
	case raw.OrderDate != nil:
		o.OrderDate = raw.OrderDate.UTC()
	case raw.TransactionDate != nil:
		o.OrderDate = raw.TransactionDate.UTC()
	default:
		if old, ok := prev[raw.TrackingNumber]; ok {
			o.OrderDate = old.OrderDate
		}
	}
	return o, nil
}

// persistChunks upserts in bounded transactions; a failing chunk is
// reported and skipped, it never aborts prior or following chunks.
func (s *Service) persistChunks(ctx context.Context, orders []models.Order) []string {
	var warnings []string
	for start := 0; start < len(orders); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(orders) {
			end = len(orders)
		}
		if err := s.store.UpsertChunk(ctx, orders[start:end]); err != nil {
			slog.Error("upsert chunk failed", "from", start, "to", end, "error", err.Error())
			warnings = append(warnings, fmt.Sprintf("persist chunk %d-%d: %v", start, end-1, err))
		}
	}
	return warnings
}

func (s *Service) throttle(ctx context.Context, courierCode string) {
	if s.rl == nil || s.rateLimitPerMinute <= 0 {
		return
	}
	key := fmt.Sprintf("rl:sync:%s:%s", courierCode, s.now().UTC().Format("200601021504"))
	allowed, n, err := s.rl.Allow(ctx, key, s.rateLimitPerMinute, 70*time.Second)
	if err != nil {
		slog.Warn("rate limiter unavailable", "error", err.Error())
		return
	}
	if !allowed {
		slog.Warn("courier rate limit exceeded", "courier", courierCode, "count", n)
		time.Sleep(500 * time.Millisecond)
	}
}

func (s *Service) publishCompleted(ctx context.Context, req Request, res Result) {
	if s.producer == nil || s.topic == "" {
		return
	}
	msg := messages.SyncCompleted{
		BrandID:     req.BrandID,
		Courier:     req.Courier,
		From:        req.From,
		To:          req.To,
		Source:      res.Source,
		Records:     len(res.Orders),
		Warning:     res.Warning,
		CompletedAt: s.now().UTC(),
	}
	if res.Changes != nil {
		msg.Changes = *res.Changes
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := []byte(req.BrandID + "|" + req.Courier)
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Warn("publish sync completed", "error", err.Error())
	}
}

// dedupeLastWins collapses duplicate tracking numbers within one
// upstream batch; the later record wins, positions follow first sight.
func dedupeLastWins(in []models.RawShipment) []models.RawShipment {
	idx := make(map[string]int, len(in))
	out := make([]models.RawShipment, 0, len(in))
	for _, raw := range in {
		if raw.TrackingNumber == "" {
			continue
		}
		if i, ok := idx[raw.TrackingNumber]; ok {
			out[i] = raw
			continue
		}
		idx[raw.TrackingNumber] = len(out)
		out = append(out, raw)
	}
	return out
}

// diffInto accumulates the change summary for one incoming order.
func diffInto(c *models.ChangeSummary, prev map[string]models.Order, o models.Order) {
	old, ok := prev[o.TrackingNumber]
	if !ok {
		c.NewOrders++
		return
	}
	if old.AuthoritativeStatus() == o.AuthoritativeStatus() {
		return
	}
	oldBucket := models.ClassifyStatus(o.Courier, old.AuthoritativeStatus())
	switch {
	case o.StatusBucket == models.BucketDelivered && oldBucket != models.BucketDelivered:
		c.NewDelivered++
	case o.StatusBucket == models.BucketReturned && oldBucket != models.BucketReturned:
		c.NewReturned++
	default:
		c.StatusChanged++
	}
}
