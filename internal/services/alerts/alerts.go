// Package alerts evaluates threshold rules over the canonical order
// store: stuck shipments, city return spikes, courier delivery drops.
// Alerts are computed per request and never persisted.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/parcelops/courierdesk/internal/cache"
	"github.com/parcelops/courierdesk/internal/models"
	"github.com/parcelops/courierdesk/internal/storage/pgorders"
)

const (
	defaultTransitDays     = 5
	defaultReturnRatePct   = 15.0
	defaultDeliveryRatePct = 80.0

	maxStuckExamples  = 50
	maxProblemCities  = 10
	minCityTotal      = 5
	minCourierTotal   = 10
	minProblemCityVol = 3
)

type Store interface {
	ListOrders(ctx context.Context, f pgorders.OrderFilter) ([]models.Order, error)
}

type Thresholds struct {
	TransitDays     int     `json:"transitDays"`
	ReturnRatePct   float64 `json:"returnRatePct"`
	DeliveryRatePct float64 `json:"deliveryRatePct"`
}

func (t Thresholds) withDefaults() Thresholds {
	if t.TransitDays <= 0 {
		t.TransitDays = defaultTransitDays
	}
	if t.ReturnRatePct <= 0 {
		t.ReturnRatePct = defaultReturnRatePct
	}
	if t.DeliveryRatePct <= 0 {
		t.DeliveryRatePct = defaultDeliveryRatePct
	}
	return t
}

type Request struct {
	BrandID    string
	From       time.Time
	To         time.Time
	Thresholds Thresholds
}

type Report struct {
	Alerts         []models.Alert `json:"alerts"`
	Summary        Summary        `json:"summary"`
	ThresholdsUsed Thresholds     `json:"thresholdsUsed"`
}

type Summary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"bySeverity"`
	ByType     map[string]int `json:"byType"`
}

type Service struct {
	store Store
	cache cache.BytesCache
	ttl   time.Duration
	now   func() time.Time
}

func New(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithCache arms best-effort report caching; the store stays the source
// of truth and a cache failure is never surfaced.
func (s *Service) WithCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.ttl = ttl
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// cityStats and courierStats are built in one pass over the window.
type cityStats struct {
	name      string
	total     int
	returned  int
	delivered int
	inTransit int
}

type courierStats struct {
	courier   string
	total     int
	delivered int
	returned  int
	cancelled int
	inTransit int
	cities    map[string]*cityStats
}

func (s *Service) Evaluate(ctx context.Context, req Request) (Report, error) {
	if req.BrandID == "" {
		return Report{}, errors.New("brandId is required")
	}
	th := req.Thresholds.withDefaults()

	key := reportKey(req.BrandID, req.From, req.To, th)
	if s.cache != nil && s.ttl > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var rep Report
			if json.Unmarshal(b, &rep) == nil {
				return rep, nil
			}
		}
	}

	orders, err := s.store.ListOrders(ctx, pgorders.OrderFilter{
		BrandID: req.BrandID,
		From:    req.From,
		To:      req.To,
	})
	if err != nil {
		return Report{}, errors.Wrap(err, "list orders")
	}

	now := s.now().UTC()

	var inTransit []models.Order
	cities := map[string]*cityStats{}
	couriers := map[string]*courierStats{}
	for _, o := range orders {
		city := cities[o.CityName]
		if city == nil {
			city = &cityStats{name: o.CityName}
			cities[o.CityName] = city
		}
		cr := couriers[o.Courier]
		if cr == nil {
			cr = &courierStats{courier: o.Courier, cities: map[string]*cityStats{}}
			couriers[o.Courier] = cr
		}
		cc := cr.cities[o.CityName]
		if cc == nil {
			cc = &cityStats{name: o.CityName}
			cr.cities[o.CityName] = cc
		}

		city.total++
		cc.total++
		cr.total++
		switch o.StatusBucket {
		case models.BucketDelivered:
			city.delivered++
			cc.delivered++
			cr.delivered++
		case models.BucketReturned:
			city.returned++
			cc.returned++
			cr.returned++
		case models.BucketCancelled:
			cr.cancelled++
		case models.BucketInTransit:
			city.inTransit++
			cc.inTransit++
			cr.inTransit++
			inTransit = append(inTransit, o)
		}
	}

	var out []models.Alert
	out = append(out, s.stuckAlerts(inTransit, th, now)...)
	out = append(out, s.returnSpikeAlerts(cities, th, now)...)
	out = append(out, s.performanceAlerts(couriers, th, now)...)

	sort.SliceStable(out, func(i, j int) bool {
		return models.SeverityRank(out[i].Severity) < models.SeverityRank(out[j].Severity)
	})

	sum := Summary{Total: len(out), BySeverity: map[string]int{}, ByType: map[string]int{}}
	for _, a := range out {
		sum.BySeverity[a.Severity]++
		sum.ByType[a.Type]++
	}
	rep := Report{Alerts: out, Summary: sum, ThresholdsUsed: th}

	if s.cache != nil && s.ttl > 0 {
		if b, err := json.Marshal(rep); err == nil {
			_ = s.cache.Set(ctx, key, b, s.ttl)
		}
	}
	return rep, nil
}

func reportKey(brandID string, from, to time.Time, th Thresholds) string {
	return fmt.Sprintf("alerts:%s:%d:%d:%d:%.1f:%.1f",
		brandID, from.Unix(), to.Unix(), th.TransitDays, th.ReturnRatePct, th.DeliveryRatePct)
}

type stuckExample struct {
	Courier        string `json:"courier"`
	TrackingNumber string `json:"trackingNumber"`
	CityName       string `json:"cityName"`
	LastStatus     string `json:"lastStatus"`
	DaysInTransit  int    `json:"daysInTransit"`
}

// stuckAlerts buckets in-transit orders by age. Thresholds are
// inclusive: daysInTransit == transitDays already warns, == 2x is
// already critical.
func (s *Service) stuckAlerts(inTransit []models.Order, th Thresholds, now time.Time) []models.Alert {
	var critical, warning []stuckExample
	for _, o := range inTransit {
		if o.OrderDate.IsZero() {
			continue
		}
		days := int(now.Sub(o.OrderDate).Hours() / 24)
		if days < th.TransitDays {
			continue
		}
		ex := stuckExample{
			Courier:        o.Courier,
			TrackingNumber: o.TrackingNumber,
			CityName:       o.CityName,
			LastStatus:     o.LastStatus,
			DaysInTransit:  days,
		}
		if days >= th.TransitDays*2 {
			critical = append(critical, ex)
		} else {
			warning = append(warning, ex)
		}
	}

	var out []models.Alert
	for _, b := range []struct {
		severity string
		examples []stuckExample
	}{
		{models.SeverityCritical, critical},
		{models.SeverityWarning, warning},
	} {
		if len(b.examples) == 0 {
			continue
		}
		sort.SliceStable(b.examples, func(i, j int) bool {
			return b.examples[i].DaysInTransit > b.examples[j].DaysInTransit
		})
		total := len(b.examples)
		examples := b.examples
		if len(examples) > maxStuckExamples {
			examples = examples[:maxStuckExamples]
		}
		out = append(out, models.Alert{
			ID:          fmt.Sprintf("%s:%s", models.AlertStuckInTransit, b.severity),
			Type:        models.AlertStuckInTransit,
			Severity:    b.severity,
			Title:       fmt.Sprintf("%d shipments stuck in transit", total),
			Description: fmt.Sprintf("shipments in transit for %d+ days", th.TransitDays),
			Details: map[string]any{
				"totalCount": total,
				"examples":   examples,
			},
			CreatedAt: now,
		})
	}
	return out
}

type cityRate struct {
	CityName  string  `json:"cityName"`
	Total     int     `json:"total"`
	Returned  int     `json:"returned"`
	InTransit int     `json:"inTransit"`
	Rate      float64 `json:"returnRatePct"`
}

func (s *Service) returnSpikeAlerts(cities map[string]*cityStats, th Thresholds, now time.Time) []models.Alert {
	var critical, warning []cityRate
	for _, c := range cities {
		if c.total < minCityTotal {
			continue
		}
		rate := float64(c.returned) / float64(c.total) * 100
		cr := cityRate{CityName: c.name, Total: c.total, Returned: c.returned, InTransit: c.inTransit, Rate: rate}
		switch {
		case rate >= th.ReturnRatePct*1.5:
			critical = append(critical, cr)
		case rate >= th.ReturnRatePct:
			warning = append(warning, cr)
		}
	}

	var out []models.Alert
	for _, b := range []struct {
		severity string
		cities   []cityRate
	}{
		{models.SeverityCritical, critical},
		{models.SeverityWarning, warning},
	} {
		if len(b.cities) == 0 {
			continue
		}
		sort.SliceStable(b.cities, func(i, j int) bool {
			return b.cities[i].Rate > b.cities[j].Rate
		})
		out = append(out, models.Alert{
			ID:          fmt.Sprintf("%s:%s", models.AlertReturnSpike, b.severity),
			Type:        models.AlertReturnSpike,
			Severity:    b.severity,
			Title:       fmt.Sprintf("return rate spike in %d cities", len(b.cities)),
			Description: fmt.Sprintf("cities above %.0f%% return rate", th.ReturnRatePct),
			Details: map[string]any{
				"cities": b.cities,
			},
			CreatedAt: now,
		})
	}
	return out
}

type problemCity struct {
	CityName  string  `json:"cityName"`
	Total     int     `json:"total"`
	Delivered int     `json:"delivered"`
	Rate      float64 `json:"deliveryRatePct"`
}

func (s *Service) performanceAlerts(couriers map[string]*courierStats, th Thresholds, now time.Time) []models.Alert {
	codes := make([]string, 0, len(couriers))
	for code := range couriers {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []models.Alert
	for _, code := range codes {
		cr := couriers[code]
		if cr.total < minCourierTotal {
			continue
		}
		rate := float64(cr.delivered) / float64(cr.total) * 100
		if rate >= th.DeliveryRatePct {
			continue
		}
		severity := models.SeverityWarning
		if th.DeliveryRatePct-rate > 20 {
			severity = models.SeverityCritical
		}

		var problem []problemCity
		for _, c := range cr.cities {
			if c.total < minProblemCityVol {
				continue
			}
			cityDelivery := float64(c.delivered) / float64(c.total) * 100
			if cityDelivery >= th.DeliveryRatePct {
				continue
			}
			problem = append(problem, problemCity{
				CityName:  c.name,
				Total:     c.total,
				Delivered: c.delivered,
				Rate:      cityDelivery,
			})
		}
		sort.SliceStable(problem, func(i, j int) bool {
			return problem[i].Rate < problem[j].Rate
		})
		if len(problem) > maxProblemCities {
			problem = problem[:maxProblemCities]
		}

		out = append(out, models.Alert{
			ID:          fmt.Sprintf("%s:%s", models.AlertPerformanceDrop, cr.courier),
			Type:        models.AlertPerformanceDrop,
			Severity:    severity,
			Title:       fmt.Sprintf("%s delivery rate dropped to %.1f%%", cr.courier, rate),
			Description: fmt.Sprintf("delivery rate below %.0f%% threshold", th.DeliveryRatePct),
			Details: map[string]any{
				"courier":         cr.courier,
				"total":           cr.total,
				"delivered":       cr.delivered,
				"returned":        cr.returned,
				"cancelled":       cr.cancelled,
				"inTransit":       cr.inTransit,
				"deliveryRatePct": rate,
				"problemCities":   problem,
			},
			CreatedAt: now,
		})
	}
	return out
}
