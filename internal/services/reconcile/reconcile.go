// Package reconcile cross-checks returned courier shipments against
// storefront orders and reports the ones a refund has not caught up
// with.
package reconcile

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/parcelops/courierdesk/internal/models"
	"github.com/parcelops/courierdesk/internal/storage/pgorders"
)

// Discrepancy reasons.
const (
	ReasonNoMatch     = "no_storefront_match"
	ReasonNotRefunded = "matched_not_refunded"
)

type Store interface {
	ListOrders(ctx context.Context, f pgorders.OrderFilter) ([]models.Order, error)
	ListStorefrontOrders(ctx context.Context, brandID string) ([]models.StorefrontOrder, error)
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// Discrepancy is one returned shipment whose money is unaccounted for
// on the storefront side.
type Discrepancy struct {
	Courier         string          `json:"courier"`
	TrackingNumber  string          `json:"trackingNumber"`
	OrderRefNumber  string          `json:"orderRefNumber"`
	CustomerName    string          `json:"customerName"`
	CityName        string          `json:"cityName"`
	InvoicePayment  decimal.Decimal `json:"invoicePayment"`
	OrderDate       time.Time       `json:"orderDate"`
	Reason          string          `json:"reason"`
	StorefrontOrder string          `json:"storefrontOrder,omitempty"`
	FinancialStatus string          `json:"financialStatus,omitempty"`
}

type Summary struct {
	TotalReturned     int             `json:"totalReturned"`
	TotalDiscrepant   int             `json:"totalDiscrepant"`
	ByCourier         map[string]int  `json:"byCourier"`
	TotalAmountAtRisk decimal.Decimal `json:"totalAmountAtRisk"`
	Discrepancies     []Discrepancy   `json:"discrepancies"`
}

type Request struct {
	BrandID string
	Courier string
	From    time.Time
	To      time.Time
}

// matchIndex answers "which storefront order does this courier shipment
// belong to". The tiers are probed in a fixed chain: order number first,
// order name second, tracking number last, so a ref that collides across
// two storefront orders resolves by tier, never by insertion order.
// Built once per run over the whole storefront set.
type matchIndex struct {
	byOrderNumber map[string]*models.StorefrontOrder
	byOrderName   map[string]*models.StorefrontOrder
	byTracking    map[string]*models.StorefrontOrder
}

// normRef strips the "#" prefix order identifiers arrive with on one
// side but not the other.
func normRef(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "#")
}

func buildIndex(orders []models.StorefrontOrder) matchIndex {
	idx := matchIndex{
		byOrderNumber: make(map[string]*models.StorefrontOrder, len(orders)),
		byOrderName:   make(map[string]*models.StorefrontOrder, len(orders)),
		byTracking:    make(map[string]*models.StorefrontOrder),
	}
	for i := range orders {
		so := &orders[i]
		if k := normRef(so.OrderNumber); k != "" {
			idx.byOrderNumber[k] = so
		}
		if k := normRef(so.OrderName); k != "" {
			idx.byOrderName[k] = so
		}
		for _, tn := range so.TrackingNumbers {
			idx.byTracking[strings.TrimSpace(tn)] = so
		}
		for _, f := range so.Fulfillments {
			for _, tn := range f.AllTrackingNumbers() {
				idx.byTracking[strings.TrimSpace(tn)] = so
			}
		}
	}
	return idx
}

func (idx matchIndex) find(o models.Order) *models.StorefrontOrder {
	if ref := normRef(o.OrderRefNumber); ref != "" {
		if so, ok := idx.byOrderNumber[ref]; ok {
			return so
		}
		if so, ok := idx.byOrderName[ref]; ok {
			return so
		}
	}
	if so, ok := idx.byTracking[o.TrackingNumber]; ok {
		return so
	}
	return nil
}

// Run lists the returned shipments in the window and classifies each
// against the storefront: refunded orders drop out, everything else is
// a discrepancy.
func (s *Service) Run(ctx context.Context, req Request) (Summary, error) {
	if req.BrandID == "" {
		return Summary{}, errors.New("brandId is required")
	}
	if req.Courier != "" && !models.ValidCourier(req.Courier) {
		return Summary{}, errors.Errorf("unknown courier %q", req.Courier)
	}

	returned, err := s.store.ListOrders(ctx, pgorders.OrderFilter{
		BrandID: req.BrandID,
		Courier: req.Courier,
		From:    req.From,
		To:      req.To,
		Bucket:  models.BucketReturned,
	})
	if err != nil {
		return Summary{}, errors.Wrap(err, "list returned orders")
	}

	storefront, err := s.store.ListStorefrontOrders(ctx, req.BrandID)
	if err != nil {
		return Summary{}, errors.Wrap(err, "list storefront orders")
	}
	idx := buildIndex(storefront)

	sum := Summary{
		TotalReturned: len(returned),
		ByCourier:     map[string]int{},
		Discrepancies: []Discrepancy{},
	}
	for _, o := range returned {
		so := idx.find(o)
		if so != nil && models.IsRefundedStatus(so.FinancialStatus) {
			continue
		}
		d := Discrepancy{
			Courier:        o.Courier,
			TrackingNumber: o.TrackingNumber,
			OrderRefNumber: o.OrderRefNumber,
			CustomerName:   o.CustomerName,
			CityName:       o.CityName,
			InvoicePayment: o.InvoicePayment,
			OrderDate:      o.OrderDate,
			Reason:         ReasonNoMatch,
		}
		if so != nil {
			d.Reason = ReasonNotRefunded
			d.StorefrontOrder = so.OrderName
			if d.StorefrontOrder == "" {
				d.StorefrontOrder = so.OrderNumber
			}
			d.FinancialStatus = so.FinancialStatus
		}
		sum.Discrepancies = append(sum.Discrepancies, d)
		sum.ByCourier[o.Courier]++
		sum.TotalAmountAtRisk = sum.TotalAmountAtRisk.Add(o.InvoicePayment)
	}
	sum.TotalDiscrepant = len(sum.Discrepancies)

	sort.SliceStable(sum.Discrepancies, func(i, j int) bool {
		if sum.Discrepancies[i].Courier != sum.Discrepancies[j].Courier {
			return sum.Discrepancies[i].Courier < sum.Discrepancies[j].Courier
		}
		return sum.Discrepancies[i].TrackingNumber < sum.Discrepancies[j].TrackingNumber
	})
	return sum, nil
}
