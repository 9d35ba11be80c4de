package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Courier codes (closed set; adding one requires a strategy in
// internal/integrations/courier and formulas in services/finance).
const (
	CourierPostex = "POSTEX"
	CourierTrax   = "TRAX"
	CourierMnp    = "MNP"
)

func ValidCourier(code string) bool {
	switch code {
	case CourierPostex, CourierTrax, CourierMnp:
		return true
	}
	return false
}

// Order is the canonical record: one row per physical shipment, keyed by
// (brand_id, courier, tracking_number). A re-sync overwrites every field
// except identity, order_date and created_at.
type Order struct {
	ID             uint64
	BrandID        string
	Courier        string
	TrackingNumber string

	OrderRefNumber  string
	CustomerName    string
	CustomerPhone   string
	DeliveryAddress string
	CityName        string
	OrderDetail     string
	OrderType       string

	OrderAmount         decimal.Decimal
	InvoicePayment      decimal.Decimal
	TransactionFee      decimal.Decimal
	TransactionTax      decimal.Decimal
	SalesWithholdingTax decimal.Decimal
	UpfrontPayment      decimal.Decimal
	NetAmount           decimal.Decimal

	OrderStatus       string
	TransactionStatus string
	StatusBucket      string
	LastStatus        string
	LastStatusTime    *time.Time

	// OrderDate is the dispatch date and is immutable once known. When an
	// upstream payload omits it the transaction date is used, never wall
	// clock time.
	OrderDate       time.Time
	TransactionDate *time.Time
	LastFetchedAt   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthoritativeStatus returns the string the status bucket is derived
// from: transactionStatus when present, orderStatus otherwise.
func (o *Order) AuthoritativeStatus() string {
	if o.TransactionStatus != "" {
		return o.TransactionStatus
	}
	return o.OrderStatus
}

// RawShipment is one upstream record after adapter-level normalization
// but before financial normalization. Field presence varies by courier;
// absent amounts stay zero.
type RawShipment struct {
	TrackingNumber  string
	OrderRefNumber  string
	CustomerName    string
	CustomerPhone   string
	DeliveryAddress string
	CityName        string
	OrderDetail     string
	OrderType       string

	OrderAmount    decimal.Decimal
	InvoicePayment decimal.Decimal
	UpfrontPayment decimal.Decimal

	// POSTEX settlement fields.
	TransactionFee decimal.Decimal
	TransactionTax decimal.Decimal
	ReversalFee    decimal.Decimal
	ReversalTax    decimal.Decimal

	// TRAX settlement fields.
	DeliveryFee     decimal.Decimal
	FuelFee         decimal.Decimal
	CashHandlingFee decimal.Decimal
	DeliveryTax     decimal.Decimal

	OrderStatus       string
	TransactionStatus string
	LastStatus        string
	LastStatusTime    *time.Time

	OrderDate       *time.Time
	TransactionDate *time.Time
}

func (r *RawShipment) AuthoritativeStatus() string {
	if r.TransactionStatus != "" {
		return r.TransactionStatus
	}
	return r.OrderStatus
}

// ChangeSummary is the diff of transaction statuses between what the
// store held before a live sync and what the upstream returned.
type ChangeSummary struct {
	NewOrders     int `json:"newOrders"`
	NewDelivered  int `json:"newDelivered"`
	NewReturned   int `json:"newReturned"`
	StatusChanged int `json:"statusChanged"`
}

func (c ChangeSummary) Empty() bool {
	return c.NewOrders == 0 && c.NewDelivered == 0 && c.NewReturned == 0 && c.StatusChanged == 0
}
