package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Storefront financial statuses that mean a courier return is already
// reflected on the storefront side.
var refundedStatuses = map[string]struct{}{
	"refunded":           {},
	"voided":             {},
	"partially_refunded": {},
}

func IsRefundedStatus(financialStatus string) bool {
	_, ok := refundedStatuses[strings.ToLower(strings.TrimSpace(financialStatus))]
	return ok
}

// StorefrontFulfillment is one shipment record nested inside a
// storefront order.
type StorefrontFulfillment struct {
	TrackingNumbers []string `json:"tracking_numbers"`
	TrackingNumber  string   `json:"tracking_number"`
	Carrier         string   `json:"tracking_company"`
	Status          string   `json:"status"`
}

// AllTrackingNumbers merges the plural and singular tracking fields.
func (f StorefrontFulfillment) AllTrackingNumbers() []string {
	out := make([]string, 0, len(f.TrackingNumbers)+1)
	for _, n := range f.TrackingNumbers {
		if n != "" {
			out = append(out, n)
		}
	}
	if f.TrackingNumber != "" {
		out = append(out, f.TrackingNumber)
	}
	return out
}

// StorefrontOrder is an e-commerce order. The nested lists arrive as
// serialized JSON from both the storefront API and older stored rows;
// they are parsed once at the boundary and kept typed from there on.
type StorefrontOrder struct {
	ID                uint64
	BrandID           string
	StorefrontOrderID string
	OrderNumber       string
	OrderName         string
	FinancialStatus   string
	FulfillmentStatus string

	TrackingNumbers []string
	Fulfillments    []StorefrontFulfillment

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParseTrackingNumbers decodes a serialized tracking-number list.
// Malformed or empty input yields an empty slice, never an error: a bad
// nested blob must not poison the batch it arrived in.
func ParseTrackingNumbers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var nums []string
	if err := json.Unmarshal([]byte(raw), &nums); err != nil {
		return nil
	}
	out := nums[:0]
	for _, n := range nums {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ParseFulfillments decodes a serialized fulfillment list with the same
// malformed-means-empty policy as ParseTrackingNumbers.
func ParseFulfillments(raw string) []StorefrontFulfillment {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var fs []StorefrontFulfillment
	if err := json.Unmarshal([]byte(raw), &fs); err != nil {
		return nil
	}
	return fs
}
