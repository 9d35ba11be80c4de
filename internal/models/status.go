package models

import "strings"

// Status buckets derived from the authoritative upstream status string.
const (
	BucketDelivered = "DELIVERED"
	BucketReturned  = "RETURNED"
	BucketCancelled = "CANCELLED"
	BucketInTransit = "IN_TRANSIT"
)

// Exact raw-status mappings per courier. Substring matching is kept only
// as the fallback for values missing here.
var statusTables = map[string]map[string]string{
	CourierPostex: {
		"delivered":             BucketDelivered,
		"returned":              BucketReturned,
		"delivery under review": BucketInTransit,
		"un-booked":             BucketCancelled,
		"booked":                BucketInTransit,
		"postex warehouse":      BucketInTransit,
		"out for delivery":      BucketInTransit,
		"attempted":             BucketInTransit,
	},
	CourierTrax: {
		"delivered":           BucketDelivered,
		"returned to shipper": BucketReturned,
		"ready for return":    BucketReturned,
		"cancelled":           BucketCancelled,
		"pickup request sent": BucketInTransit,
		"arrived at station":  BucketInTransit,
		"out for delivery":    BucketInTransit,
	},
	CourierMnp: {
		"delivered":  BucketDelivered,
		"returned":   BucketReturned,
		"cancelled":  BucketCancelled,
		"booked":     BucketInTransit,
		"in transit": BucketInTransit,
	},
}

// ClassifyStatus maps a raw status string to a bucket. Lookup order: the
// courier's exact table, then substring containment. The substring pass
// checks "deliver" before "return" before "cancel" on purpose: upstream
// strings combine words ("returned after delivery attempt cancel") and
// this priority is the documented tie-break, not an accident.
func ClassifyStatus(courier, raw string) string {
	low := strings.ToLower(strings.TrimSpace(raw))
	if tbl, ok := statusTables[courier]; ok {
		if b, ok := tbl[low]; ok {
			return b
		}
	}
	switch {
	case strings.Contains(low, "deliver"):
		return BucketDelivered
	case strings.Contains(low, "return"):
		return BucketReturned
	case strings.Contains(low, "cancel"):
		return BucketCancelled
	default:
		return BucketInTransit
	}
}
