// Package finance derives settlement fields from a raw courier shipment.
// Everything here is pure arithmetic: no I/O, no clock, no storage.
package finance

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/parcelops/courierdesk/internal/models"
)

var (
	// POSTEX withholds 4% sales tax on non-returned COD amounts.
	postexWithholdingRate = decimal.NewFromFloat(0.04)

	// MNP has no fee fields of its own: flat handling fee plus a 4%
	// commission on the collected amount.
	mnpFlatFee        = decimal.NewFromInt(150)
	mnpCommissionRate = decimal.NewFromFloat(0.04)
)

// Fields is the settlement output written verbatim into the Order row.
type Fields struct {
	StatusBucket        string
	TransactionFee      decimal.Decimal
	TransactionTax      decimal.Decimal
	SalesWithholdingTax decimal.Decimal
	NetAmount           decimal.Decimal
}

// Normalize computes settlement fields for one shipment of the given
// courier. The bucket comes from the authoritative status string
// (transactionStatus when present).
func Normalize(raw models.RawShipment, courier string) (Fields, error) {
	bucket := models.ClassifyStatus(courier, raw.AuthoritativeStatus())

	switch courier {
	case models.CourierPostex:
		return normalizePostex(raw, bucket), nil
	case models.CourierTrax:
		return normalizeTrax(raw, bucket), nil
	case models.CourierMnp:
		return normalizeMnp(raw, bucket), nil
	}
	return Fields{}, errors.Errorf("finance: unknown courier %q", courier)
}

func normalizePostex(raw models.RawShipment, bucket string) Fields {
	f := Fields{StatusBucket: bucket}
	switch bucket {
	case models.BucketReturned:
		// Returns settle against the reversal fee/tax, no withholding;
		// the courier charges the merchant for the round trip.
		f.TransactionFee = raw.ReversalFee
		f.TransactionTax = raw.ReversalTax
		f.SalesWithholdingTax = decimal.Zero
		f.NetAmount = f.TransactionFee.Add(f.TransactionTax).Neg()
	case models.BucketCancelled:
		f.TransactionFee = raw.TransactionFee
		f.TransactionTax = raw.TransactionTax
		f.SalesWithholdingTax = decimal.Zero
		f.NetAmount = decimal.Zero
	default:
		f.TransactionFee = raw.TransactionFee
		f.TransactionTax = raw.TransactionTax
		f.SalesWithholdingTax = raw.InvoicePayment.Mul(postexWithholdingRate)
		f.NetAmount = raw.InvoicePayment.
			Sub(f.TransactionFee).
			Sub(f.TransactionTax).
			Sub(f.SalesWithholdingTax)
	}
	return f
}

func normalizeTrax(raw models.RawShipment, bucket string) Fields {
	// TRAX exposes no reversal-specific fields; the same formula applies
	// to every bucket.
	fee := raw.DeliveryFee.Add(raw.FuelFee).Add(raw.CashHandlingFee)
	return Fields{
		StatusBucket:        bucket,
		TransactionFee:      fee,
		TransactionTax:      raw.DeliveryTax,
		SalesWithholdingTax: decimal.Zero,
		NetAmount:           raw.InvoicePayment.Sub(fee).Sub(raw.DeliveryTax),
	}
}

func normalizeMnp(raw models.RawShipment, bucket string) Fields {
	tax := raw.InvoicePayment.Mul(mnpCommissionRate)
	return Fields{
		StatusBucket:        bucket,
		TransactionFee:      mnpFlatFee,
		TransactionTax:      tax,
		SalesWithholdingTax: decimal.Zero,
		NetAmount:           raw.InvoicePayment.Sub(mnpFlatFee).Sub(tax),
	}
}

// Apply copies the computed fields onto an order record.
func Apply(o *models.Order, f Fields) {
	o.StatusBucket = f.StatusBucket
	o.TransactionFee = f.TransactionFee
	o.TransactionTax = f.TransactionTax
	o.SalesWithholdingTax = f.SalesWithholdingTax
	o.NetAmount = f.NetAmount
}
