// Package traxhttp talks to the TRAX shipper REST API: static API-key
// header auth and one paged listing that already carries the settlement
// fields (delivery/fuel/cash-handling fees and tax).
package traxhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/parcelops/courierdesk/internal/integrations/courier"
	"github.com/parcelops/courierdesk/internal/models"
)

const (
	dateParam = "2006-01-02"

	// Hard stop for the pagination loop; the API caps page size at 50.
	maxPages = 200
)

type Client struct {
	baseURL string
	timeout time.Duration
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://sonic.pk"
	}
	return &Client{baseURL: baseURL, timeout: 30 * time.Second}
}

func (c *Client) Courier() string { return models.CourierTrax }

type pageResp struct {
	Status    int            `json:"status"`
	Shipments []traxShipment `json:"shipments"`
	Meta      struct {
		CurrentPage int `json:"current_page"`
		TotalPages  int `json:"total_pages"`
	} `json:"meta"`
}

type traxShipment struct {
	TrackingNumber  string          `json:"tracking_number"`
	OrderRef        string          `json:"order_reference_number"`
	ConsigneeName   string          `json:"consignee_name"`
	ConsigneePhone  string          `json:"consignee_phone"`
	ConsigneeAddr   string          `json:"consignee_address"`
	DestinationCity string          `json:"destination_city"`
	ItemDescription string          `json:"item_description"`
	ServiceType     string          `json:"service_type"`
	OrderAmount     decimal.Decimal `json:"order_amount"`
	CodAmount       decimal.Decimal `json:"cod_amount"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	FuelFee         decimal.Decimal `json:"fuel_surcharge"`
	CashHandlingFee decimal.Decimal `json:"cash_handling_fee"`
	DeliveryTax     decimal.Decimal `json:"delivery_tax"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"payment_status"`
	LastStatus      string          `json:"last_status"`
	LastStatusAt    string          `json:"last_status_at"`
	BookedAt        string          `json:"booked_at"`
	SettledAt       string          `json:"settled_at"`
}

func (c *Client) FetchShipments(ctx context.Context, creds courier.Credentials, from, to time.Time) (courier.FetchResult, error) {
	httpc, err := courier.HTTPClient(c.timeout, creds.ProxyURL)
	if err != nil {
		return courier.FetchResult{}, err
	}

	var res courier.FetchResult
	for page := 1; page <= maxPages; page++ {
		pr, err := c.fetchPage(ctx, httpc, creds.APIKey, from, to, page)
		if err != nil {
			// A failed page aborts the fetch: the caller falls back to
			// cache rather than persisting a window with holes.
			return courier.FetchResult{}, err
		}
		for _, sh := range pr.Shipments {
			raw, warn := sh.toRawShipment()
			res.Shipments = append(res.Shipments, raw)
			if warn != "" {
				res.Warnings = append(res.Warnings, warn)
			}
		}
		if pr.Meta.TotalPages == 0 || pr.Meta.CurrentPage >= pr.Meta.TotalPages {
			break
		}
	}
	return res, nil
}

func (c *Client) fetchPage(ctx context.Context, httpc *http.Client, apiKey string, from, to time.Time, page int) (pageResp, error) {
	u := fmt.Sprintf("%s/api/shipment/track/list?start_date=%s&end_date=%s&page=%d",
		c.baseURL, from.Format(dateParam), to.Format(dateParam), page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return pageResp{}, errors.Wrap(err, "new page request")
	}
	req.Header.Set("Authorization", apiKey)

	resp, err := httpc.Do(req)
	if err != nil {
		return pageResp{}, errors.Wrap(err, "fetch page")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return pageResp{}, errors.Wrap(courier.ErrAuth, "trax rejected api key")
	}
	if resp.StatusCode/100 != 2 {
		return pageResp{}, errors.Errorf("trax http %d", resp.StatusCode)
	}

	var pr pageResp
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return pageResp{}, errors.Wrap(err, "decode page")
	}
	return pr, nil
}

func (sh traxShipment) toRawShipment() (models.RawShipment, string) {
	raw := models.RawShipment{
		TrackingNumber:  sh.TrackingNumber,
		OrderRefNumber:  sh.OrderRef,
		CustomerName:    sh.ConsigneeName,
		CustomerPhone:   sh.ConsigneePhone,
		DeliveryAddress: sh.ConsigneeAddr,
		CityName:        sh.DestinationCity,
		OrderDetail:     sh.ItemDescription,
		OrderType:       sh.ServiceType,
		OrderAmount:     sh.OrderAmount,
		InvoicePayment:  sh.CodAmount,
		DeliveryFee:     sh.DeliveryFee,
		FuelFee:         sh.FuelFee,
		CashHandlingFee: sh.CashHandlingFee,
		DeliveryTax:     sh.DeliveryTax,
		OrderStatus:     sh.Status,
		// payment_status carries the settlement-side state and wins
		// over the delivery status when present.
		TransactionStatus: sh.PaymentStatus,
		LastStatus:        sh.LastStatus,
	}
	if raw.TransactionStatus == "" {
		raw.TransactionStatus = sh.Status
	}

	var warn string
	if t := parseTime(sh.BookedAt); t != nil {
		raw.OrderDate = t
	} else if sh.BookedAt != "" {
		warn = fmt.Sprintf("unparseable booked_at %q for %s", sh.BookedAt, sh.TrackingNumber)
	}
	raw.TransactionDate = parseTime(sh.SettledAt)
	raw.LastStatusTime = parseTime(sh.LastStatusAt)
	return raw, warn
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
