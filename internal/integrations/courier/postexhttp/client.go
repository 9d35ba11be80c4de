// Package postexhttp talks to the POSTEX merchant REST API. Auth is a
// bearer token exchanged from the tenant API key; settlement fields live
// on a per-shipment payment endpoint fetched with bounded concurrency.
package postexhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/parcelops/courierdesk/internal/integrations/courier"
	"github.com/parcelops/courierdesk/internal/models"
)

const (
	dateParam = "2006-01-02"

	// Payment detail calls per batch; the endpoint is the most
	// rate-sensitive one POSTEX exposes.
	detailConcurrency = 10
)

// TokenStore is the tenant-scoped token cache (rediscache.TokenCache in
// production).
type TokenStore interface {
	Get(ctx context.Context, brandID, courier string) (string, error)
	Put(ctx context.Context, brandID, courier, token string, expiresAt time.Time) error
	Invalidate(ctx context.Context, brandID, courier string) error
}

type Client struct {
	baseURL string
	tokens  TokenStore
	timeout time.Duration
}

func New(baseURL string, tokens TokenStore) *Client {
	if baseURL == "" {
		baseURL = "https://api.postex.pk"
	}
	return &Client{baseURL: baseURL, tokens: tokens, timeout: 30 * time.Second}
}

func (c *Client) Courier() string { return models.CourierPostex }

type tokenResp struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

type listResp struct {
	StatusCode string        `json:"statusCode"`
	StatusMsg  string        `json:"statusMessage"`
	Dist       []listedOrder `json:"dist"`
}

type listedOrder struct {
	TrackingNumber    string          `json:"trackingNumber"`
	OrderRefNumber    string          `json:"orderRefNumber"`
	CustomerName      string          `json:"customerName"`
	CustomerPhone     string          `json:"customerPhone"`
	DeliveryAddress   string          `json:"deliveryAddress"`
	CityName          string          `json:"cityName"`
	OrderDetail       string          `json:"orderDetail"`
	OrderType         string          `json:"orderType"`
	OrderAmount       decimal.Decimal `json:"orderAmount"`
	InvoicePayment    decimal.Decimal `json:"invoicePayment"`
	OrderStatus       string          `json:"orderStatus"`
	TransactionStatus string          `json:"transactionStatus"`
	OrderDate         string          `json:"orderDate"`
	TransactionDate   string          `json:"transactionDate"`
}

type paymentResp struct {
	StatusCode string `json:"statusCode"`
	Dist       struct {
		TransactionFee  decimal.Decimal `json:"transactionFee"`
		TransactionTax  decimal.Decimal `json:"transactionTax"`
		ReversalFee     decimal.Decimal `json:"reversalFee"`
		ReversalTax     decimal.Decimal `json:"reversalTax"`
		UpfrontPayment  decimal.Decimal `json:"upfrontPayment"`
		TransactionDate string          `json:"transactionDate"`
	} `json:"dist"`
}

func (c *Client) FetchShipments(ctx context.Context, creds courier.Credentials, from, to time.Time) (courier.FetchResult, error) {
	httpc, err := courier.HTTPClient(c.timeout, creds.ProxyURL)
	if err != nil {
		return courier.FetchResult{}, err
	}

	token, err := c.authToken(ctx, httpc, creds)
	if err != nil {
		return courier.FetchResult{}, err
	}

	listed, err := c.listOrders(ctx, httpc, token, from, to)
	if errors.Is(err, courier.ErrAuth) && c.tokens != nil {
		// Cached token may have been revoked upstream; drop it and
		// retry once with a fresh exchange.
		_ = c.tokens.Invalidate(ctx, creds.BrandID, c.Courier())
		token, err = c.authToken(ctx, httpc, creds)
		if err != nil {
			return courier.FetchResult{}, err
		}
		listed, err = c.listOrders(ctx, httpc, token, from, to)
	}
	if err != nil {
		return courier.FetchResult{}, err
	}

	return c.enrichWithPayments(ctx, httpc, token, listed), nil
}

func (c *Client) authToken(ctx context.Context, httpc *http.Client, creds courier.Credentials) (string, error) {
	if c.tokens != nil {
		if tok, err := c.tokens.Get(ctx, creds.BrandID, c.Courier()); err == nil && tok != "" {
			return tok, nil
		}
	}

	body, _ := json.Marshal(map[string]string{"apiKey": creds.APIKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/services/integration/api/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "token exchange")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", errors.Wrap(courier.ErrAuth, "token exchange rejected")
	}
	if resp.StatusCode/100 != 2 {
		return "", errors.Errorf("postex token http %d", resp.StatusCode)
	}

	var tr tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", errors.Wrap(err, "decode token")
	}
	if tr.Token == "" {
		return "", errors.New("postex token response empty")
	}

	if c.tokens != nil && tr.ExpiresIn > 0 {
		expiresAt := time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second)
		_ = c.tokens.Put(ctx, creds.BrandID, c.Courier(), tr.Token, expiresAt)
	}
	return tr.Token, nil
}

func (c *Client) listOrders(ctx context.Context, httpc *http.Client, token string, from, to time.Time) ([]listedOrder, error) {
	u := fmt.Sprintf("%s/services/integration/api/order/v2/get-all-order?startDate=%s&endDate=%s",
		c.baseURL, from.Format(dateParam), to.Format(dateParam))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new list request")
	}
	req.Header.Set("token", token)

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.Wrap(courier.ErrAuth, "list orders rejected")
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("postex list http %d", resp.StatusCode)
	}

	var lr listResp
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, errors.Wrap(err, "decode list")
	}
	return lr.Dist, nil
}

// enrichWithPayments fans out payment-detail calls with all-settle
// semantics: a shipment whose detail call fails stays in the result
// without settlement fields and is reported via Warnings.
func (c *Client) enrichWithPayments(ctx context.Context, httpc *http.Client, token string, listed []listedOrder) courier.FetchResult {
	type slot struct {
		raw  models.RawShipment
		warn string
	}
	slots := make([]slot, len(listed))

	sem := make(chan struct{}, detailConcurrency)
	var wg sync.WaitGroup
	for i, lo := range listed {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, lo listedOrder) {
			defer func() {
				<-sem
				wg.Done()
			}()
			raw := lo.toRawShipment()
			pr, err := c.fetchPayment(ctx, httpc, token, lo.TrackingNumber)
			if err != nil {
				if !errors.Is(err, courier.ErrNotFound) {
					slots[i] = slot{raw: raw, warn: fmt.Sprintf("payment detail %s: %v", lo.TrackingNumber, err)}
					return
				}
				// 404 means no settlement yet; the summary record is
				// complete enough on its own.
				slots[i] = slot{raw: raw}
				return
			}
			raw.TransactionFee = pr.Dist.TransactionFee
			raw.TransactionTax = pr.Dist.TransactionTax
			raw.ReversalFee = pr.Dist.ReversalFee
			raw.ReversalTax = pr.Dist.ReversalTax
			raw.UpfrontPayment = pr.Dist.UpfrontPayment
			if t := parseUpstreamTime(pr.Dist.TransactionDate); t != nil {
				raw.TransactionDate = t
			}
			slots[i] = slot{raw: raw}
		}(i, lo)
	}
	wg.Wait()

	res := courier.FetchResult{Shipments: make([]models.RawShipment, 0, len(slots))}
	for _, s := range slots {
		res.Shipments = append(res.Shipments, s.raw)
		if s.warn != "" {
			res.Warnings = append(res.Warnings, s.warn)
		}
	}
	return res
}

func (c *Client) fetchPayment(ctx context.Context, httpc *http.Client, token, trackingNumber string) (paymentResp, error) {
	u := fmt.Sprintf("%s/services/integration/api/order/payment-status/%s", c.baseURL, trackingNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return paymentResp{}, errors.Wrap(err, "new payment request")
	}
	req.Header.Set("token", token)

	resp, err := httpc.Do(req)
	if err != nil {
		return paymentResp{}, errors.Wrap(err, "payment detail")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return paymentResp{}, courier.ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return paymentResp{}, errors.Errorf("postex payment http %d", resp.StatusCode)
	}

	var pr paymentResp
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return paymentResp{}, errors.Wrap(err, "decode payment")
	}
	return pr, nil
}

func (lo listedOrder) toRawShipment() models.RawShipment {
	return models.RawShipment{
		TrackingNumber:    lo.TrackingNumber,
		OrderRefNumber:    lo.OrderRefNumber,
		CustomerName:      lo.CustomerName,
		CustomerPhone:     lo.CustomerPhone,
		DeliveryAddress:   lo.DeliveryAddress,
		CityName:          lo.CityName,
		OrderDetail:       lo.OrderDetail,
		OrderType:         lo.OrderType,
		OrderAmount:       lo.OrderAmount,
		InvoicePayment:    lo.InvoicePayment,
		OrderStatus:       lo.OrderStatus,
		TransactionStatus: lo.TransactionStatus,
		OrderDate:         parseUpstreamTime(lo.OrderDate),
		TransactionDate:   parseUpstreamTime(lo.TransactionDate),
	}
}

// parseUpstreamTime accepts the date shapes POSTEX is known to emit.
func parseUpstreamTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02/01/2006",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
