// Package mnpportal scrapes the MNP merchant portal. There is no API:
// the client performs a form login, requests the COD statement page for
// the date window and walks the HTML table into RawShipment values.
package mnpportal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"github.com/parcelops/courierdesk/internal/integrations/courier"
	"github.com/parcelops/courierdesk/internal/models"
)

const dateParam = "2006-01-02"

type Client struct {
	baseURL string
	timeout time.Duration
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://merchant.mulphilog.com"
	}
	return &Client{baseURL: baseURL, timeout: 45 * time.Second}
}

func (c *Client) Courier() string { return models.CourierMnp }

func (c *Client) FetchShipments(ctx context.Context, creds courier.Credentials, from, to time.Time) (courier.FetchResult, error) {
	httpc, err := courier.HTTPClient(c.timeout, creds.ProxyURL)
	if err != nil {
		return courier.FetchResult{}, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return courier.FetchResult{}, errors.Wrap(err, "cookie jar")
	}
	httpc.Jar = jar

	if err := c.login(ctx, httpc, creds); err != nil {
		return courier.FetchResult{}, err
	}

	doc, err := c.fetchStatement(ctx, httpc, from, to)
	if err != nil {
		return courier.FetchResult{}, err
	}

	return parseStatement(doc)
}

func (c *Client) login(ctx context.Context, httpc *http.Client, creds courier.Credentials) error {
	form := url.Values{
		"username": {creds.Username},
		"password": {creds.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/portal/login", strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "new login request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "portal login")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.Wrap(courier.ErrAuth, "portal login rejected")
	}
	if resp.StatusCode/100 != 2 && resp.StatusCode/100 != 3 {
		return errors.Errorf("mnp login http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) fetchStatement(ctx context.Context, httpc *http.Client, from, to time.Time) (*html.Node, error) {
	u := fmt.Sprintf("%s/portal/cod-statement?from=%s&to=%s",
		c.baseURL, from.Format(dateParam), to.Format(dateParam))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new statement request")
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch statement")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("mnp statement http %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "parse statement html")
	}
	return doc, nil
}

// Statement table columns in portal order.
const (
	colTracking = iota
	colOrderRef
	colConsignee
	colPhone
	colDestination
	colCodAmount
	colStatus
	colBookingDate
	statementCols = 8
)

func parseStatement(doc *html.Node) (courier.FetchResult, error) {
	table := findStatementTable(doc)
	if table == nil {
		// The portal serves the login form again when the session is
		// missing or expired; a page without the table means auth.
		return courier.FetchResult{}, errors.Wrap(courier.ErrAuth, "statement table not present")
	}

	var res courier.FetchResult
	for _, row := range tableRows(table) {
		cells := rowCells(row)
		if len(cells) < statementCols {
			continue // header or malformed row
		}
		raw, warn := rowToRawShipment(cells)
		if raw.TrackingNumber == "" {
			continue
		}
		res.Shipments = append(res.Shipments, raw)
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
	}
	return res, nil
}

func rowToRawShipment(cells []string) (models.RawShipment, string) {
	raw := models.RawShipment{
		TrackingNumber:    cells[colTracking],
		OrderRefNumber:    cells[colOrderRef],
		CustomerName:      cells[colConsignee],
		CustomerPhone:     cells[colPhone],
		CityName:          cells[colDestination],
		OrderStatus:       cells[colStatus],
		TransactionStatus: cells[colStatus],
	}

	var warn string
	amt, err := parseAmount(cells[colCodAmount])
	if err != nil {
		warn = fmt.Sprintf("bad amount %q for %s", cells[colCodAmount], raw.TrackingNumber)
	}
	raw.InvoicePayment = amt
	raw.OrderAmount = amt

	if t := parseDate(cells[colBookingDate]); t != nil {
		raw.OrderDate = t
	}
	return raw, warn
}

func findStatementTable(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "table" {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == "codStatement" {
				return n
			}
			if a.Key == "class" && strings.Contains(a.Val, "statement") {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findStatementTable(c); t != nil {
			return t
		}
	}
	return nil
}

func tableRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			rows = append(rows, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func rowCells(row *html.Node) []string {
	var cells []string
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cells = append(cells, strings.TrimSpace(nodeText(c)))
		}
	}
	return cells
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

// parseAmount handles the portal's "Rs. 1,500.00" money formatting.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Rs.")
	s = strings.TrimPrefix(s, "Rs")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse amount")
	}
	return d, nil
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"02-Jan-2006", "2006-01-02", "02/01/2006"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
