// Package fake is an in-memory courier adapter for tests and local runs
// without upstream credentials.
package fake

import (
	"context"
	"time"

	"github.com/parcelops/courierdesk/internal/integrations/courier"
	"github.com/parcelops/courierdesk/internal/models"
)

// Client returns a scripted batch and can be armed to fail, so the
// orchestrator's fallback path is exercisable without a network.
type Client struct {
	Code      string
	Shipments []models.RawShipment
	Warnings  []string
	Err       error

	Calls     int
	LastFrom  time.Time
	LastTo    time.Time
	LastCreds courier.Credentials
}

func New(code string) *Client {
	if code == "" {
		code = models.CourierPostex
	}
	return &Client{Code: code}
}

func (c *Client) Courier() string { return c.Code }

func (c *Client) FetchShipments(_ context.Context, creds courier.Credentials, from, to time.Time) (courier.FetchResult, error) {
	c.Calls++
	c.LastCreds = creds
	c.LastFrom = from
	c.LastTo = to
	if c.Err != nil {
		return courier.FetchResult{}, c.Err
	}
	out := make([]models.RawShipment, len(c.Shipments))
	copy(out, c.Shipments)
	return courier.FetchResult{Shipments: out, Warnings: c.Warnings}, nil
}
