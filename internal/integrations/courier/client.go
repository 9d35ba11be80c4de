// Package courier defines the upstream adapter surface. Each courier
// implementation lives in its own subpackage and normalizes that
// upstream's payload into models.RawShipment values; everything past
// this boundary is courier-agnostic.
package courier

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/parcelops/courierdesk/internal/models"
)

// Sentinel upstream failures. Everything else returned by an adapter is
// treated as transient by the orchestrator.
var (
	// ErrAuth marks an expired or invalid tenant credential (HTTP 401).
	ErrAuth = errors.New("courier: unauthorized")

	// ErrNotFound marks a single-record 404; callers convert it to a
	// soft miss, never a failure.
	ErrNotFound = errors.New("courier: not found")
)

// Credentials are per-request tenant secrets. Which fields matter
// depends on the courier: POSTEX exchanges APIKey for a bearer token,
// TRAX sends APIKey as a header, MNP logs in with Username/Password.
type Credentials struct {
	BrandID  string
	APIKey   string
	Username string
	Password string

	// ProxyURL optionally routes the upstream call through a tenant
	// proxy.
	ProxyURL string
}

// FetchResult carries the normalized batch plus per-item warnings for
// records that could not be fetched or parsed. A failed item never
// aborts its siblings.
type FetchResult struct {
	Shipments []models.RawShipment
	Warnings  []string
}

type Client interface {
	Courier() string
	FetchShipments(ctx context.Context, creds Credentials, from, to time.Time) (FetchResult, error)
}

// Registry is the closed set of courier strategies, selected by code.
type Registry map[string]Client

func NewRegistry(clients ...Client) Registry {
	r := make(Registry, len(clients))
	for _, c := range clients {
		r[c.Courier()] = c
	}
	return r
}

func (r Registry) Get(code string) (Client, error) {
	c, ok := r[code]
	if !ok {
		return nil, errors.Errorf("courier: no adapter registered for %q", code)
	}
	return c, nil
}

// HTTPClient builds the http.Client adapters share: a hard timeout per
// call and an optional per-tenant proxy.
func HTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	c := &http.Client{Timeout: timeout}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse proxy url")
		}
		c.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
	return c, nil
}
