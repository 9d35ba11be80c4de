package messages

import (
	"time"

	"github.com/parcelops/courierdesk/internal/models"
)

// SyncCompleted is published after a live sync persisted its batch.
// Consumers (dashboards, chat notifiers) get the change summary without
// polling the API.
type SyncCompleted struct {
	BrandID     string               `json:"brand_id"`
	Courier     string               `json:"courier"`
	From        time.Time            `json:"from"`
	To          time.Time            `json:"to"`
	Source      string               `json:"source"`
	Records     int                  `json:"records"`
	Changes     models.ChangeSummary `json:"changes"`
	Warning     string               `json:"warning,omitempty"`
	CompletedAt time.Time            `json:"completed_at"`
}

// StorefrontOrderUpdated arrives from the storefront webhook bridge and
// is applied to the storefront store by the consumer loop.
type StorefrontOrderUpdated struct {
	BrandID           string `json:"brand_id"`
	StorefrontOrderID string `json:"storefront_order_id"`
	OrderNumber       string `json:"order_number"`
	OrderName         string `json:"order_name"`
	FinancialStatus   string `json:"financial_status"`
	FulfillmentStatus string `json:"fulfillment_status"`

	// Nested lists stay serialized on the wire and are parsed
	// defensively on apply.
	TrackingNumbersJSON string `json:"tracking_numbers_json,omitempty"`
	FulfillmentsJSON    string `json:"fulfillments_json,omitempty"`
}
