package models

import "time"

// Alert types.
const (
	AlertStuckInTransit  = "stuck_in_transit"
	AlertReturnSpike     = "return_spike"
	AlertPerformanceDrop = "performance_drop"
)

// Alert severities, ordered critical > warning > info.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert is computed per request and never persisted.
type Alert struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func SeverityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}
