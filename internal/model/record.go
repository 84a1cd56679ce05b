package model

import (
	"strings"
	"time"
)

// MetadataRecord is one normalized billing line item extracted from a job's
// input. Records are immutable once written.
type MetadataRecord struct {
	ID            string            `json:"id"`
	JobID         string            `json:"job_id"`
	UserID        string            `json:"user_id"`
	ResourceID    string            `json:"resource_id"`
	Provider      string            `json:"provider"`
	ResourceType  string            `json:"resource_type"`
	Region        string            `json:"region,omitempty"`
	CostAmount    float64           `json:"cost_amount"`
	UsageQuantity float64           `json:"usage_quantity"`
	PeriodStart   time.Time         `json:"period_start"`
	PeriodEnd     time.Time         `json:"period_end"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Tag returns the value for key, with a case-insensitive fallback so rules
// match regardless of how the export capitalized tag keys.
func (r *MetadataRecord) Tag(key string) (string, bool) {
	if v, ok := r.Tags[key]; ok {
		return v, true
	}
	for k, v := range r.Tags {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
