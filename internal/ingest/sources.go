package ingest

import (
	"strings"

	"github.com/sightline-analytics/costlens/internal/model"
)

// Source tags accepted at submission. "auto" defers provider detection to the
// header row of the uploaded file.
const (
	SourceAuto    = "auto"
	SourceGeneric = "generic"
	SourceAWSCUR  = "aws_cur"
	SourceGCP     = "gcp_billing"
	SourceAzure   = "azure_usage"
)

// columnMapping maps a normalized field to the column header carrying it in a
// provider's billing export. Headers are matched case-insensitively.
type columnMapping struct {
	Source       string
	Provider     string // fixed provider; empty means read the ProviderCol column
	ProviderCol  string // provider column, generic format only
	Date         string
	DateEnd      string // optional period end column
	ResourceType string
	ResourceID   string
	Cost         string
	Usage        string
	Region       string
	Tags         string
}

var sourceMappings = map[string]columnMapping{
	SourceGeneric: {
		Source:       SourceGeneric,
		Date:         "date",
		ProviderCol:  "provider",
		ResourceType: "resource_type",
		ResourceID:   "resource_id",
		Cost:         "cost",
		Usage:        "usage",
		Region:       "region",
		Tags:         "tags",
	},
	SourceAWSCUR: {
		Source:       SourceAWSCUR,
		Provider:     "aws",
		Date:         "line_item_usage_start_date",
		DateEnd:      "line_item_usage_end_date",
		ResourceType: "line_item_product_code",
		ResourceID:   "line_item_resource_id",
		Cost:         "line_item_blended_cost",
		Usage:        "line_item_usage_amount",
		Region:       "product_region_code",
		Tags:         "resource_tags",
	},
	SourceGCP: {
		Source:       SourceGCP,
		Provider:     "gcp",
		Date:         "usage_start_time",
		DateEnd:      "usage_end_time",
		ResourceType: "service.description",
		ResourceID:   "resource.name",
		Cost:         "cost",
		Usage:        "usage.amount",
		Region:       "location.location",
		Tags:         "labels",
	},
	SourceAzure: {
		Source:       SourceAzure,
		Provider:     "azure",
		Date:         "usagestarttime",
		DateEnd:      "usageendtime",
		ResourceType: "metercategory",
		ResourceID:   "resourceid",
		Cost:         "cost",
		Usage:        "quantity",
		Region:       "resourcelocation",
		Tags:         "tags",
	},
}

// ValidSource reports whether the submitted source tag is recognized.
func ValidSource(source string) bool {
	if source == SourceAuto {
		return true
	}
	_, ok := sourceMappings[source]
	return ok
}

// mappingFor resolves the column mapping for a source tag. For SourceAuto the
// mapping is detected from the header row.
func mappingFor(source string, headers []string) (columnMapping, error) {
	if source == SourceAuto {
		return detectMapping(headers)
	}
	m, ok := sourceMappings[source]
	if !ok {
		return columnMapping{}, model.NewValidationError("unknown source tag: %s", source)
	}
	return m, nil
}

// detectMapping identifies the billing export format from its header row.
// Each provider's export carries columns no other format uses.
func detectMapping(headers []string) (columnMapping, error) {
	set := make(map[string]bool, len(headers))
	for _, h := range headers {
		set[strings.ToLower(strings.TrimSpace(h))] = true
	}

	switch {
	case set["line_item_resource_id"] || set["bill_payer_account_id"] || set["line_item_product_code"]:
		return sourceMappings[SourceAWSCUR], nil
	case set["resource.name"] || set["service.description"] || set["sku.description"]:
		return sourceMappings[SourceGCP], nil
	case set["resourceid"] || set["subscriptionid"] || set["metercategory"]:
		return sourceMappings[SourceAzure], nil
	case set["resource_id"] && set["provider"] && set["cost"]:
		return sourceMappings[SourceGeneric], nil
	}
	return columnMapping{}, model.NewValidationError("could not detect billing format from headers")
}

// ParseTags parses a comma-separated key:value list into a tag map. Entries
// without a colon are ignored; keys are trimmed, values keep inner spacing.
func ParseTags(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		tags[k] = strings.TrimSpace(v)
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
