package correlator

import (
	"strings"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
)

// keyRule describes how one key component is derived: try the attribute
// candidates in order, then fall back to the record's entity string when it
// carries the type hint. The rules are evaluated deterministically; order
// matters and mirrors the upstream normalizer's field names.
type keyRule struct {
	component  string
	attributes []string
	entityHint string
}

var keyRules = []keyRule{
	{component: "username", attributes: []string{"username", "user"}, entityHint: "user"},
	{component: "host", attributes: []string{"host", "hostname"}, entityHint: "host"},
	{component: "src_ip", attributes: []string{"src_ip"}, entityHint: "ip"},
}

// ExtractKey derives the (username, host, src_ip) correlation key for a record.
// Each component prefers an explicit event attribute and falls back to the
// entity identifier only when the entity string hints at the component's type.
// Missing components resolve to the empty string.
func ExtractKey(rec models.AnomalyRecord) models.CorrelationKey {
	values := make(map[string]string, len(keyRules))
	for _, rule := range keyRules {
		values[rule.component] = applyRule(rec, rule)
	}
	return models.CorrelationKey{
		Username: values["username"],
		Host:     values["host"],
		SrcIP:    values["src_ip"],
	}
}

func applyRule(rec models.AnomalyRecord, rule keyRule) string {
	for _, attr := range rule.attributes {
		if v := rec.StringAttr(attr); v != "" {
			return v
		}
	}
	if rec.Entity != "" && strings.Contains(strings.ToLower(rec.Entity), rule.entityHint) {
		return rec.Entity
	}
	return ""
}
