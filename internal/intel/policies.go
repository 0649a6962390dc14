package intel

import (
	"strconv"

	"siteintel/pkg/types"
)

// PolicyGroup records which policy pages the site publishes. It reads
// the just-persisted policy_links extraction rather than re-crawling.
type PolicyGroup struct {
	HasPrivacy  bool `json:"has_privacy"`
	HasTerms    bool `json:"has_terms"`
	HasRefund   bool `json:"has_refund"`
	HasShipping bool `json:"has_shipping"`
	FoundCount  int  `json:"found_count"`
}

func (c *Collector) collectPolicies(in Input, rec *recorder) *PolicyGroup {
	if in.PolicyLinks == nil {
		return nil
	}
	links := in.PolicyLinks
	group := &PolicyGroup{
		HasPrivacy:  links.Privacy != "",
		HasTerms:    links.Terms != "",
		HasRefund:   links.Refund != "",
		HasShipping: links.Shipping != "",
		FoundCount:  links.Found(),
	}

	rec.add("policies", "has_privacy", strconv.FormatBool(group.HasPrivacy), boolSeverity(!group.HasPrivacy, types.SeverityWarning))
	rec.add("policies", "has_terms", strconv.FormatBool(group.HasTerms), boolSeverity(!group.HasTerms, types.SeverityWarning))
	rec.add("policies", "has_refund", strconv.FormatBool(group.HasRefund), types.SeverityInfo)
	rec.add("policies", "has_shipping", strconv.FormatBool(group.HasShipping), types.SeverityInfo)

	return group
}
