package intel

import (
	"siteintel/pkg/types"
)

// Assessment is the weighted aggregation of all signal groups.
type Assessment struct {
	Phishing    int     `json:"phishing"`
	Fraud       int     `json:"fraud"`
	Compliance  int     `json:"compliance"`
	Overall     int     `json:"overall"`
	PrimaryRisk string  `json:"primary_risk"`
	Confidence  float64 `json:"confidence"`
}

const totalGroups = 8

// score combines sub-scores into per-risk-type scores, an overall
// score, the primary risk type, and a confidence that reflects how many
// signal groups resolved.
func score(r *Report) Assessment {
	a := Assessment{
		Phishing:   phishingScore(r),
		Fraud:      fraudScore(r),
		Compliance: complianceScore(r),
	}
	a.Overall = clampScore((a.Phishing*4 + a.Fraud*3 + a.Compliance*3) / 10)

	a.PrimaryRisk = "phishing"
	highest := a.Phishing
	if a.Fraud > highest {
		a.PrimaryRisk, highest = "fraud", a.Fraud
	}
	if a.Compliance > highest {
		a.PrimaryRisk = "compliance"
	}

	resolved := 0
	for _, present := range []bool{
		r.Reachability != nil,
		r.Redirects != nil,
		r.DNS != nil,
		r.TLS != nil,
		r.Headers != nil,
		r.Forms != nil,
		r.Policies != nil,
		r.Registration != nil,
	} {
		if present {
			resolved++
		}
	}
	a.Confidence = float64(resolved) / float64(totalGroups)
	return a
}

func phishingScore(r *Report) int {
	s := 0
	if r.TLS != nil {
		if !r.TLS.HasTLS {
			s += 30
		} else if !r.TLS.Valid {
			s += 25
		}
		if r.TLS.SelfSigned {
			s += 10
		}
	}
	if r.Redirects != nil {
		if r.Redirects.CrossDomain {
			s += 15
		}
		if r.Redirects.MetaRefresh || r.Redirects.JSRedirect {
			s += 10
		}
	}
	if r.Forms != nil {
		if r.Forms.ExternalFormAction {
			s += 20
		}
		if r.Forms.PasswordInputs > 0 && r.TLS != nil && !r.TLS.Valid {
			s += 15
		}
	}
	if r.Headers != nil && r.Headers.Present <= 1 {
		s += 10
	}
	if r.Registration != nil && r.Registration.RDAPAvailable && r.Registration.AgeDays > 0 && r.Registration.AgeDays < 180 {
		s += 15
	}
	return clampScore(s)
}

func fraudScore(r *Report) int {
	s := 0
	if r.Policies != nil {
		s += (4 - r.Policies.FoundCount) * 8
	}
	if r.DNS != nil {
		if !r.DNS.HasMX {
			s += 15
		}
		if !r.DNS.HasSPF && !r.DNS.HasDMARC {
			s += 10
		}
	}
	if r.Registration != nil && r.Registration.RDAPAvailable && r.Registration.AgeDays > 0 && r.Registration.AgeDays < 90 {
		s += 25
	}
	if r.Forms != nil && r.Forms.PaymentInputs > 0 && r.Policies != nil && !r.Policies.HasRefund {
		s += 15
	}
	return clampScore(s)
}

func complianceScore(r *Report) int {
	s := 0
	if r.Policies != nil {
		if !r.Policies.HasPrivacy {
			s += 30
		}
		if !r.Policies.HasTerms {
			s += 20
		}
	}
	if r.Headers != nil {
		if !r.Headers.HSTS {
			s += 10
		}
		if !r.Headers.CSP {
			s += 10
		}
	}
	if r.TLS != nil && r.TLS.HasTLS && r.TLS.DaysToExpiry < 14 {
		s += 10
	}
	return clampScore(s)
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func severityForScore(score int) string {
	switch {
	case score >= 70:
		return types.SeverityCritical
	case score >= 40:
		return types.SeverityWarning
	default:
		return types.SeverityInfo
	}
}
