package api

import (
	"encoding/json"
	"time"

	"siteintel/pkg/types"
)

// StartScanRequest is the payload for POST /api/scans.
type StartScanRequest struct {
	URL string `json:"url"`
}

// StartScanResponse acknowledges an accepted scan.
type StartScanResponse struct {
	ScanID string `json:"scan_id"`
}

// ScanResponse is the polled view of a scan row.
type ScanResponse struct {
	ID         string     `json:"id"`
	DomainID   string     `json:"domain_id"`
	TargetURL  string     `json:"target_url"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	IsActive   bool       `json:"is_active"`
	StatusCode int        `json:"status_code,omitempty"`
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func scanResponse(sc *types.Scan) ScanResponse {
	resp := ScanResponse{
		ID:         sc.ID,
		DomainID:   sc.DomainID,
		TargetURL:  sc.TargetURL,
		Status:     string(sc.Status),
		Error:      sc.Error,
		IsActive:   sc.IsActive,
		StatusCode: sc.StatusCode,
		CreatedAt:  sc.CreatedAt,
	}
	if !sc.CheckedAt.IsZero() {
		t := sc.CheckedAt
		resp.CheckedAt = &t
	}
	return resp
}

// DomainResponse is the view of a domain row.
type DomainResponse struct {
	ID         string     `json:"id"`
	Hostname   string     `json:"hostname"`
	IsActive   bool       `json:"is_active"`
	StatusCode int        `json:"status_code,omitempty"`
	ManualRisk string     `json:"manual_risk,omitempty"`
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func domainResponse(d *types.Domain) DomainResponse {
	resp := DomainResponse{
		ID:         d.ID,
		Hostname:   d.Hostname,
		IsActive:   d.IsActive,
		StatusCode: d.StatusCode,
		ManualRisk: d.ManualRisk,
		CreatedAt:  d.CreatedAt,
	}
	if !d.CheckedAt.IsZero() {
		t := d.CheckedAt
		resp.CheckedAt = &t
	}
	return resp
}

// DataPointResponse is the latest per-domain value for one key.
type DataPointResponse struct {
	Key         string          `json:"key"`
	Label       string          `json:"label"`
	Payload     json.RawMessage `json:"payload"`
	Sources     []string        `json:"sources,omitempty"`
	ExtractedAt time.Time       `json:"extracted_at"`
}

func dataPointResponse(dp *types.DataPoint) DataPointResponse {
	return DataPointResponse{
		Key:         string(dp.Key),
		Label:       dp.Label,
		Payload:     dp.Payload,
		Sources:     dp.Sources,
		ExtractedAt: dp.ExtractedAt,
	}
}
