package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteintel/internal/scan"
	"siteintel/internal/store"
	"siteintel/pkg/types"
)

type fakeTrigger struct {
	startErr  error
	rescanErr error
	lastURL   string
}

func (f *fakeTrigger) StartScan(_ context.Context, rawURL string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.lastURL = rawURL
	return "scan-123", nil
}

func (f *fakeTrigger) Rescan(_ context.Context, domainID string) (string, error) {
	if f.rescanErr != nil {
		return "", f.rescanErr
	}
	return "scan-456", nil
}

type fakeReader struct {
	scan   *types.Scan
	domain *types.Domain
	point  *types.DataPoint
}

func (f *fakeReader) GetScan(_ context.Context, scanID string) (*types.Scan, error) {
	if f.scan == nil || f.scan.ID != scanID {
		return nil, store.ErrNotFound
	}
	return f.scan, nil
}

func (f *fakeReader) GetDomain(_ context.Context, domainID string) (*types.Domain, error) {
	if f.domain == nil || f.domain.ID != domainID {
		return nil, store.ErrNotFound
	}
	return f.domain, nil
}

func (f *fakeReader) LatestDomainDataPoint(_ context.Context, domainID string, key types.DataPointKey) (*types.DataPoint, error) {
	if f.point == nil || f.point.Key != key {
		return nil, store.ErrNotFound
	}
	return f.point, nil
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	server := NewServer(&fakeTrigger{}, &fakeReader{})

	rr := doRequest(t, server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rr = doRequest(t, server, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestStartScanAccepted(t *testing.T) {
	trigger := &fakeTrigger{}
	server := NewServer(trigger, &fakeReader{})

	rr := doRequest(t, server, http.MethodPost, "/api/scans", `{"url": "https://example.com"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp StartScanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "scan-123", resp.ScanID)
	assert.Equal(t, "https://example.com", trigger.lastURL)
}

func TestStartScanBadRequests(t *testing.T) {
	server := NewServer(&fakeTrigger{}, &fakeReader{})

	rr := doRequest(t, server, http.MethodPost, "/api/scans", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, server, http.MethodPost, "/api/scans", `{"url": "  "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, server, http.MethodGet, "/api/scans", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestStartScanOverCapacity(t *testing.T) {
	server := NewServer(&fakeTrigger{startErr: scan.ErrTooManyScans}, &fakeReader{})

	rr := doRequest(t, server, http.MethodPost, "/api/scans", `{"url": "https://example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestGetScan(t *testing.T) {
	reader := &fakeReader{scan: &types.Scan{
		ID:        "scan-123",
		DomainID:  "domain-1",
		TargetURL: "https://example.com/",
		Status:    types.ScanProcessing,
		CreatedAt: time.Now(),
	}}
	server := NewServer(&fakeTrigger{}, reader)

	rr := doRequest(t, server, http.MethodGet, "/api/scans/scan-123", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ScanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "processing", resp.Status)
	assert.Nil(t, resp.CheckedAt)

	rr = doRequest(t, server, http.MethodGet, "/api/scans/unknown", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRescanDomain(t *testing.T) {
	server := NewServer(&fakeTrigger{}, &fakeReader{})

	rr := doRequest(t, server, http.MethodPost, "/api/domains/domain-1/rescan", "")
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp StartScanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "scan-456", resp.ScanID)

	missing := NewServer(&fakeTrigger{rescanErr: store.ErrNotFound}, &fakeReader{})
	rr = doRequest(t, missing, http.MethodPost, "/api/domains/nope/rescan", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetDomainAndDataPoint(t *testing.T) {
	reader := &fakeReader{
		domain: &types.Domain{ID: "domain-1", Hostname: "example.com", IsActive: true, CreatedAt: time.Now()},
		point: &types.DataPoint{
			Key:         types.KeyPolicyLinks,
			Label:       "Policy pages",
			Payload:     json.RawMessage(`{"privacy":"https://example.com/privacy"}`),
			ExtractedAt: time.Now(),
		},
	}
	server := NewServer(&fakeTrigger{}, reader)

	rr := doRequest(t, server, http.MethodGet, "/api/domains/domain-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var d DomainResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.Equal(t, "example.com", d.Hostname)

	rr = doRequest(t, server, http.MethodGet, "/api/domains/domain-1/data/policy_links", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var dp DataPointResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dp))
	assert.Equal(t, "policy_links", dp.Key)

	rr = doRequest(t, server, http.MethodGet, "/api/domains/domain-1/data/contact_details", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
