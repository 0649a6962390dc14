// Package api exposes the HTTP surface for triggering scans and polling
// their results. Execution is asynchronous: POST endpoints answer with a
// scan id once the row exists, and clients poll the scan resource.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"siteintel/internal/scan"
	"siteintel/internal/store"
	"siteintel/pkg/types"
)

// Trigger starts scan runs.
type Trigger interface {
	StartScan(ctx context.Context, rawURL string) (string, error)
	Rescan(ctx context.Context, domainID string) (string, error)
}

// Reader serves the polled views.
type Reader interface {
	GetScan(ctx context.Context, scanID string) (*types.Scan, error)
	GetDomain(ctx context.Context, domainID string) (*types.Domain, error)
	LatestDomainDataPoint(ctx context.Context, domainID string, key types.DataPointKey) (*types.DataPoint, error)
}

// Server exposes the HTTP API for scans and domains.
type Server struct {
	trigger Trigger
	reader  Reader
	mux     *http.ServeMux
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(trigger Trigger, reader Reader) *Server {
	s := &Server{
		trigger: trigger,
		reader:  reader,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/scans", s.handleScans)
	s.mux.HandleFunc("/api/scans/", s.handleScanByID)
	s.mux.HandleFunc("/api/domains/", s.handleDomainByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req StartScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json payload: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	scanID, err := s.trigger.StartScan(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, scan.ErrTooManyScans) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, StartScanResponse{ScanID: scanID})
}

func (s *Server) handleScanByID(w http.ResponseWriter, r *http.Request) {
	scanID, rest, ok := pathID(r.URL.Path, "/api/scans/")
	if !ok || rest != "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	sc, err := s.reader.GetScan(r.Context(), scanID)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse(sc))
}

func (s *Server) handleDomainByID(w http.ResponseWriter, r *http.Request) {
	domainID, rest, ok := pathID(r.URL.Path, "/api/domains/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case rest == "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s.getDomain(w, r, domainID)
	case rest == "rescan":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		s.rescanDomain(w, r, domainID)
	case strings.HasPrefix(rest, "data/"):
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s.getDomainDataPoint(w, r, domainID, strings.TrimPrefix(rest, "data/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request, domainID string) {
	d, err := s.reader.GetDomain(r.Context(), domainID)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, domainResponse(d))
}

func (s *Server) rescanDomain(w http.ResponseWriter, r *http.Request, domainID string) {
	scanID, err := s.trigger.Rescan(r.Context(), domainID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, scan.ErrTooManyScans):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, StartScanResponse{ScanID: scanID})
}

func (s *Server) getDomainDataPoint(w http.ResponseWriter, r *http.Request, domainID, key string) {
	if key == "" {
		http.NotFound(w, r)
		return
	}
	dp, err := s.reader.LatestDomainDataPoint(r.Context(), domainID, types.DataPointKey(key))
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dataPointResponse(dp))
}

// pathID splits "/prefix/{id}[/rest]" into its decoded id and remainder.
func pathID(path, prefix string) (id, rest string, ok bool) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	id, err := url.PathUnescape(parts[0])
	if err != nil || id == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		rest = parts[1]
	}
	return id, rest, true
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
