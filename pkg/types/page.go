package types

import (
	"net/http"
	"net/url"
	"time"
)

// FetchRequest models a single page retrieval submitted to a fetcher.
type FetchRequest struct {
	URL    *url.URL
	Source string
	Render bool
}

// Page represents fetched content plus response metadata.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	Rendered        bool
	ResponseLatency time.Duration
}
