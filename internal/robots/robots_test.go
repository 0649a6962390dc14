package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func robotsServer(t *testing.T, body string, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func targetURL(t *testing.T, base, path string) *url.URL {
	t.Helper()
	u, err := url.Parse(base + path)
	require.NoError(t, err)
	return u
}

func TestAllowedHonorsDisallowRules(t *testing.T) {
	server := robotsServer(t, "User-agent: *\nDisallow: /admin\n", http.StatusOK, nil)
	defer server.Close()

	a := NewAgent("testbot", time.Minute, server.Client())
	ctx := context.Background()

	assert.True(t, a.Allowed(ctx, targetURL(t, server.URL, "/shop")))
	assert.False(t, a.Allowed(ctx, targetURL(t, server.URL, "/admin/users")))
}

func TestAllowedPrefersSpecificAgentGroup(t *testing.T) {
	body := "User-agent: *\nDisallow:\n\nUser-agent: testbot\nDisallow: /\n"
	server := robotsServer(t, body, http.StatusOK, nil)
	defer server.Close()

	a := NewAgent("testbot", time.Minute, server.Client())
	assert.False(t, a.Allowed(context.Background(), targetURL(t, server.URL, "/anything")))
}

func TestAllowedFailsOpenOnServerErrors(t *testing.T) {
	server := robotsServer(t, "", http.StatusInternalServerError, nil)
	defer server.Close()

	a := NewAgent("testbot", time.Minute, server.Client())
	assert.True(t, a.Allowed(context.Background(), targetURL(t, server.URL, "/anywhere")))
}

func TestAllowedFailsOpenWhenHostIsDown(t *testing.T) {
	a := NewAgent("testbot", time.Minute, &http.Client{Timeout: 200 * time.Millisecond})
	u, _ := url.Parse("http://127.0.0.1:1/page")
	assert.True(t, a.Allowed(context.Background(), u))
}

func TestCacheAvoidsRefetchWithinTTL(t *testing.T) {
	var hits atomic.Int32
	server := robotsServer(t, "User-agent: *\nDisallow: /admin\n", http.StatusOK, &hits)
	defer server.Close()

	a := NewAgent("testbot", time.Minute, server.Client())
	ctx := context.Background()

	a.Allowed(ctx, targetURL(t, server.URL, "/a"))
	a.Allowed(ctx, targetURL(t, server.URL, "/b"))
	a.Allowed(ctx, targetURL(t, server.URL, "/c"))
	assert.Equal(t, int32(1), hits.Load())

	u, _ := url.Parse(server.URL)
	a.Purge(u.Host)
	a.Allowed(ctx, targetURL(t, server.URL, "/d"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestSitemapsFromRobots(t *testing.T) {
	body := "User-agent: *\nDisallow:\nSitemap: https://example.com/sitemap.xml\nSitemap: https://example.com/sitemap-products.xml\n"
	server := robotsServer(t, body, http.StatusOK, nil)
	defer server.Close()

	a := NewAgent("testbot", time.Minute, server.Client())
	sitemaps := a.Sitemaps(context.Background(), targetURL(t, server.URL, "/"))
	assert.Equal(t, []string{
		"https://example.com/sitemap.xml",
		"https://example.com/sitemap-products.xml",
	}, sitemaps)
}
